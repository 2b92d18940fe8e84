package consent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	DELETE(path string) error
	GetResponseField(field string) (interface{}, error)
	ResponseContains(field string) bool
}

// RegisterSteps registers consent banner step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc}

	// Visitor actions
	ctx.Step(`^I load the page$`, steps.loadPage)
	ctx.Step(`^I load the banner markup$`, steps.loadBanner)
	ctx.Step(`^I click "(accept-all|accept-necessary|reject)"$`, steps.clickBannerButton)
	ctx.Step(`^I open the cookie settings$`, steps.openSettings)
	ctx.Step(`^I close the cookie settings$`, steps.closeSettings)
	ctx.Step(`^I save settings with analytics "(on|off)" and marketing "(on|off)"$`, steps.saveSettings)
	ctx.Step(`^I accept selected with analytics "(on|off)" and marketing "(on|off)"$`, steps.acceptSelected)
	ctx.Step(`^I reset my consent$`, steps.resetConsent)
	ctx.Step(`^I verify the receipt$`, steps.verifyReceipt)

	// Consent assertions
	ctx.Step(`^the banner should be visible$`, steps.bannerShouldBe(true))
	ctx.Step(`^the banner should be hidden$`, steps.bannerShouldBe(false))
	ctx.Step(`^the settings modal should be visible$`, steps.modalShouldBe(true))
	ctx.Step(`^the consent state should be "([^"]*)"$`, steps.stateShouldBe)
	ctx.Step(`^the consent should have "(necessary|analytics|marketing)" equal to "(true|false)"$`, steps.consentShouldHave)
	ctx.Step(`^no consent should be stored$`, steps.noConsentStored)
	ctx.Step(`^consent mode should grant "([^"]*)"$`, steps.consentModeShouldGrant(true))
	ctx.Step(`^consent mode should not grant "([^"]*)"$`, steps.consentModeShouldGrant(false))
	ctx.Step(`^the response should include a receipt$`, steps.responseShouldIncludeReceipt)
	ctx.Step(`^the page should be asked to reload$`, steps.pageShouldReload)
}

type consentSteps struct {
	tc      TestContext
	receipt string
}

func (s *consentSteps) loadPage(context.Context) error {
	return s.tc.GET("/consent", nil)
}

func (s *consentSteps) loadBanner(context.Context) error {
	return s.tc.GET("/consent/banner", nil)
}

func (s *consentSteps) clickBannerButton(_ context.Context, button string) error {
	if err := s.tc.POST("/consent/"+button, nil); err != nil {
		return err
	}
	s.rememberReceipt()
	return nil
}

func (s *consentSteps) openSettings(context.Context) error {
	return s.tc.POST("/consent/settings", nil)
}

func (s *consentSteps) closeSettings(context.Context) error {
	return s.tc.POST("/consent/settings/close", nil)
}

func (s *consentSteps) saveSettings(_ context.Context, analytics, marketing string) error {
	return s.submitSelection("/consent/settings/save", analytics, marketing)
}

func (s *consentSteps) acceptSelected(_ context.Context, analytics, marketing string) error {
	return s.submitSelection("/consent/settings/accept-selected", analytics, marketing)
}

func (s *consentSteps) submitSelection(path, analytics, marketing string) error {
	body := map[string]interface{}{
		"analytics": analytics == "on",
		"marketing": marketing == "on",
	}
	if err := s.tc.POST(path, body); err != nil {
		return err
	}
	s.rememberReceipt()
	return nil
}

func (s *consentSteps) resetConsent(context.Context) error {
	return s.tc.DELETE("/consent")
}

func (s *consentSteps) verifyReceipt(context.Context) error {
	if s.receipt == "" {
		return fmt.Errorf("no receipt was issued in this scenario")
	}
	return s.tc.POST("/consent/receipt/verify", map[string]interface{}{"receipt": s.receipt})
}

func (s *consentSteps) rememberReceipt() {
	if v, err := s.tc.GetResponseField("receipt"); err == nil {
		if token, ok := v.(string); ok {
			s.receipt = token
		}
	}
}

func (s *consentSteps) bannerShouldBe(visible bool) func(context.Context) error {
	return func(context.Context) error {
		return s.boolField("banner_visible", visible)
	}
}

func (s *consentSteps) modalShouldBe(visible bool) func(context.Context) error {
	return func(context.Context) error {
		return s.boolField("modal_visible", visible)
	}
}

func (s *consentSteps) boolField(field string, expected bool) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got, ok := v.(bool); !ok || got != expected {
		return fmt.Errorf("expected %s to be %t, got %v", field, expected, v)
	}
	return nil
}

func (s *consentSteps) stateShouldBe(_ context.Context, state string) error {
	v, err := s.tc.GetResponseField("state")
	if err != nil {
		return err
	}
	if v != state {
		return fmt.Errorf("expected state %q, got %v", state, v)
	}
	return nil
}

func (s *consentSteps) consentShouldHave(_ context.Context, category, expected string) error {
	v, err := s.tc.GetResponseField("consent")
	if err != nil {
		return err
	}
	record, ok := v.(map[string]interface{})
	if !ok {
		return fmt.Errorf("expected a consent record, got %v", v)
	}
	want, _ := strconv.ParseBool(expected)
	if got, ok := record[category].(bool); !ok || got != want {
		return fmt.Errorf("expected consent %s=%t, got %v", category, want, record[category])
	}
	return nil
}

func (s *consentSteps) noConsentStored(context.Context) error {
	if s.tc.ResponseContains("consent") {
		v, _ := s.tc.GetResponseField("consent")
		return fmt.Errorf("expected no consent record, got %v", v)
	}
	return nil
}

func (s *consentSteps) consentModeShouldGrant(granted bool) func(context.Context, string) error {
	return func(_ context.Context, key string) error {
		var directives map[string]interface{}
		if s.tc.ResponseContains("consent_mode") {
			v, _ := s.tc.GetResponseField("consent_mode")
			directives, _ = v.(map[string]interface{})
		}
		got := directives[key] == "granted"
		if got != granted {
			return fmt.Errorf("expected consent mode %s granted=%t, got %v", key, granted, directives)
		}
		return nil
	}
}

func (s *consentSteps) responseShouldIncludeReceipt(context.Context) error {
	v, err := s.tc.GetResponseField("receipt")
	if err != nil {
		return err
	}
	if token, ok := v.(string); !ok || token == "" {
		return fmt.Errorf("expected a receipt, got %v", v)
	}
	return nil
}

func (s *consentSteps) pageShouldReload(context.Context) error {
	return s.boolField("reload", true)
}
