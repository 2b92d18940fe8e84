package common

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	NewVisitor()
	GET(path string, headers map[string]string) error
	GetLastStatusCode() int
	GetLastResponseBody() []byte
	GetLastHeader(name string) string
	GetResponseField(field string) (interface{}, error)
	HasCookie(name string) bool
}

// RegisterSteps registers visitor setup and generic response assertions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the consent service is running$`, steps.serviceIsRunning)
	ctx.Step(`^a new visitor$`, steps.newVisitor)

	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.responseFieldShouldBe)
	ctx.Step(`^the response body should contain "([^"]*)"$`, steps.responseBodyShouldContain)
	ctx.Step(`^the error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^I should have the "([^"]*)" cookie$`, steps.shouldHaveCookie)
	ctx.Step(`^I should not have the "([^"]*)" cookie$`, steps.shouldNotHaveCookie)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) serviceIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/health/live", nil); err != nil {
		return err
	}
	return s.responseStatusShouldBe(ctx, 200)
}

func (s *commonSteps) newVisitor(context.Context) error {
	s.tc.NewVisitor()
	return nil
}

func (s *commonSteps) responseStatusShouldBe(_ context.Context, status int) error {
	if got := s.tc.GetLastStatusCode(); got != status {
		return fmt.Errorf("expected status %d, got %d: %s", status, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBe(_ context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(v); got != expected {
		return fmt.Errorf("expected %s=%q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) responseBodyShouldContain(_ context.Context, fragment string) error {
	if !strings.Contains(string(s.tc.GetLastResponseBody()), fragment) {
		return fmt.Errorf("response body does not contain %q", fragment)
	}
	return nil
}

func (s *commonSteps) errorShouldBe(ctx context.Context, code string) error {
	return s.responseFieldShouldBe(ctx, "error", code)
}

func (s *commonSteps) shouldHaveCookie(_ context.Context, name string) error {
	if !s.tc.HasCookie(name) {
		return fmt.Errorf("expected cookie %q to be set", name)
	}
	return nil
}

func (s *commonSteps) shouldNotHaveCookie(_ context.Context, name string) error {
	if s.tc.HasCookie(name) {
		return fmt.Errorf("expected cookie %q to be absent", name)
	}
	return nil
}
