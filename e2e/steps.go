package e2e

import (
	"github.com/cucumber/godog"

	"consentkit/e2e/steps/common"
	"consentkit/e2e/steps/consent"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (visitor setup, generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register consent banner steps
	consent.RegisterSteps(ctx, tc)
}
