package handler

import (
	"strings"

	"consentkit/internal/consent/models"
	dErrors "consentkit/pkg/domain-errors"
)

// SelectionRequest is the settings modal submitted as JSON.
type SelectionRequest struct {
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

func (r *SelectionRequest) Selection() models.Selection {
	return models.Selection{Analytics: r.Analytics, Marketing: r.Marketing}
}

// VerifyReceiptRequest carries a receipt previously handed to the visitor.
type VerifyReceiptRequest struct {
	Receipt string `json:"receipt"`
}

// Normalize drops whitespace picked up when a receipt is copied from a page or log.
func (r *VerifyReceiptRequest) Normalize() {
	r.Receipt = strings.TrimSpace(r.Receipt)
}

func (r *VerifyReceiptRequest) Validate() error {
	if r.Receipt == "" {
		return dErrors.New(dErrors.CodeValidation, "receipt is required")
	}
	return nil
}
