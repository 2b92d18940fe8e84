package handler

import (
	"time"

	"consentkit/internal/consent/models"
	"consentkit/internal/consent/receipt"
)

// ConsentResponse is the visitor's consent after a page load or control.
type ConsentResponse struct {
	State         models.State      `json:"state"`
	Outcome       models.Outcome    `json:"outcome,omitempty"`
	Consent       *models.Record    `json:"consent,omitempty"`
	BannerVisible bool              `json:"banner_visible"`
	ModalVisible  bool              `json:"modal_visible"`
	Settings      []SettingResponse `json:"settings"`
	ConsentMode   map[string]string `json:"consent_mode,omitempty"`
	Receipt       string            `json:"receipt,omitempty"`
	Reload        bool              `json:"reload,omitempty"`
}

// SettingResponse is one checkbox of the settings modal.
type SettingResponse struct {
	Category models.Category `json:"category"`
	Checked  bool            `json:"checked"`
	Disabled bool            `json:"disabled"`
}

func toConsentResponse(snap models.Snapshot, directives map[string]string, token string, reload bool) ConsentResponse {
	settings := make([]SettingResponse, 0, len(snap.View.Categories))
	for _, c := range snap.View.Categories {
		settings = append(settings, SettingResponse{Category: c.Category, Checked: c.Checked, Disabled: c.Disabled})
	}
	return ConsentResponse{
		State:         snap.State,
		Outcome:       snap.Outcome,
		Consent:       snap.Record,
		BannerVisible: snap.View.BannerVisible,
		ModalVisible:  snap.View.ModalVisible,
		Settings:      settings,
		ConsentMode:   directives,
		Receipt:       token,
		Reload:        reload,
	}
}

// ReceiptResponse is a verified receipt.
type ReceiptResponse struct {
	Valid     bool           `json:"valid"`
	ClientID  string         `json:"client_id"`
	Outcome   models.Outcome `json:"outcome"`
	Consent   *models.Record `json:"consent"`
	ExpiresAt time.Time      `json:"expires_at"`
}

func toReceiptResponse(claims *receipt.Claims, rec *models.Record) ReceiptResponse {
	resp := ReceiptResponse{
		Valid:    true,
		ClientID: claims.Subject,
		Outcome:  claims.Outcome,
		Consent:  rec,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC()
	}
	return resp
}
