package models

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WebhookAckResponse is returned to the payment provider on success
type WebhookAckResponse struct {
	Received bool `json:"received"`
}

// EntitlementsResponse describes the caller's effective feature set
type EntitlementsResponse struct {
	UserID     string         `json:"user_id"`
	Tier       string         `json:"tier,omitempty"`
	Plan       string         `json:"plan"`
	Status     string         `json:"status,omitempty"`
	Downgraded bool           `json:"downgraded"`
	HasAds     bool           `json:"has_ads"`
	Features   map[string]any `json:"features"`
}

// FeatureUsageResponse answers a single feature query
type FeatureUsageResponse struct {
	Feature   string `json:"feature"`
	Usage     int    `json:"usage"`
	HasAccess bool   `json:"has_access"`
	CanUse    bool   `json:"can_use"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// WebhookEventListResponse lists ledger rows for operators
type WebhookEventListResponse struct {
	Events []WebhookEvent `json:"events"`
	Count  int            `json:"count"`
}
