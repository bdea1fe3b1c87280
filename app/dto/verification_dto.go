package dto

// CreateSessionRequest opens a verification session for an expert's number
type CreateSessionRequest struct {
	ExpertUUID          string  `json:"expert_uuid" validate:"required,uuid4"`
	Platform            string  `json:"platform" validate:"required,max=64"`
	Action              string  `json:"action" validate:"required,oneof=registration login recovery"`
	ExpectedCodePattern *string `json:"expected_code_pattern,omitempty" validate:"omitempty,max=255"`
}

// VerificationSessionDTO is the API representation of a session
type VerificationSessionDTO struct {
	UUID              string `json:"uuid"`
	PhoneNumber       string `json:"phone_number"`
	Platform          string `json:"platform"`
	Action            string `json:"action"`
	Status            string `json:"status"`
	AttemptsRemaining int    `json:"attempts_remaining"`
	ExpiresAt         string `json:"expires_at"`
	CreatedAt         string `json:"created_at"`
}

// CreateSessionResponse is returned after opening a session
type CreateSessionResponse struct {
	Session VerificationSessionDTO `json:"session"`
}

// InboundSMSRequest is the telephony provider's webhook payload.
// Field names follow the provider's form-encoded callback convention.
type InboundSMSRequest struct {
	MessageSID string `form:"MessageSid" json:"MessageSid" validate:"required"`
	From       string `form:"From" json:"From" validate:"required"`
	To         string `form:"To" json:"To" validate:"required"`
	Body       string `form:"Body" json:"Body"`
}

// ProcessMessageResponse reports what the pipeline did with one inbound SMS
type ProcessMessageResponse struct {
	MessageUUID      string   `json:"message_uuid"`
	ProcessingStatus string   `json:"processing_status"`
	SessionUUID      *string  `json:"session_uuid,omitempty"`
	Code             *string  `json:"code,omitempty"`
	Confidence       *float64 `json:"confidence,omitempty"`
}

// ExtractedCodeDTO is the API representation of a retrievable code
type ExtractedCodeDTO struct {
	UUID            string  `json:"uuid"`
	Code            string  `json:"code"`
	CodeType        string  `json:"code_type"`
	ValidationScore float64 `json:"validation_score"`
	Platform        string  `json:"platform,omitempty"`
	SentToDashboard bool    `json:"sent_to_dashboard"`
	ExpiresAt       string  `json:"expires_at"`
	CreatedAt       string  `json:"created_at"`
}

// ActiveCodesResponse lists an expert's currently retrievable codes
type ActiveCodesResponse struct {
	Codes []ExtractedCodeDTO `json:"codes"`
}
