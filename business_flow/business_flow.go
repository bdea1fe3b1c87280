// Package businessflow contains the business logic for the application.
package businessflow

import (
	"time"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
)

// ClientMetadata holds client-related information for audit logging
type ClientMetadata struct {
	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`
	RequestID string `json:"request_id,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

// ToProxyAssignmentDTO converts an assignment model to its API representation
func ToProxyAssignmentDTO(assignment *models.ProxyAssignment, expertUUID string) dto.ProxyAssignmentDTO {
	d := dto.ProxyAssignmentDTO{
		UUID:                  assignment.UUID.String(),
		ExpertUUID:            expertUUID,
		Status:                assignment.Status,
		ProxyLocation:         assignment.ProxyLocation,
		DetectedCountry:       assignment.DetectedCountry,
		DetectedCity:          assignment.DetectedCity,
		IsPhilippinesVerified: assignment.IsPhilippinesVerified,
		HealthCheckStatus:     assignment.HealthCheckStatus,
		ConsecutiveFailures:   assignment.ConsecutiveFailures,
		AverageResponseTimeMs: assignment.AverageResponseTimeMs,
		ReputationScore:       assignment.ReputationScore,
		IsResidentialIP:       assignment.IsResidentialIP,
		BlacklistStatus:       assignment.BlacklistStatus,
		MonthlyCostUSD:        assignment.MonthlyCostUSD,
		StatusChangeReason:    assignment.StatusChangeReason,
		CreatedAt:             assignment.CreatedAt.Format(time.RFC3339),
	}
	if assignment.ActivatedAt != nil {
		activated := assignment.ActivatedAt.Format(time.RFC3339)
		d.ActivatedAt = &activated
	}
	return d
}

// ToVerificationSessionDTO converts a session model to its API representation
func ToVerificationSessionDTO(session *models.VerificationSession, phoneNumber string) dto.VerificationSessionDTO {
	return dto.VerificationSessionDTO{
		UUID:              session.UUID.String(),
		PhoneNumber:       phoneNumber,
		Platform:          session.Platform,
		Action:            session.Action,
		Status:            session.Status,
		AttemptsRemaining: session.AttemptsRemaining,
		ExpiresAt:         session.SessionExpiredAt.Format(time.RFC3339),
		CreatedAt:         session.CreatedAt.Format(time.RFC3339),
	}
}

// ToExtractedCodeDTO converts a code model to its API representation
func ToExtractedCodeDTO(code *models.ExtractedCode, platform string) dto.ExtractedCodeDTO {
	return dto.ExtractedCodeDTO{
		UUID:            code.UUID.String(),
		Code:            code.Code,
		CodeType:        code.CodeType,
		ValidationScore: code.ValidationScore,
		Platform:        platform,
		SentToDashboard: code.SentToDashboard,
		ExpiresAt:       code.ExpiresAt.Format(time.RFC3339),
		CreatedAt:       code.CreatedAt.Format(time.RFC3339),
	}
}

// ToPhoneNumberDTO converts a phone number model to its API representation
func ToPhoneNumberDTO(phone *models.PhoneNumber) dto.PhoneNumberDTO {
	return dto.PhoneNumberDTO{
		UUID:             phone.UUID.String(),
		Number:           phone.Number,
		Status:           phone.Status,
		AssignmentStatus: phone.AssignmentStatus,
		Capabilities:     phone.Capabilities,
		MonthlyCostUSD:   phone.MonthlyCostUSD,
		CreatedAt:        phone.CreatedAt.Format(time.RFC3339),
	}
}
