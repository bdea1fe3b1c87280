// Package businessflow contains the core business logic and use cases for proxy and verification workflows
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Expert-related errors
	ErrExpertNotFound = errors.New("expert persona not found")
	ErrExpertInactive = errors.New("expert persona is not active")

	// Proxy assignment errors
	ErrAlreadyAssigned      = errors.New("expert already has a live proxy assignment")
	ErrProxyLimitExceeded   = errors.New("proxy limit for expert reached")
	ErrBudgetExceeded       = errors.New("monthly budget would be exceeded")
	ErrNoProxyAssigned      = errors.New("expert has no live proxy assignment")
	ErrAssignmentNotFound   = errors.New("proxy assignment not found")
	ErrAssignmentLockBusy   = errors.New("another assignment operation is in progress for this expert")
	ErrCredentialsMissing   = errors.New("assignment has no stored credentials")
	ErrProxyTestFailed      = errors.New("proxy connectivity test failed")
	ErrLocationNotVerified  = errors.New("proxy exit location could not be verified in the required country")
	ErrProxyProvisionFailed = errors.New("proxy provider could not provision a proxy")

	// Phone number errors
	ErrPhoneLimitExceeded   = errors.New("phone number limit for expert reached")
	ErrNoActivePhoneNumber  = errors.New("expert has no active phone number")
	ErrPhoneNumberNotFound  = errors.New("phone number not found")
	ErrNoNumbersAvailable   = errors.New("no phone numbers available for purchase")
	ErrWebhookConfigFailed  = errors.New("failed to configure inbound webhooks")
	ErrNumberNotSMSCapable  = errors.New("phone number is not SMS capable")

	// Verification session errors
	ErrSessionNotFound     = errors.New("verification session not found")
	ErrSessionNotActive    = errors.New("verification session is not active")
	ErrSessionExpired      = errors.New("verification session has expired")
	ErrNoAttemptsRemaining = errors.New("verification session has no attempts remaining")

	// Extraction errors
	ErrNoCodeFound      = errors.New("no verification code found in message")
	ErrLowConfidence    = errors.New("extracted code confidence below threshold")
	ErrUnknownRecipient = errors.New("inbound message recipient is not a managed number")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsExpertNotFound(err error) bool {
	return errors.Is(err, ErrExpertNotFound)
}

func IsExpertInactive(err error) bool {
	return errors.Is(err, ErrExpertInactive)
}

func IsAlreadyAssigned(err error) bool {
	return errors.Is(err, ErrAlreadyAssigned)
}

func IsProxyLimitExceeded(err error) bool {
	return errors.Is(err, ErrProxyLimitExceeded)
}

func IsBudgetExceeded(err error) bool {
	return errors.Is(err, ErrBudgetExceeded)
}

func IsNoProxyAssigned(err error) bool {
	return errors.Is(err, ErrNoProxyAssigned)
}

func IsAssignmentLockBusy(err error) bool {
	return errors.Is(err, ErrAssignmentLockBusy)
}

func IsPhoneLimitExceeded(err error) bool {
	return errors.Is(err, ErrPhoneLimitExceeded)
}

func IsNoActivePhoneNumber(err error) bool {
	return errors.Is(err, ErrNoActivePhoneNumber)
}

func IsNoNumbersAvailable(err error) bool {
	return errors.Is(err, ErrNoNumbersAvailable)
}

func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

func IsUnknownRecipient(err error) bool {
	return errors.Is(err, ErrUnknownRecipient)
}
