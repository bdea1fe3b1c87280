// Package testing provides test utilities and database setup for testing the proxy and verification core
package testing

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"time"

	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestExpert creates an expert persona with the given status
func (tf *TestFixtures) CreateTestExpert(status string) (*models.ExpertPersona, error) {
	expert := &models.ExpertPersona{
		UUID:        uuid.New(),
		PersonaName: fmt.Sprintf("Test Expert %d", rand.Intn(1000000)),
		Status:      status,
	}

	err := tf.DB.DB.Create(expert).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test expert: %w", err)
	}

	return expert, nil
}

// CreateActiveAssignment creates an active proxy assignment carrying a
// syntactically valid (but meaningless) encrypted credential blob
func (tf *TestFixtures) CreateActiveAssignment(expertID uint) (*models.ProxyAssignment, error) {
	blob := base64.StdEncoding.EncodeToString([]byte("not real ciphertext"))
	iv := base64.StdEncoding.EncodeToString(make([]byte, 12))
	tag := base64.StdEncoding.EncodeToString(make([]byte, 16))
	keyID := "expert_" + uuid.New().String()
	providerID := fmt.Sprintf("pr-%d", rand.Intn(1000000))

	assignment := &models.ProxyAssignment{
		UUID:                  uuid.New(),
		ExpertID:              expertID,
		ProviderProxyID:       &providerID,
		Status:                models.AssignmentStatusActive,
		ProxyLocation:         "Manila",
		DetectedCountry:       utils.ToPtr("PH"),
		DetectedCity:          utils.ToPtr("Manila"),
		IsPhilippinesVerified: true,
		EncryptedCredentials:  &blob,
		CredentialsIV:         &iv,
		CredentialsAuthTag:    &tag,
		CredentialsKeyID:      &keyID,
		HealthCheckStatus:     models.HealthStatusHealthy,
		BlacklistStatus:       models.BlacklistStatusClean,
		MonthlyCostUSD:        15.00,
		ActivatedAt:           utils.UTCNowPtr(),
		CostTrackingStartedAt: utils.UTCNowPtr(),
		LastStatusChange:      utils.UTCNow(),
	}

	err := tf.DB.DB.Create(assignment).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test assignment: %w", err)
	}

	return assignment, nil
}

// CreateTestPhoneNumber creates an active, assigned, SMS-capable number
func (tf *TestFixtures) CreateTestPhoneNumber(expertID uint) (*models.PhoneNumber, error) {
	phone := &models.PhoneNumber{
		UUID:                uuid.New(),
		ExpertID:            expertID,
		Number:              fmt.Sprintf("+6391%08d", rand.Intn(100000000)),
		ProviderSID:         "PN" + uuid.New().String()[:16],
		Status:              models.PhoneStatusActive,
		AssignmentStatus:    models.PhoneAssigned,
		Capabilities:        pq.StringArray{models.CapabilitySMS, models.CapabilityVoice},
		MonthlyCostUSD:      3.25,
		HealthCheckStatus:   models.HealthStatusHealthy,
		WebhookConfiguredAt: utils.UTCNowPtr(),
	}

	err := tf.DB.DB.Create(phone).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test phone number: %w", err)
	}

	return phone, nil
}

// CreateTestSession creates an active verification session
func (tf *TestFixtures) CreateTestSession(expertID, phoneNumberID uint, platform string) (*models.VerificationSession, error) {
	session := &models.VerificationSession{
		UUID:              uuid.New(),
		ExpertID:          expertID,
		PhoneNumberID:     phoneNumberID,
		Platform:          platform,
		Action:            "registration",
		Status:            models.SessionStatusActive,
		AttemptsRemaining: utils.SessionMaxAttempts,
		SessionExpiredAt:  utils.UTCNow().Add(utils.SessionExpiry),
	}

	err := tf.DB.DB.Create(session).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test session: %w", err)
	}

	return session, nil
}

// CreateExpiredSession creates a session whose deadline has already passed
func (tf *TestFixtures) CreateExpiredSession(expertID, phoneNumberID uint) (*models.VerificationSession, error) {
	session := &models.VerificationSession{
		UUID:              uuid.New(),
		ExpertID:          expertID,
		PhoneNumberID:     phoneNumberID,
		Platform:          "facebook",
		Action:            "registration",
		Status:            models.SessionStatusActive,
		AttemptsRemaining: utils.SessionMaxAttempts,
		SessionExpiredAt:  utils.UTCNow().Add(-1 * time.Hour),
	}

	err := tf.DB.DB.Create(session).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create expired session: %w", err)
	}

	return session, nil
}

// CreateTestMessage creates a pending inbound message with the given body
func (tf *TestFixtures) CreateTestMessage(phoneNumberID uint, body string) (*models.InboundMessage, error) {
	message := &models.InboundMessage{
		UUID:              uuid.New(),
		PhoneNumberID:     phoneNumberID,
		FromNumber:        "+12025550123",
		ToNumber:          fmt.Sprintf("+6391%08d", rand.Intn(100000000)),
		Body:              body,
		ProviderMessageID: "SM" + uuid.New().String()[:16],
		ProcessingStatus:  models.ProcessingStatusPending,
		ReceivedAt:        utils.UTCNow(),
	}

	err := tf.DB.DB.Create(message).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test message: %w", err)
	}

	return message, nil
}

// CreateTestCode creates an active extracted code attributed to a message
func (tf *TestFixtures) CreateTestCode(messageID uint, expertID *uint, code string) (*models.ExtractedCode, error) {
	extracted := &models.ExtractedCode{
		UUID:            uuid.New(),
		MessageID:       messageID,
		ExpertID:        expertID,
		Code:            code,
		CodeType:        models.CodeTypeNumeric,
		CodeLength:      len(code),
		ValidationScore: 0.90,
		CodeStatus:      models.CodeStatusActive,
		ExpiresAt:       utils.UTCNow().Add(utils.CodeExpiry),
	}

	err := tf.DB.DB.Create(extracted).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create test code: %w", err)
	}

	return extracted, nil
}

// CreateExpiredCode creates a code whose TTL has already lapsed
func (tf *TestFixtures) CreateExpiredCode(messageID uint, expertID *uint) (*models.ExtractedCode, error) {
	extracted := &models.ExtractedCode{
		UUID:            uuid.New(),
		MessageID:       messageID,
		ExpertID:        expertID,
		Code:            "482913",
		CodeType:        models.CodeTypeNumeric,
		CodeLength:      6,
		ValidationScore: 0.90,
		CodeStatus:      models.CodeStatusActive,
		ExpiresAt:       utils.UTCNow().Add(-1 * time.Hour),
	}

	err := tf.DB.DB.Create(extracted).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create expired code: %w", err)
	}

	return extracted, nil
}
