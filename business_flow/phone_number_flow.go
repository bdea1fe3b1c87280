package businessflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// PhoneNumberFlow handles phone number provisioning business logic
type PhoneNumberFlow interface {
	ProvisionNumber(ctx context.Context, req *dto.ProvisionNumberRequest, metadata *ClientMetadata) (*dto.ProvisionNumberResponse, error)
	ReleaseNumber(ctx context.Context, req *dto.ReleaseNumberRequest, metadata *ClientMetadata) (*dto.ReleaseNumberResponse, error)
	GetNumberStatus(ctx context.Context, expertUUID string) (*dto.PhoneNumberDTO, error)
}

// PhoneNumberFlowImpl implements the phone number business flow
type PhoneNumberFlowImpl struct {
	expertRepo repository.ExpertPersonaRepository
	phoneRepo  repository.PhoneNumberRepository
	telephony  services.TelephonyClient
	db         *gorm.DB

	telephonyCfg config.TelephonyConfig
	limitsCfg    config.LimitsConfig
}

// NewPhoneNumberFlow creates a new phone number flow instance
func NewPhoneNumberFlow(
	expertRepo repository.ExpertPersonaRepository,
	phoneRepo repository.PhoneNumberRepository,
	telephony services.TelephonyClient,
	db *gorm.DB,
	telephonyCfg config.TelephonyConfig,
	limitsCfg config.LimitsConfig,
) PhoneNumberFlow {
	return &PhoneNumberFlowImpl{
		expertRepo:   expertRepo,
		phoneRepo:    phoneRepo,
		telephony:    telephony,
		db:           db,
		telephonyCfg: telephonyCfg,
		limitsCfg:    limitsCfg,
	}
}

// ProvisionNumber purchases an SMS-capable number, configures its inbound
// webhooks and assigns it to the expert. A number whose webhooks cannot be
// configured is released immediately; messages to it would vanish.
func (f *PhoneNumberFlowImpl) ProvisionNumber(ctx context.Context, req *dto.ProvisionNumberRequest, metadata *ClientMetadata) (*dto.ProvisionNumberResponse, error) {
	expert, err := f.getActiveExpert(ctx, req.ExpertUUID)
	if err != nil {
		return nil, err
	}

	activeCount, err := f.phoneRepo.CountActiveByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("PROVISION_NUMBER_FAILED", "Failed to count expert's numbers", err)
	}
	if activeCount >= int64(f.limitsCfg.MaxPhonesPerExpert) {
		return nil, NewBusinessError("PHONE_LIMIT_EXCEEDED", "Expert already holds the maximum number of phone numbers", ErrPhoneLimitExceeded)
	}

	available, err := f.telephony.SearchNumbers(ctx, req.CountryCode, true)
	if err != nil {
		if errors.Is(err, services.ErrNoNumbersInInventory) {
			return nil, NewBusinessError("NO_NUMBERS_AVAILABLE", "No SMS-capable numbers available for purchase", ErrNoNumbersAvailable)
		}
		return nil, NewBusinessError("NUMBER_SEARCH_FAILED", "Failed to search provider inventory", err)
	}

	candidate := pickSMSCapable(available)
	if candidate == nil {
		return nil, NewBusinessError("NO_NUMBERS_AVAILABLE", "No SMS-capable numbers available for purchase", ErrNoNumbersAvailable)
	}

	purchased, err := f.telephony.PurchaseNumber(ctx, candidate.Number)
	if err != nil {
		return nil, NewBusinessError("NUMBER_PURCHASE_FAILED", "Failed to purchase phone number", err)
	}

	if err := f.telephony.ConfigureWebhooks(ctx, purchased.SID); err != nil {
		if releaseErr := f.telephony.ReleaseNumber(ctx, purchased.SID); releaseErr != nil {
			fmt.Printf("Warning: failed to release number %s after webhook failure: %v\n", purchased.SID, releaseErr)
		}
		return nil, NewBusinessError("WEBHOOK_CONFIG_FAILED", "Failed to configure inbound webhooks", ErrWebhookConfigFailed)
	}

	now := utils.UTCNow()
	phone := &models.PhoneNumber{
		UUID:                uuid.New(),
		ExpertID:            expert.ID,
		Number:              purchased.Number,
		ProviderSID:         purchased.SID,
		Status:              models.PhoneStatusActive,
		AssignmentStatus:    models.PhoneAssigned,
		Capabilities:        purchased.Capabilities,
		MonthlyCostUSD:      f.telephonyCfg.MonthlyCostUSD,
		HealthCheckStatus:   models.HealthStatusHealthy,
		WebhookConfiguredAt: &now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		return f.phoneRepo.Save(txCtx, phone)
	})
	if err != nil {
		if releaseErr := f.telephony.ReleaseNumber(ctx, purchased.SID); releaseErr != nil {
			fmt.Printf("Warning: failed to release number %s after save failure: %v\n", purchased.SID, releaseErr)
		}
		return nil, NewBusinessError("PROVISION_NUMBER_FAILED", "Failed to persist phone number", err)
	}

	return &dto.ProvisionNumberResponse{
		PhoneNumber: ToPhoneNumberDTO(phone),
	}, nil
}

// ReleaseNumber returns the expert's number to the provider. Releasing an
// expert with no active number is a no-op.
func (f *PhoneNumberFlowImpl) ReleaseNumber(ctx context.Context, req *dto.ReleaseNumberRequest, metadata *ClientMetadata) (*dto.ReleaseNumberResponse, error) {
	expert, err := f.getActiveExpert(ctx, req.ExpertUUID)
	if err != nil {
		return nil, err
	}

	phone, err := f.phoneRepo.ActiveAssignedByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("RELEASE_NUMBER_FAILED", "Failed to load phone number", err)
	}
	if phone == nil {
		return &dto.ReleaseNumberResponse{Released: false}, nil
	}

	if err := f.telephony.ReleaseNumber(ctx, phone.ProviderSID); err != nil {
		return nil, NewBusinessError("PROVIDER_RELEASE_FAILED", "Telephony provider rejected the release", err)
	}

	phone.Status = models.PhoneStatusSuspended
	phone.AssignmentStatus = models.PhoneUnassigned
	phone.UpdatedAt = utils.UTCNow()
	if err := f.phoneRepo.Update(ctx, phone); err != nil {
		return nil, NewBusinessError("RELEASE_NUMBER_FAILED", "Failed to update phone number state", err)
	}

	return &dto.ReleaseNumberResponse{
		Released:    true,
		PhoneNumber: phone.Number,
	}, nil
}

// GetNumberStatus reports the expert's active number
func (f *PhoneNumberFlowImpl) GetNumberStatus(ctx context.Context, expertUUID string) (*dto.PhoneNumberDTO, error) {
	expert, err := f.getActiveExpert(ctx, expertUUID)
	if err != nil {
		return nil, err
	}

	phone, err := f.phoneRepo.ActiveAssignedByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("GET_NUMBER_FAILED", "Failed to load phone number", err)
	}
	if phone == nil {
		return nil, NewBusinessError("NO_ACTIVE_NUMBER", "Expert has no active phone number", ErrNoActivePhoneNumber)
	}

	d := ToPhoneNumberDTO(phone)
	return &d, nil
}

func (f *PhoneNumberFlowImpl) getActiveExpert(ctx context.Context, expertUUID string) (*models.ExpertPersona, error) {
	parsed, err := uuid.Parse(expertUUID)
	if err != nil {
		return nil, NewBusinessError("VALIDATION_ERROR", "Invalid expert UUID", err)
	}

	expert, err := f.expertRepo.ByUUID(ctx, parsed)
	if err != nil {
		return nil, NewBusinessError("GET_EXPERT_FAILED", "Failed to load expert persona", err)
	}
	if expert == nil {
		return nil, NewBusinessError("EXPERT_NOT_FOUND", "Expert persona not found", ErrExpertNotFound)
	}
	if !expert.IsActive() {
		return nil, NewBusinessError("EXPERT_INACTIVE", "Expert persona is not active", ErrExpertInactive)
	}
	return expert, nil
}

func pickSMSCapable(available []*services.AvailableNumber) *services.AvailableNumber {
	for _, n := range available {
		for _, c := range n.Capabilities {
			if c == models.CapabilitySMS {
				return n
			}
		}
	}
	return nil
}
