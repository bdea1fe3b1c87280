package businessflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// VerificationFlow handles verification session and SMS pipeline business logic
type VerificationFlow interface {
	CreateSession(ctx context.Context, req *dto.CreateSessionRequest, metadata *ClientMetadata) (*dto.CreateSessionResponse, error)
	ProcessInboundMessage(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error)
	GetActiveCodes(ctx context.Context, expertUUID string) (*dto.ActiveCodesResponse, error)
	MarkCodeViewed(ctx context.Context, expertUUID, codeUUID string) error
}

// VerificationFlowImpl implements the verification business flow
type VerificationFlowImpl struct {
	expertRepo  repository.ExpertPersonaRepository
	phoneRepo   repository.PhoneNumberRepository
	sessionRepo repository.VerificationSessionRepository
	messageRepo repository.InboundMessageRepository
	codeRepo    repository.ExtractedCodeRepository
	extractor   *CodeExtractor
	deliverer   services.CodeDeliverer
	db          *gorm.DB
}

// NewVerificationFlow creates a new verification flow instance
func NewVerificationFlow(
	expertRepo repository.ExpertPersonaRepository,
	phoneRepo repository.PhoneNumberRepository,
	sessionRepo repository.VerificationSessionRepository,
	messageRepo repository.InboundMessageRepository,
	codeRepo repository.ExtractedCodeRepository,
	extractor *CodeExtractor,
	deliverer services.CodeDeliverer,
	db *gorm.DB,
) VerificationFlow {
	return &VerificationFlowImpl{
		expertRepo:  expertRepo,
		phoneRepo:   phoneRepo,
		sessionRepo: sessionRepo,
		messageRepo: messageRepo,
		codeRepo:    codeRepo,
		extractor:   extractor,
		deliverer:   deliverer,
		db:          db,
	}
}

// CreateSession opens a verification session on the expert's active number.
// Several sessions may be open on one number at once; the pipeline treats
// the newest as authoritative when attributing inbound codes.
func (f *VerificationFlowImpl) CreateSession(ctx context.Context, req *dto.CreateSessionRequest, metadata *ClientMetadata) (*dto.CreateSessionResponse, error) {
	expert, err := f.getActiveExpert(ctx, req.ExpertUUID)
	if err != nil {
		return nil, err
	}

	phone, err := f.phoneRepo.ActiveAssignedByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("CREATE_SESSION_FAILED", "Failed to load phone number", err)
	}
	if phone == nil {
		return nil, NewBusinessError("NO_ACTIVE_NUMBER", "Expert has no active phone number", ErrNoActivePhoneNumber)
	}
	if !phone.HasCapability(models.CapabilitySMS) {
		return nil, NewBusinessError("NUMBER_NOT_SMS_CAPABLE", "Phone number cannot receive SMS", ErrNumberNotSMSCapable)
	}

	now := utils.UTCNow()
	session := &models.VerificationSession{
		UUID:                uuid.New(),
		ExpertID:            expert.ID,
		PhoneNumberID:       phone.ID,
		Platform:            req.Platform,
		Action:              req.Action,
		Status:              models.SessionStatusActive,
		ExpectedCodePattern: req.ExpectedCodePattern,
		AttemptsRemaining:   utils.SessionMaxAttempts,
		SessionExpiredAt:    now.Add(utils.SessionExpiry),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		return f.sessionRepo.Save(txCtx, session)
	})
	if err != nil {
		return nil, NewBusinessError("CREATE_SESSION_FAILED", "Failed to create verification session", err)
	}

	return &dto.CreateSessionResponse{
		Session: ToVerificationSessionDTO(session, phone.Number),
	}, nil
}

// ProcessInboundMessage runs the SMS pipeline for one webhook delivery. The
// raw message is persisted before extraction is attempted, so a crash
// mid-pipeline loses processing state but never the message itself.
func (f *VerificationFlowImpl) ProcessInboundMessage(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
	phone, err := f.phoneRepo.ByNumber(ctx, req.To)
	if err != nil {
		return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to resolve recipient number", err)
	}
	if phone == nil {
		return nil, NewBusinessError("UNKNOWN_RECIPIENT", "Recipient is not a managed number", ErrUnknownRecipient)
	}

	now := utils.UTCNow()
	message := &models.InboundMessage{
		UUID:              uuid.New(),
		PhoneNumberID:     phone.ID,
		FromNumber:        req.From,
		ToNumber:          req.To,
		Body:              req.Body,
		ProviderMessageID: req.MessageSID,
		ProcessingStatus:  models.ProcessingStatusPending,
		ReceivedAt:        now,
		CreatedAt:         now,
	}
	if err := f.messageRepo.Save(ctx, message); err != nil {
		return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to persist inbound message", err)
	}

	session, err := f.sessionRepo.LatestActiveByPhoneNumber(ctx, phone.ID)
	if err != nil {
		f.markMessageFailed(ctx, message, fmt.Sprintf("session lookup failed: %v", err))
		return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to find matching session", err)
	}

	platform := ""
	var expectedPattern *string
	if session != nil {
		message.SessionID = &session.ID
		platform = session.Platform
		expectedPattern = session.ExpectedCodePattern
	}

	result, err := f.extractor.Extract(req.Body, platform, expectedPattern)
	if err != nil {
		// No usable code. Not a pipeline failure; spam and notification
		// texts hit this path constantly. The message still counts as
		// processed, the note says why no code came out of it.
		message.ProcessingStatus = models.ProcessingStatusProcessed
		message.ProcessingNote = utils.ToPtr("no code detected")
		message.ProcessedAt = utils.UTCNowPtr()
		if updateErr := f.messageRepo.Update(ctx, message); updateErr != nil {
			return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to update message state", updateErr)
		}

		// Each miss burns one of the session's attempts so a session
		// flooded with spam eventually fails instead of idling until
		// expiry.
		if session != nil {
			session.AttemptsRemaining--
			if session.AttemptsRemaining <= 0 {
				session.Status = models.SessionStatusFailed
			}
			session.UpdatedAt = utils.UTCNow()
			if updateErr := f.sessionRepo.Update(ctx, session); updateErr != nil {
				return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to update session attempts", updateErr)
			}
		}

		return &dto.ProcessMessageResponse{
			MessageUUID:      message.UUID.String(),
			ProcessingStatus: message.ProcessingStatus,
		}, nil
	}

	var code *models.ExtractedCode
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		codeNow := utils.UTCNow()
		code = &models.ExtractedCode{
			UUID:            uuid.New(),
			MessageID:       message.ID,
			Code:            result.Code,
			CodeType:        result.CodeType,
			CodeLength:      len(result.Code),
			ValidationScore: result.Confidence,
			CodeStatus:      models.CodeStatusActive,
			ExpiresAt:       codeNow.Add(utils.CodeExpiry),
			CreatedAt:       codeNow,
		}
		if session != nil {
			code.SessionID = &session.ID
			code.ExpertID = &session.ExpertID
		} else {
			code.ExpertID = &phone.ExpertID
		}
		if err := f.codeRepo.Save(txCtx, code); err != nil {
			return err
		}

		message.VerificationCode = &result.Code
		message.CodeConfidence = &result.Confidence
		message.CodePattern = &result.Pattern
		message.ProcessingStatus = models.ProcessingStatusProcessed
		message.ProcessedAt = utils.UTCNowPtr()
		if err := f.messageRepo.Update(txCtx, message); err != nil {
			return err
		}

		if session != nil {
			session.Status = models.SessionStatusCompleted
			session.CompletedAt = utils.UTCNowPtr()
			session.UpdatedAt = utils.UTCNow()
			if err := f.sessionRepo.Update(txCtx, session); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		f.markMessageFailed(ctx, message, fmt.Sprintf("pipeline persistence failed: %v", err))
		return nil, NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to persist extraction result", err)
	}

	f.deliverCode(ctx, code, platform)

	resp := &dto.ProcessMessageResponse{
		MessageUUID:      message.UUID.String(),
		ProcessingStatus: message.ProcessingStatus,
		Code:             &result.Code,
		Confidence:       &result.Confidence,
	}
	if session != nil {
		sessionUUID := session.UUID.String()
		resp.SessionUUID = &sessionUUID
	}
	return resp, nil
}

// GetActiveCodes lists the expert's retrievable codes, newest first
func (f *VerificationFlowImpl) GetActiveCodes(ctx context.Context, expertUUID string) (*dto.ActiveCodesResponse, error) {
	expert, err := f.getActiveExpert(ctx, expertUUID)
	if err != nil {
		return nil, err
	}

	codes, err := f.codeRepo.ListActiveByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("GET_CODES_FAILED", "Failed to list active codes", err)
	}

	out := make([]dto.ExtractedCodeDTO, 0, len(codes))
	for _, code := range codes {
		platform := ""
		if code.SessionID != nil {
			if session, err := f.sessionRepo.ByID(ctx, *code.SessionID); err == nil && session != nil {
				platform = session.Platform
			}
		}
		out = append(out, ToExtractedCodeDTO(code, platform))
	}

	return &dto.ActiveCodesResponse{Codes: out}, nil
}

// MarkCodeViewed records that the expert has seen a code on the dashboard
func (f *VerificationFlowImpl) MarkCodeViewed(ctx context.Context, expertUUID, codeUUID string) error {
	expert, err := f.getActiveExpert(ctx, expertUUID)
	if err != nil {
		return err
	}

	parsed, err := uuid.Parse(codeUUID)
	if err != nil {
		return NewBusinessError("VALIDATION_ERROR", "Invalid code UUID", err)
	}

	codes, err := f.codeRepo.ByFilter(ctx, models.ExtractedCodeFilter{UUID: &parsed}, "", 1, 0)
	if err != nil {
		return NewBusinessError("MARK_VIEWED_FAILED", "Failed to load code", err)
	}
	if len(codes) == 0 || codes[0].ExpertID == nil || *codes[0].ExpertID != expert.ID {
		return NewBusinessError("CODE_NOT_FOUND", "Code not found", ErrNoCodeFound)
	}

	code := codes[0]
	code.ViewedByUser = true
	if err := f.codeRepo.Update(ctx, code); err != nil {
		return NewBusinessError("MARK_VIEWED_FAILED", "Failed to update code", err)
	}
	return nil
}

// deliverCode pushes the code toward any live dashboard stream. Delivery is
// best effort; codes stay retrievable by polling either way.
func (f *VerificationFlowImpl) deliverCode(ctx context.Context, code *models.ExtractedCode, platform string) {
	if f.deliverer == nil || code.ExpertID == nil {
		return
	}

	expert, err := f.expertRepo.ByID(ctx, *code.ExpertID)
	if err != nil || expert == nil {
		return
	}

	notification := &services.CodeNotification{
		CodeUUID:   code.UUID.String(),
		ExpertUUID: expert.UUID.String(),
		Code:       code.Code,
		Platform:   platform,
		Confidence: code.ValidationScore,
		ExpiresAt:  code.ExpiresAt,
	}
	if err := f.deliverer.Deliver(ctx, notification); err != nil {
		return
	}

	code.SentToDashboard = true
	code.DeliveredAt = utils.UTCNowPtr()
	if err := f.codeRepo.Update(ctx, code); err != nil {
		fmt.Printf("Warning: failed to mark code %s as delivered: %v\n", code.UUID, err)
	}
}

func (f *VerificationFlowImpl) markMessageFailed(ctx context.Context, message *models.InboundMessage, note string) {
	message.ProcessingStatus = models.ProcessingStatusFailed
	message.ProcessingNote = &note
	message.ProcessedAt = utils.UTCNowPtr()
	if err := f.messageRepo.Update(ctx, message); err != nil {
		fmt.Printf("Warning: failed to mark message %s as failed: %v\n", message.UUID, err)
	}
}

func (f *VerificationFlowImpl) getActiveExpert(ctx context.Context, expertUUID string) (*models.ExpertPersona, error) {
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
