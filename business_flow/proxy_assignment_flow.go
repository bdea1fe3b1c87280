// Package businessflow contains the core business logic and use cases for proxy lifecycle workflows
package businessflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
	"github.com/McFlipperson/Island-Properties-APP-sub000/models"
	"github.com/McFlipperson/Island-Properties-APP-sub000/repository"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// ProxyAssignmentFlow handles the proxy lifecycle business logic
type ProxyAssignmentFlow interface {
	AssignProxy(ctx context.Context, req *dto.AssignProxyRequest, metadata *ClientMetadata) (*dto.AssignProxyResponse, error)
	ReleaseProxy(ctx context.Context, req *dto.ReleaseProxyRequest, metadata *ClientMetadata) (*dto.ReleaseProxyResponse, error)
	GetAssignmentStatus(ctx context.Context, expertUUID string) (*dto.ProxyStatusResponse, error)
	RunHealthCheck(ctx context.Context, expertUUID string) (*dto.ProxyHealthCheckResponse, error)
}

// ProxyAssignmentFlowImpl implements the proxy assignment business flow
type ProxyAssignmentFlowImpl struct {
	expertRepo     repository.ExpertPersonaRepository
	assignmentRepo repository.ProxyAssignmentRepository
	proxyClient    services.ProxyProviderClient
	vault          services.CredentialVault
	locker         ExpertLocker
	db             *gorm.DB

	providerCfg config.ProxyProviderConfig
	limitsCfg   config.LimitsConfig
}

// NewProxyAssignmentFlow creates a new proxy assignment flow instance
func NewProxyAssignmentFlow(
	expertRepo repository.ExpertPersonaRepository,
	assignmentRepo repository.ProxyAssignmentRepository,
	proxyClient services.ProxyProviderClient,
	vault services.CredentialVault,
	locker ExpertLocker,
	db *gorm.DB,
	providerCfg config.ProxyProviderConfig,
	limitsCfg config.LimitsConfig,
) ProxyAssignmentFlow {
	return &ProxyAssignmentFlowImpl{
		expertRepo:     expertRepo,
		assignmentRepo: assignmentRepo,
		proxyClient:    proxyClient,
		vault:          vault,
		locker:         locker,
		db:             db,
		providerCfg:    providerCfg,
		limitsCfg:      limitsCfg,
	}
}

// AssignProxy walks a new assignment through requesting, testing and active.
// The assignment row is created first so every provider interaction has a
// durable record; failures at any later step move the row to failed with the
// reason, never back to a clean slate.
func (f *ProxyAssignmentFlowImpl) AssignProxy(ctx context.Context, req *dto.AssignProxyRequest, metadata *ClientMetadata) (*dto.AssignProxyResponse, error) {
	expert, err := f.getActiveExpert(ctx, req.ExpertUUID)
	if err != nil {
		return nil, err
	}

	release, err := f.locker.Acquire(ctx, req.ExpertUUID)
	if err != nil {
		if IsAssignmentLockBusy(err) {
			return nil, NewBusinessError("ASSIGNMENT_IN_PROGRESS", "Another assignment operation is in progress", err)
		}
		return nil, NewBusinessError("LOCK_ACQUIRE_FAILED", "Failed to acquire assignment lock", err)
	}
	defer release()

	location := req.Location
	if location == "" && len(f.providerCfg.DefaultLocations) > 0 {
		location = f.providerCfg.DefaultLocations[0]
	}

	var assignment *models.ProxyAssignment
	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		activeCost, err := f.assignmentRepo.SumActiveMonthlyCost(txCtx, expert.ID)
		if err != nil {
			return err
		}
		if activeCost >= f.limitsCfg.MaxMonthlyCostUSD {
			return ErrBudgetExceeded
		}

		// A live row and the per-expert cap are separate constraints: the
		// row means this expert is already served, the cap means no more
		// may be added.
		live, err := f.assignmentRepo.LiveByExpert(txCtx, expert.ID)
		if err != nil {
			return err
		}
		if live != nil {
			return ErrAlreadyAssigned
		}

		liveCount, err := f.assignmentRepo.CountLiveByExpert(txCtx, expert.ID)
		if err != nil {
			return err
		}
		if liveCount >= int64(f.limitsCfg.MaxProxiesPerExpert) {
			return ErrProxyLimitExceeded
		}

		assignment = &models.ProxyAssignment{
			UUID:              uuid.New(),
			ExpertID:          expert.ID,
			Status:            models.AssignmentStatusRequesting,
			ProxyLocation:     location,
			BlacklistStatus:   models.BlacklistStatusUnknown,
			HealthCheckStatus: models.HealthStatusHealthy,
			LastStatusChange:  utils.UTCNow(),
			CreatedAt:         utils.UTCNow(),
			UpdatedAt:         utils.UTCNow(),
		}
		return f.assignmentRepo.Save(txCtx, assignment)
	})
	if err != nil {
		switch {
		case IsAlreadyAssigned(err):
			return nil, NewBusinessError("ALREADY_ASSIGNED", "Expert already has a live proxy assignment", err)
		case IsProxyLimitExceeded(err):
			return nil, NewBusinessError("PROXY_LIMIT_EXCEEDED", "Proxy limit for expert reached", err)
		case IsBudgetExceeded(err):
			return nil, NewBusinessError("BUDGET_EXCEEDED", "Monthly proxy budget is exhausted", err)
		case strings.Contains(err.Error(), "uk_proxy_assignments_live_expert"):
			// Lost the race despite the lock; the index is the last word.
			return nil, NewBusinessError("ALREADY_ASSIGNED", "Expert already has a live proxy assignment", ErrAlreadyAssigned)
		default:
			return nil, NewBusinessError("ASSIGN_PROXY_FAILED", "Failed to create proxy assignment", err)
		}
	}

	details, err := f.proxyClient.CreateProxy(ctx, &services.CreateProxyRequest{
		Country:   f.providerCfg.RequiredCountry,
		Locations: []string{location},
		Reference: assignment.UUID.String(),
	})
	if err != nil {
		f.failAssignment(ctx, assignment.ID, fmt.Sprintf("provider provisioning failed: %v", err))
		return nil, NewBusinessError("PROXY_PROVISION_FAILED", "Proxy provider could not provision a proxy", ErrProxyProvisionFailed)
	}

	creds := &services.ProxyCredentials{
		Host:            details.Host,
		Port:            details.Port,
		Username:        details.Username,
		Password:        details.Password,
		Protocol:        details.Protocol,
		Provider:        "marketplace",
		ProviderProxyID: details.ProviderProxyID,
		Location:        location,
	}

	blob, err := f.vault.Encrypt(creds, expert.UUID.String())
	if err != nil {
		f.failAssignment(ctx, assignment.ID, fmt.Sprintf("credential encryption failed: %v", err))
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("CREDENTIAL_ENCRYPTION_FAILED", "Failed to encrypt proxy credentials", err)
	}

	assignment.ProviderProxyID = utils.ToPtr(details.ProviderProxyID)
	assignment.EncryptedCredentials = utils.ToPtr(blob.CipherText)
	assignment.CredentialsIV = utils.ToPtr(blob.IV)
	assignment.CredentialsAuthTag = utils.ToPtr(blob.AuthTag)
	assignment.CredentialsKeyID = utils.ToPtr(blob.KeyID)
	assignment.MonthlyCostUSD = details.MonthlyCostUSD
	assignment.DailyCostUSD = details.MonthlyCostUSD / 30
	assignment.Status = models.AssignmentStatusTesting
	assignment.StatusChangeReason = utils.ToPtr("provider provisioning succeeded, testing connectivity")
	assignment.LastStatusChange = utils.UTCNow()
	assignment.UpdatedAt = utils.UTCNow()
	if err := f.assignmentRepo.Update(ctx, assignment); err != nil {
		f.failAssignment(ctx, assignment.ID, fmt.Sprintf("credential persistence failed: %v", err))
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("ASSIGN_PROXY_FAILED", "Failed to persist proxy credentials", err)
	}

	testResult, err := f.proxyClient.TestConnection(ctx, creds)
	if err != nil || !testResult.Success {
		reason := "connectivity test failed"
		if err != nil {
			reason = fmt.Sprintf("connectivity test failed: %v", err)
		} else if testResult.Err != "" {
			reason = fmt.Sprintf("connectivity test failed: %s", testResult.Err)
		}
		f.failAssignment(ctx, assignment.ID, reason)
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("PROXY_TEST_FAILED", "Proxy connectivity test failed", ErrProxyTestFailed)
	}

	geo, err := f.proxyClient.GetGeolocation(ctx, testResult.ExitIP)
	if err != nil {
		f.failAssignment(ctx, assignment.ID, fmt.Sprintf("geolocation lookup failed: %v", err))
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("GEO_LOOKUP_FAILED", "Could not verify proxy exit location", ErrLocationNotVerified)
	}

	if !strings.EqualFold(geo.CountryCode, f.providerCfg.RequiredCountry) {
		reason := fmt.Sprintf("location mismatch: expected %s, exit IP resolves to %s",
			f.providerCfg.RequiredCountry, geo.CountryCode)
		f.failAssignment(ctx, assignment.ID, reason)
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("LOCATION_MISMATCH", "Proxy exit location is outside the required country", ErrLocationNotVerified)
	}

	now := utils.UTCNow()
	assignment.Status = models.AssignmentStatusActive
	assignment.StatusChangeReason = utils.ToPtr("connectivity and location verified")
	assignment.LastStatusChange = now
	assignment.ActivatedAt = &now
	assignment.CostTrackingStartedAt = &now
	assignment.DetectedCountry = utils.ToPtr(strings.ToUpper(geo.CountryCode))
	assignment.DetectedCity = utils.ToPtr(geo.City)
	assignment.DetectedRegion = utils.ToPtr(geo.Region)
	assignment.IsPhilippinesVerified = strings.EqualFold(geo.CountryCode, "PH")
	assignment.AverageResponseTimeMs = utils.ToPtr(int64(testResult.ResponseTimeMs))
	assignment.HealthCheckedAt = &now
	assignment.LocationCheckedAt = &now
	assignment.UpdatedAt = now
	if err := f.assignmentRepo.Update(ctx, assignment); err != nil {
		f.failAssignment(ctx, assignment.ID, fmt.Sprintf("activation persistence failed: %v", err))
		f.deleteProviderProxy(ctx, details.ProviderProxyID)
		return nil, NewBusinessError("ASSIGN_PROXY_FAILED", "Failed to activate proxy assignment", err)
	}

	return &dto.AssignProxyResponse{
		Assignment: ToProxyAssignmentDTO(assignment, expert.UUID.String()),
	}, nil
}

// ReleaseProxy tears down the expert's live assignment. The provider delete
// is best-effort; the row is removed either way so the expert can be
// reassigned, and an orphaned provider proxy is only a billing cleanup.
func (f *ProxyAssignmentFlowImpl) ReleaseProxy(ctx context.Context, req *dto.ReleaseProxyRequest, metadata *ClientMetadata) (*dto.ReleaseProxyResponse, error) {
	expert, err := f.getActiveExpert(ctx, req.ExpertUUID)
	if err != nil {
		return nil, err
	}

	release, err := f.locker.Acquire(ctx, req.ExpertUUID)
	if err != nil {
		if IsAssignmentLockBusy(err) {
			return nil, NewBusinessError("ASSIGNMENT_IN_PROGRESS", "Another assignment operation is in progress", err)
		}
		return nil, NewBusinessError("LOCK_ACQUIRE_FAILED", "Failed to acquire assignment lock", err)
	}
	defer release()

	assignment, err := f.assignmentRepo.LiveByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("RELEASE_PROXY_FAILED", "Failed to load proxy assignment", err)
	}
	if assignment == nil {
		return nil, NewBusinessError("NO_PROXY_ASSIGNED", "Expert has no live proxy assignment", ErrNoProxyAssigned)
	}

	if assignment.ProviderProxyID != nil {
		f.deleteProviderProxy(ctx, *assignment.ProviderProxyID)
	}

	if err := f.assignmentRepo.Delete(ctx, assignment.ID); err != nil {
		return nil, NewBusinessError("RELEASE_PROXY_FAILED", "Failed to remove proxy assignment", err)
	}

	return &dto.ReleaseProxyResponse{
		Released:       true,
		AssignmentUUID: assignment.UUID.String(),
	}, nil
}

// GetAssignmentStatus reports the expert's current assignment without
// touching the provider
func (f *ProxyAssignmentFlowImpl) GetAssignmentStatus(ctx context.Context, expertUUID string) (*dto.ProxyStatusResponse, error) {
	expert, err := f.getExpert(ctx, expertUUID)
	if err != nil {
		return nil, err
	}

	assignment, err := f.assignmentRepo.LiveByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("GET_STATUS_FAILED", "Failed to load proxy assignment", err)
	}
	if assignment == nil {
		return &dto.ProxyStatusResponse{HasAssignment: false}, nil
	}

	d := ToProxyAssignmentDTO(assignment, expert.UUID.String())
	return &dto.ProxyStatusResponse{
		HasAssignment: true,
		Assignment:    &d,
	}, nil
}

// RunHealthCheck decrypts the stored credentials, runs one connectivity
// round trip and folds the result into the assignment's health fields
func (f *ProxyAssignmentFlowImpl) RunHealthCheck(ctx context.Context, expertUUID string) (*dto.ProxyHealthCheckResponse, error) {
	expert, err := f.getExpert(ctx, expertUUID)
	if err != nil {
		return nil, err
	}

	assignment, err := f.assignmentRepo.LiveByExpert(ctx, expert.ID)
	if err != nil {
		return nil, NewBusinessError("HEALTH_CHECK_FAILED", "Failed to load proxy assignment", err)
	}
	if assignment == nil {
		return nil, NewBusinessError("NO_PROXY_ASSIGNED", "Expert has no live proxy assignment", ErrNoProxyAssigned)
	}

	result, err := f.CheckAssignmentHealth(ctx, assignment)
	if err != nil {
		return nil, err
	}

	if err := f.assignmentRepo.Update(ctx, assignment); err != nil {
		return nil, NewBusinessError("HEALTH_CHECK_FAILED", "Failed to persist health check result", err)
	}

	return result, nil
}

// CheckAssignmentHealth runs one connectivity test against an assignment and
// folds the result into its health fields in place. Callers persist, so the
// monitor sweep can batch this with its other per-proxy writes. Shared by
// the on-demand endpoint and the background monitor.
func (f *ProxyAssignmentFlowImpl) CheckAssignmentHealth(ctx context.Context, assignment *models.ProxyAssignment) (*dto.ProxyHealthCheckResponse, error) {
	creds, err := f.DecryptAssignmentCredentials(assignment)
	if err != nil {
		return nil, NewBusinessError("CREDENTIAL_DECRYPTION_FAILED", "Failed to decrypt proxy credentials", err)
	}

	testResult, err := f.proxyClient.TestConnection(ctx, creds)
	if err != nil {
		return nil, NewBusinessError("HEALTH_CHECK_FAILED", "Could not run connectivity test", err)
	}

	now := utils.UTCNow()
	if testResult.Success {
		assignment.ConsecutiveFailures = 0
		assignment.HealthCheckStatus = models.HealthStatusHealthy
		if assignment.AverageResponseTimeMs == nil {
			assignment.AverageResponseTimeMs = utils.ToPtr(int64(testResult.ResponseTimeMs))
		} else {
			// Exponentially weighted average, biased toward history.
			updated := (*assignment.AverageResponseTimeMs*7 + int64(testResult.ResponseTimeMs)*3) / 10
			assignment.AverageResponseTimeMs = &updated
		}
	} else {
		assignment.ConsecutiveFailures++
		if assignment.ConsecutiveFailures >= utils.HealthFailureAlertThreshold {
			assignment.HealthCheckStatus = models.HealthStatusFailed
		} else {
			assignment.HealthCheckStatus = models.HealthStatusDegraded
		}
	}
	assignment.HealthCheckedAt = &now
	assignment.UpdatedAt = now

	return &dto.ProxyHealthCheckResponse{
		AssignmentUUID:    assignment.UUID.String(),
		Healthy:           testResult.Success,
		ResponseTimeMs:    testResult.ResponseTimeMs,
		HealthCheckStatus: assignment.HealthCheckStatus,
		Error:             testResult.Err,
	}, nil
}

// DecryptAssignmentCredentials rebuilds the vault blob from the assignment's
// credential columns and decrypts it
func (f *ProxyAssignmentFlowImpl) DecryptAssignmentCredentials(assignment *models.ProxyAssignment) (*services.ProxyCredentials, error) {
	if !assignment.HasCredentials() {
		return nil, ErrCredentialsMissing
	}

	blob := &services.EncryptedBlob{
		CipherText: *assignment.EncryptedCredentials,
		IV:         *assignment.CredentialsIV,
		AuthTag:    *assignment.CredentialsAuthTag,
		KeyID:      *assignment.CredentialsKeyID,
	}
	return f.vault.Decrypt(blob)
}

func (f *ProxyAssignmentFlowImpl) getExpert(ctx context.Context, expertUUID string) (*models.ExpertPersona, error) {
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
	return expert, nil
}

func (f *ProxyAssignmentFlowImpl) getActiveExpert(ctx context.Context, expertUUID string) (*models.ExpertPersona, error) {
	expert, err := f.getExpert(ctx, expertUUID)
	if err != nil {
		return nil, err
	}
	if !expert.IsActive() {
		return nil, NewBusinessError("EXPERT_INACTIVE", "Expert persona is not active", ErrExpertInactive)
	}
	return expert, nil
}

// failAssignment funnels every failure path through UpdateStatus so the
// reason and timestamp always land together
func (f *ProxyAssignmentFlowImpl) failAssignment(ctx context.Context, assignmentID uint, reason string) {
	if err := f.assignmentRepo.UpdateStatus(ctx, assignmentID, models.AssignmentStatusFailed, reason); err != nil {
		fmt.Printf("Warning: failed to mark assignment %d as failed: %v\n", assignmentID, err)
	}
}

// deleteProviderProxy best-effort releases a provider proxy after a failed
// assignment so it stops billing
func (f *ProxyAssignmentFlowImpl) deleteProviderProxy(ctx context.Context, providerProxyID string) {
	if err := f.proxyClient.DeleteProxy(ctx, providerProxyID); err != nil {
		fmt.Printf("Warning: failed to release provider proxy %s: %v\n", providerProxyID, err)
	}
}
