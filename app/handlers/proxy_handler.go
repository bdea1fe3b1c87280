package handlers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	businessflow "github.com/McFlipperson/Island-Properties-APP-sub000/business_flow"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// ProxyHandlerInterface defines the contract for proxy lifecycle handlers
type ProxyHandlerInterface interface {
	AssignProxy(c fiber.Ctx) error
	ReleaseProxy(c fiber.Ctx) error
	GetStatus(c fiber.Ctx) error
	RunHealthCheck(c fiber.Ctx) error
}

// ProxyHandler handles proxy lifecycle HTTP requests
type ProxyHandler struct {
	proxyFlow businessflow.ProxyAssignmentFlow
	validator *validator.Validate
}

// NewProxyHandler creates a new proxy handler
func NewProxyHandler(proxyFlow businessflow.ProxyAssignmentFlow) *ProxyHandler {
	return &ProxyHandler{
		proxyFlow: proxyFlow,
		validator: validator.New(),
	}
}

func (h *ProxyHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *ProxyHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// AssignProxy handles a proxy assignment request for an expert persona
func (h *ProxyHandler) AssignProxy(c fiber.Ctx) error {
	var req dto.AssignProxyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.proxyFlow.AssignProxy(h.createRequestContext(c, "/api/v1/proxies/assign", 2*time.Minute), &req, metadata)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsExpertInactive(err) {
			return h.ErrorResponse(c, fiber.StatusForbidden, "Expert persona is not active", "EXPERT_INACTIVE", nil)
		}
		if businessflow.IsAlreadyAssigned(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Expert already has a live proxy assignment", "ALREADY_ASSIGNED", nil)
		}
		if businessflow.IsProxyLimitExceeded(err) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Proxy limit for expert reached", "PROXY_LIMIT_EXCEEDED", nil)
		}
		if businessflow.IsBudgetExceeded(err) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Monthly proxy budget is exhausted", "BUDGET_EXCEEDED", nil)
		}
		if businessflow.IsAssignmentLockBusy(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Another assignment operation is in progress", "ASSIGNMENT_IN_PROGRESS", nil)
		}

		log.Println("Proxy assignment failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Proxy assignment failed", "ASSIGN_PROXY_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Proxy assigned successfully", result)
}

// ReleaseProxy handles proxy teardown for an expert persona
func (h *ProxyHandler) ReleaseProxy(c fiber.Ctx) error {
	var req dto.ReleaseProxyRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))

	result, err := h.proxyFlow.ReleaseProxy(h.createRequestContext(c, "/api/v1/proxies/release", 1*time.Minute), &req, metadata)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsNoProxyAssigned(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert has no live proxy assignment", "NO_PROXY_ASSIGNED", nil)
		}
		if businessflow.IsAssignmentLockBusy(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Another assignment operation is in progress", "ASSIGNMENT_IN_PROGRESS", nil)
		}

		log.Println("Proxy release failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Proxy release failed", "RELEASE_PROXY_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Proxy released", result)
}

// GetStatus reports the expert's current assignment
func (h *ProxyHandler) GetStatus(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	if expertUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID is required", "VALIDATION_ERROR", nil)
	}

	result, err := h.proxyFlow.GetAssignmentStatus(h.createRequestContext(c, "/api/v1/proxies/status", 30*time.Second), expertUUID)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}

		log.Println("Proxy status lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Status lookup failed", "GET_STATUS_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Proxy status retrieved", result)
}

// RunHealthCheck runs an on-demand connectivity test against the expert's proxy
func (h *ProxyHandler) RunHealthCheck(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	if expertUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID is required", "VALIDATION_ERROR", nil)
	}

	result, err := h.proxyFlow.RunHealthCheck(h.createRequestContext(c, "/api/v1/proxies/health-check", 1*time.Minute), expertUUID)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsNoProxyAssigned(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert has no live proxy assignment", "NO_PROXY_ASSIGNED", nil)
		}

		log.Println("Proxy health check failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Health check failed", "HEALTH_CHECK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Health check completed", result)
}

// createRequestContext creates a context with timeout and request-scoped values
func (h *ProxyHandler) createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}
