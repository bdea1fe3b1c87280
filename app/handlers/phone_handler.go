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

// PhoneHandlerInterface defines the contract for phone number handlers
type PhoneHandlerInterface interface {
	ProvisionNumber(c fiber.Ctx) error
	ReleaseNumber(c fiber.Ctx) error
	GetNumberStatus(c fiber.Ctx) error
}

// PhoneHandler handles phone number HTTP requests
type PhoneHandler struct {
	phoneFlow businessflow.PhoneNumberFlow
	validator *validator.Validate
}

// NewPhoneHandler creates a new phone number handler
func NewPhoneHandler(phoneFlow businessflow.PhoneNumberFlow) *PhoneHandler {
	return &PhoneHandler{
		phoneFlow: phoneFlow,
		validator: validator.New(),
	}
}

func (h *PhoneHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *PhoneHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ProvisionNumber purchases and assigns a number for an expert persona
func (h *PhoneHandler) ProvisionNumber(c fiber.Ctx) error {
	var req dto.ProvisionNumberRequest
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

	result, err := h.phoneFlow.ProvisionNumber(h.createRequestContext(c, "/api/v1/phone-numbers/provision", 2*time.Minute), &req, metadata)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsPhoneLimitExceeded(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Expert already holds the maximum number of phone numbers", "PHONE_LIMIT_EXCEEDED", nil)
		}
		if businessflow.IsNoNumbersAvailable(err) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "No SMS-capable numbers available", "NO_NUMBERS_AVAILABLE", nil)
		}

		log.Println("Number provisioning failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Number provisioning failed", "PROVISION_NUMBER_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Phone number provisioned", result)
}

// ReleaseNumber returns the expert's number to the provider
func (h *PhoneHandler) ReleaseNumber(c fiber.Ctx) error {
	var req dto.ReleaseNumberRequest
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

	result, err := h.phoneFlow.ReleaseNumber(h.createRequestContext(c, "/api/v1/phone-numbers/release", 1*time.Minute), &req, metadata)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}

		log.Println("Number release failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Number release failed", "RELEASE_NUMBER_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Phone number released", result)
}

// GetNumberStatus reports the expert's active number
func (h *PhoneHandler) GetNumberStatus(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	if expertUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID is required", "VALIDATION_ERROR", nil)
	}

	result, err := h.phoneFlow.GetNumberStatus(h.createRequestContext(c, "/api/v1/phone-numbers/status", 30*time.Second), expertUUID)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsNoActivePhoneNumber(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert has no active phone number", "NO_ACTIVE_NUMBER", nil)
		}

		log.Println("Number status lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Number status lookup failed", "GET_NUMBER_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Phone number status retrieved", result)
}

// createRequestContext creates a context with timeout and request-scoped values
func (h *PhoneHandler) createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}
