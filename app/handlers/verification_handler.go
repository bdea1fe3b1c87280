package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	businessflow "github.com/McFlipperson/Island-Properties-APP-sub000/business_flow"
	"github.com/McFlipperson/Island-Properties-APP-sub000/utils"
)

// VerificationHandlerInterface defines the contract for verification handlers
type VerificationHandlerInterface interface {
	CreateSession(c fiber.Ctx) error
	SMSWebhook(c fiber.Ctx) error
	GetActiveCodes(c fiber.Ctx) error
	MarkCodeViewed(c fiber.Ctx) error
	StreamCodes(c fiber.Ctx) error
}

// VerificationHandler handles verification session and SMS pipeline HTTP requests
type VerificationHandler struct {
	verificationFlow businessflow.VerificationFlow
	streamRegistry   *services.SSEStreamRegistry
	validator        *validator.Validate
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(verificationFlow businessflow.VerificationFlow, streamRegistry *services.SSEStreamRegistry) *VerificationHandler {
	return &VerificationHandler{
		verificationFlow: verificationFlow,
		streamRegistry:   streamRegistry,
		validator:        validator.New(),
	}
}

func (h *VerificationHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *VerificationHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateSession opens a verification session for an expert's number
func (h *VerificationHandler) CreateSession(c fiber.Ctx) error {
	var req dto.CreateSessionRequest
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

	result, err := h.verificationFlow.CreateSession(h.createRequestContext(c, "/api/v1/verifications/sessions", 30*time.Second), &req, metadata)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}
		if businessflow.IsNoActivePhoneNumber(err) {
			return h.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Expert has no active phone number", "NO_ACTIVE_NUMBER", nil)
		}

		log.Println("Session creation failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Session creation failed", "CREATE_SESSION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Verification session created", result)
}

// SMSWebhook ingests the telephony provider's inbound SMS callback. The
// provider retries on non-2xx, so anything already persisted answers 200
// even when extraction found nothing.
func (h *VerificationHandler) SMSWebhook(c fiber.Ctx) error {
	var req dto.InboundSMSRequest
	if err := c.Bind().Form(&req); err != nil {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", "INVALID_REQUEST", err.Error())
		}
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.verificationFlow.ProcessInboundMessage(h.createRequestContext(c, "/api/v1/webhooks/sms", 30*time.Second), &req)
	if err != nil {
		if businessflow.IsUnknownRecipient(err) {
			// 200 with an error body: a 4xx here would make the provider
			// retry a message we will never be able to route.
			return h.ErrorResponse(c, fiber.StatusOK, "Recipient is not a managed number", "UNKNOWN_RECIPIENT", nil)
		}

		log.Println("Inbound SMS processing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Message processing failed", "PROCESS_MESSAGE_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Message processed", result)
}

// GetActiveCodes lists the expert's retrievable codes
func (h *VerificationHandler) GetActiveCodes(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	if expertUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID is required", "VALIDATION_ERROR", nil)
	}

	result, err := h.verificationFlow.GetActiveCodes(h.createRequestContext(c, "/api/v1/verifications/codes", 30*time.Second), expertUUID)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}

		log.Println("Active code listing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Code listing failed", "GET_CODES_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Active codes retrieved", result)
}

// MarkCodeViewed records that the expert has seen a code
func (h *VerificationHandler) MarkCodeViewed(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	codeUUID := c.Params("codeUUID")
	if expertUUID == "" || codeUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID and code UUID are required", "VALIDATION_ERROR", nil)
	}

	err := h.verificationFlow.MarkCodeViewed(h.createRequestContext(c, "/api/v1/verifications/codes/viewed", 30*time.Second), expertUUID, codeUUID)
	if err != nil {
		if businessflow.IsExpertNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Expert persona not found", "EXPERT_NOT_FOUND", nil)
		}

		log.Println("Mark code viewed failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to mark code as viewed", "MARK_VIEWED_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Code marked as viewed", nil)
}

// StreamCodes holds an SSE stream open and pushes extracted codes to the
// expert's dashboard as they arrive
func (h *VerificationHandler) StreamCodes(c fiber.Ctx) error {
	expertUUID := c.Params("expertUUID")
	if expertUUID == "" {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Expert UUID is required", "VALIDATION_ERROR", nil)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	ch, unsubscribe := h.streamRegistry.Subscribe(expertUUID)

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		// Tell the client the stream is live before the first code.
		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		heartbeat := time.NewTicker(25 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case notification, ok := <-ch:
				if !ok {
					return
				}
				payload, err := json.Marshal(notification)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: code\ndata: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					return
				}
			case <-heartbeat.C:
				fmt.Fprintf(w, ": heartbeat\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
}

// createRequestContext creates a context with timeout and request-scoped values
func (h *VerificationHandler) createRequestContext(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}
