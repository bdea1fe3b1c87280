package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/McFlipperson/Island-Properties-APP-sub000/app/dto"
	"github.com/McFlipperson/Island-Properties-APP-sub000/app/services"
	businessflow "github.com/McFlipperson/Island-Properties-APP-sub000/business_flow"
)

// stubVerificationFlow scripts the flow's answers so handler tests run
// without a database
type stubVerificationFlow struct {
	processFunc func(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error)
}

func (s *stubVerificationFlow) CreateSession(ctx context.Context, req *dto.CreateSessionRequest, metadata *businessflow.ClientMetadata) (*dto.CreateSessionResponse, error) {
	return nil, nil
}

func (s *stubVerificationFlow) ProcessInboundMessage(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
	return s.processFunc(ctx, req)
}

func (s *stubVerificationFlow) GetActiveCodes(ctx context.Context, expertUUID string) (*dto.ActiveCodesResponse, error) {
	return nil, nil
}

func (s *stubVerificationFlow) MarkCodeViewed(ctx context.Context, expertUUID, codeUUID string) error {
	return nil
}

func newWebhookApp(flow businessflow.VerificationFlow) *fiber.App {
	app := fiber.New()
	handler := NewVerificationHandler(flow, services.NewSSEStreamRegistry())
	app.Post("/api/v1/webhooks/sms", handler.SMSWebhook)
	return app
}

func postWebhookForm(t *testing.T, app *fiber.App, form url.Values) (int, dto.APIResponse) {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/v1/webhooks/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body dto.APIResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestSMSWebhook(t *testing.T) {
	form := url.Values{
		"MessageSid": {"SM0123456789abcdef"},
		"From":       {"+12025550123"},
		"To":         {"+639171234567"},
		"Body":       {"Your code: 482913"},
	}

	t.Run("ProcessedMessage", func(t *testing.T) {
		flow := &stubVerificationFlow{
			processFunc: func(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
				assert.Equal(t, "+639171234567", req.To)
				return &dto.ProcessMessageResponse{
					MessageUUID:      "m-1",
					ProcessingStatus: "processed",
				}, nil
			},
		}

		status, body := postWebhookForm(t, newWebhookApp(flow), form)
		assert.Equal(t, fiber.StatusOK, status)
		assert.True(t, body.Success)
	})

	t.Run("UnknownRecipientAnswersOK", func(t *testing.T) {
		// The provider retries any non-2xx, and a number we do not manage
		// never becomes routable, so the handler must acknowledge with 200
		// and carry the error in the body.
		flow := &stubVerificationFlow{
			processFunc: func(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
				return nil, businessflow.NewBusinessError("UNKNOWN_RECIPIENT", "Recipient is not a managed number", businessflow.ErrUnknownRecipient)
			},
		}

		status, body := postWebhookForm(t, newWebhookApp(flow), form)
		assert.Equal(t, fiber.StatusOK, status)
		assert.False(t, body.Success)

		errDetail, ok := body.Error.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "UNKNOWN_RECIPIENT", errDetail["code"])
	})

	t.Run("PipelineFailureAnswers500", func(t *testing.T) {
		flow := &stubVerificationFlow{
			processFunc: func(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
				return nil, businessflow.NewBusinessError("PROCESS_MESSAGE_FAILED", "Failed to persist inbound message", nil)
			},
		}

		status, body := postWebhookForm(t, newWebhookApp(flow), form)
		assert.Equal(t, fiber.StatusInternalServerError, status)
		assert.False(t, body.Success)
	})

	t.Run("MissingFieldsRejected", func(t *testing.T) {
		flow := &stubVerificationFlow{
			processFunc: func(ctx context.Context, req *dto.InboundSMSRequest) (*dto.ProcessMessageResponse, error) {
				t.Fatal("flow must not be called for an invalid payload")
				return nil, nil
			},
		}

		status, body := postWebhookForm(t, newWebhookApp(flow), url.Values{"Body": {"no sender"}})
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.False(t, body.Success)
	})
}
