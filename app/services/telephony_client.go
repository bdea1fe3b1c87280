package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/McFlipperson/Island-Properties-APP-sub000/config"
)

// Telephony error constants
var (
	ErrNoNumbersInInventory = errors.New("no numbers available in provider inventory")
)

// TelephonyAPIError is a non-2xx response from the telephony provider
type TelephonyAPIError struct {
	StatusCode int
	Body       string
}

func (e *TelephonyAPIError) Error() string {
	return fmt.Sprintf("telephony API error: status %d: %s", e.StatusCode, e.Body)
}

// AvailableNumber is a purchasable number from the provider's inventory
type AvailableNumber struct {
	Number       string   `json:"phone_number"`
	CountryCode  string   `json:"iso_country"`
	Region       string   `json:"region"`
	Capabilities []string `json:"capabilities"`
}

// PurchasedNumber is a number the account now owns
type PurchasedNumber struct {
	SID          string   `json:"sid"`
	Number       string   `json:"phone_number"`
	CountryCode  string   `json:"iso_country"`
	Capabilities []string `json:"capabilities"`
}

// TelephonyClient manages phone number inventory with the SMS provider
type TelephonyClient interface {
	SearchNumbers(ctx context.Context, countryCode string, smsOnly bool) ([]*AvailableNumber, error)
	PurchaseNumber(ctx context.Context, number string) (*PurchasedNumber, error)
	ConfigureWebhooks(ctx context.Context, providerSID string) error
	ReleaseNumber(ctx context.Context, providerSID string) error
}

// TelephonyClientImpl implements TelephonyClient
type TelephonyClientImpl struct {
	cfg        *config.TelephonyConfig
	httpClient *http.Client
}

// NewTelephonyClient creates a new telephony provider client
func NewTelephonyClient(cfg *config.TelephonyConfig) TelephonyClient {
	return &TelephonyClientImpl{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *TelephonyClientImpl) doRequest(ctx context.Context, method, path string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telephony request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read telephony response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TelephonyAPIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse telephony response: %w", err)
		}
	}

	return nil
}

// SearchNumbers lists purchasable numbers for a country, optionally filtered
// to SMS-capable inventory
func (c *TelephonyClientImpl) SearchNumbers(ctx context.Context, countryCode string, smsOnly bool) ([]*AvailableNumber, error) {
	if countryCode == "" {
		countryCode = c.cfg.DefaultCountry
	}

	path := fmt.Sprintf("/AvailablePhoneNumbers/%s/Local.json?PageSize=%d",
		url.PathEscape(countryCode), c.cfg.SearchResultLimit)
	if smsOnly {
		path += "&SmsEnabled=true"
	}

	var result struct {
		AvailablePhoneNumbers []*AvailableNumber `json:"available_phone_numbers"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}

	if len(result.AvailablePhoneNumbers) == 0 {
		return nil, ErrNoNumbersInInventory
	}

	return result.AvailablePhoneNumbers, nil
}

// PurchaseNumber buys a specific number from the provider inventory
func (c *TelephonyClientImpl) PurchaseNumber(ctx context.Context, number string) (*PurchasedNumber, error) {
	form := url.Values{}
	form.Set("PhoneNumber", number)

	var purchased PurchasedNumber
	if err := c.doRequest(ctx, http.MethodPost, "/IncomingPhoneNumbers.json", form, &purchased); err != nil {
		return nil, err
	}

	return &purchased, nil
}

// ConfigureWebhooks points the number's inbound SMS and voice callbacks at
// this service. A number without webhooks configured receives messages that
// go nowhere, so provisioning treats webhook failure as fatal.
func (c *TelephonyClientImpl) ConfigureWebhooks(ctx context.Context, providerSID string) error {
	form := url.Values{}
	form.Set("SmsUrl", c.cfg.SMSWebhookURL)
	form.Set("SmsMethod", http.MethodPost)
	if c.cfg.VoiceWebhookURL != "" {
		form.Set("VoiceUrl", c.cfg.VoiceWebhookURL)
		form.Set("VoiceMethod", http.MethodPost)
	}

	path := "/IncomingPhoneNumbers/" + url.PathEscape(providerSID) + ".json"
	return c.doRequest(ctx, http.MethodPost, path, form, nil)
}

// ReleaseNumber returns a number to the provider. A 404 means the number is
// already gone, which is the desired end state.
func (c *TelephonyClientImpl) ReleaseNumber(ctx context.Context, providerSID string) error {
	path := "/IncomingPhoneNumbers/" + url.PathEscape(providerSID) + ".json"
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		var apiErr *TelephonyAPIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// MockTelephonyClient is a mock implementation for testing
type MockTelephonyClient struct {
	SearchNumbersFunc     func(ctx context.Context, countryCode string, smsOnly bool) ([]*AvailableNumber, error)
	PurchaseNumberFunc    func(ctx context.Context, number string) (*PurchasedNumber, error)
	ConfigureWebhooksFunc func(ctx context.Context, providerSID string) error
	ReleaseNumberFunc     func(ctx context.Context, providerSID string) error

	SearchCalls    int
	PurchaseCalls  int
	ConfigureCalls int
	ReleaseCalls   int
	ReleasedSIDs   []string
}

func (m *MockTelephonyClient) SearchNumbers(ctx context.Context, countryCode string, smsOnly bool) ([]*AvailableNumber, error) {
	m.SearchCalls++
	if m.SearchNumbersFunc != nil {
		return m.SearchNumbersFunc(ctx, countryCode, smsOnly)
	}
	return []*AvailableNumber{
		{
			Number:       "+639171234567",
			CountryCode:  "PH",
			Region:       "NCR",
			Capabilities: []string{"sms", "voice"},
		},
	}, nil
}

func (m *MockTelephonyClient) PurchaseNumber(ctx context.Context, number string) (*PurchasedNumber, error) {
	m.PurchaseCalls++
	if m.PurchaseNumberFunc != nil {
		return m.PurchaseNumberFunc(ctx, number)
	}
	return &PurchasedNumber{
		SID:          "PN" + uuid.New().String()[:16],
		Number:       number,
		CountryCode:  "PH",
		Capabilities: []string{"sms", "voice"},
	}, nil
}

func (m *MockTelephonyClient) ConfigureWebhooks(ctx context.Context, providerSID string) error {
	m.ConfigureCalls++
	if m.ConfigureWebhooksFunc != nil {
		return m.ConfigureWebhooksFunc(ctx, providerSID)
	}
	return nil
}

func (m *MockTelephonyClient) ReleaseNumber(ctx context.Context, providerSID string) error {
	m.ReleaseCalls++
	m.ReleasedSIDs = append(m.ReleasedSIDs, providerSID)
	if m.ReleaseNumberFunc != nil {
		return m.ReleaseNumberFunc(ctx, providerSID)
	}
	return nil
}
