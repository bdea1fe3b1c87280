package utils

import (
	"time"
)

// Context keys used by handlers to propagate request metadata into flows
type ContextKey string

const (
	RequestIDKey  ContextKey = "request_id"
	UserAgentKey  ContextKey = "user_agent"
	IPAddressKey  ContextKey = "ip_address"
	EndpointKey   ContextKey = "endpoint"
	TimeoutKey    ContextKey = "timeout"
	CancelFuncKey ContextKey = "cancel_func"
)

// Verification session and code time constants
const (
	// SessionExpiry is the hard lifetime of a verification session (30 minutes)
	SessionExpiry = 30 * time.Minute

	// CodeExpiry is the time-to-live for an extracted verification code (10 minutes)
	CodeExpiry = 10 * time.Minute

	// SessionMaxAttempts is the retry budget initialized on a new session
	SessionMaxAttempts = 3
)

// Extraction constants
const (
	// MinCodeLength and MaxCodeLength bound accepted verification codes
	MinCodeLength = 4
	MaxCodeLength = 8

	// ConfidenceThreshold is the cutoff at or below which a matched token is
	// treated as no match at all
	ConfidenceThreshold = 0.60

	// ConfidenceCap is the maximum reported confidence
	ConfidenceCap = 0.99
)

// Proxy monitoring constants
const (
	// HealthFailureAlertThreshold is the consecutive-failure count at which
	// a failed connectivity test raises a critical health alert
	HealthFailureAlertThreshold = 3

	// ResponseTimeAlertThreshold triggers a performance alert
	ResponseTimeAlertThreshold = 10 * time.Second

	// AlertCooldown is the minimum time between two alerts of the same
	// (proxy, type) pair
	AlertCooldown = 30 * time.Minute

	// DegradedRollupRatio and CriticalRollupRatio drive the system health roll-up
	DegradedRollupRatio = 0.30
	CriticalRollupRatio = 0.50
)
