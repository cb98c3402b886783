// Package audit records every OAuth flow branch, success or failure, as a
// structured event. Events carry the caller's IP and user agent plus a
// correlation id, and never the authorization code, state parameter or token
// values.
package audit

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is one audit record for an OAuth flow step.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	Action        string    `json:"action"`
	CorrelationID string    `json:"correlation_id"`
	TenantID      string    `json:"tenant_id,omitempty"`
	IntegrationID string    `json:"integration_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Provider      string    `json:"provider,omitempty"`
	RemoteIP      string    `json:"remote_ip,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Success       bool      `json:"success"`
}

// Logger writes audit events through zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger writing to stdout.
func NewLogger() *Logger {
	return &Logger{logger: log.Output(os.Stdout).With().Str("component", "audit").Logger()}
}

// NewLoggerWith wraps an existing zerolog logger, mainly for tests.
func NewLoggerWith(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Record emits one event. Timestamps are filled in here so callers only
// describe what happened.
func (l *Logger) Record(event Event) {
	event.Timestamp = time.Now().UTC()

	entry := l.logger.Info()
	if !event.Success {
		entry = l.logger.Warn()
	}
	entry.
		Str("action", event.Action).
		Str("correlation_id", event.CorrelationID).
		Str("tenant_id", event.TenantID).
		Str("integration_id", event.IntegrationID).
		Str("user_id", event.UserID).
		Str("provider", event.Provider).
		Str("remote_ip", event.RemoteIP).
		Str("user_agent", event.UserAgent).
		Str("error_code", event.ErrorCode).
		Str("detail", event.Detail).
		Bool("success", event.Success).
		Msg("oauth audit event")
}
