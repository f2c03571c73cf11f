package ai

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Role selects response shaping for a completion call: the system
// instruction preamble, the post-processing pass and the fallback generator.
type Role string

const (
	RoleParser      Role = "parser"
	RoleFrontend    Role = "frontend"
	RoleBackend     Role = "backend"
	RoleDatabase    Role = "database"
	RoleIntegration Role = "integration"
	RoleTesting     Role = "testing"
	RoleLegacy      Role = "legacy"
)

// ErrModelUnavailable is the only hard error the completion client raises:
// no credentials or no provider configured. Everything else resolves to
// success with fallback content.
var ErrModelUnavailable = errors.New("ai: model unavailable (missing or invalid credentials)")

// Provider is the opaque text-completion service.
type Provider interface {
	// Generate returns the raw completion text for a prompt.
	Generate(ctx context.Context, prompt string) (string, error)
	// Name identifies the provider for logging and usage tracking.
	Name() string
}

// ProviderUsage tracks usage statistics for a provider.
type ProviderUsage struct {
	Provider     string    `json:"provider"`
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	AvgLatency   float64   `json:"avg_latency"`
	ErrorCount   int64     `json:"error_count"`
	LastUsed     time.Time `json:"last_used"`
}

// IsQuotaError classifies an error as a quota/rate failure worth retrying.
// Classification is by substring over the error text, the same heuristic the
// upstream SDKs force on callers.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate")
}

var retryDelayPattern = regexp.MustCompile(`retry in ([\d.]+)s`)

// ExtractRetryDelay pulls a suggested backoff out of a quota error message
// ("retry in 12s"). Returns fallback when the message names no delay.
func ExtractRetryDelay(err error, fallback time.Duration) time.Duration {
	if err == nil {
		return fallback
	}
	m := retryDelayPattern.FindStringSubmatch(err.Error())
	if len(m) != 2 {
		return fallback
	}
	seconds, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}
