package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (string, error)
}

func (s *stubProvider) Generate(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestClient(p Provider, interval time.Duration, cfg ClientConfig) *Client {
	return NewClient(p, NewThrottle(interval), cfg, zap.NewNop())
}

func TestCompleteNilProviderReturnsModelUnavailable(t *testing.T) {
	client := newTestClient(nil, time.Nanosecond, DefaultClientConfig())

	_, err := client.Complete(context.Background(), "hello", RoleParser)
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestCompleteSuccessStripsFences(t *testing.T) {
	provider := &stubProvider{fn: func(int) (string, error) {
		return "```python\nprint('hi')\n```", nil
	}}
	client := newTestClient(provider, time.Nanosecond, DefaultClientConfig())

	env, err := client.Complete(context.Background(), "gen", RoleBackend)
	require.NoError(t, err)
	assert.False(t, env.Fallback)
	assert.Equal(t, "print('hi')", env.Text)
	assert.Equal(t, 1, provider.callCount())
}

func TestCompleteQuotaExhaustionServesFallback(t *testing.T) {
	provider := &stubProvider{fn: func(int) (string, error) {
		return "", errors.New("429 rate limit exceeded, retry in 0.01s")
	}}
	client := newTestClient(provider, time.Nanosecond, ClientConfig{
		MaxAttempts:       3,
		DefaultRetryDelay: 5 * time.Millisecond,
	})

	env, err := client.Complete(context.Background(), "gen", RoleFrontend)
	require.NoError(t, err, "quota exhaustion must not surface as an error")
	assert.True(t, env.Fallback)
	assert.Contains(t, env.Text, "Demo Mode")
	assert.Equal(t, 3, provider.callCount(), "full attempt budget should be used")
}

func TestCompleteNonQuotaErrorFallsBackWithoutRetry(t *testing.T) {
	provider := &stubProvider{fn: func(int) (string, error) {
		return "", errors.New("UNAUTHORIZED: invalid API key")
	}}
	client := newTestClient(provider, time.Nanosecond, DefaultClientConfig())

	env, err := client.Complete(context.Background(), "gen", RoleBackend)
	require.NoError(t, err)
	assert.True(t, env.Fallback)
	assert.Equal(t, 1, provider.callCount())
}

func TestCompleteCancelledDuringBackoff(t *testing.T) {
	provider := &stubProvider{fn: func(int) (string, error) {
		return "", errors.New("quota exceeded")
	}}
	client := newTestClient(provider, time.Nanosecond, ClientConfig{
		MaxAttempts:       3,
		DefaultRetryDelay: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, "gen", RoleParser)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottleEnforcesMinimumSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	throttle := NewThrottle(interval)
	ctx := context.Background()

	require.NoError(t, throttle.Wait(ctx))
	start := time.Now()
	require.NoError(t, throttle.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, interval-5*time.Millisecond,
		"second call must wait out the interval, waited %v", elapsed)
}

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		err   error
		quota bool
	}{
		{nil, false},
		{errors.New("429 Too Many Requests"), true},
		{errors.New("QUOTA_EXCEEDED: daily limit"), true},
		{errors.New("Rate limit reached"), true},
		{errors.New("UNAUTHORIZED: bad key"), false},
		{errors.New("connection refused"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.quota, IsQuotaError(tc.err), "error: %v", tc.err)
	}
}

func TestExtractRetryDelay(t *testing.T) {
	fallback := 30 * time.Second
	cases := []struct {
		msg  string
		want time.Duration
	}{
		{"quota exceeded, retry in 12s", 12 * time.Second},
		{"quota exceeded, retry in 1.5s", 1500 * time.Millisecond},
		{"quota exceeded", fallback},
		{"retry in -3s somehow", fallback},
	}
	for _, tc := range cases {
		got := ExtractRetryDelay(fmt.Errorf("%s", tc.msg), fallback)
		assert.Equal(t, tc.want, got, "msg: %s", tc.msg)
	}
	assert.Equal(t, fallback, ExtractRetryDelay(nil, fallback))
}

func TestExtractEndpoints(t *testing.T) {
	code := `
@app.get("/items")
def get_items(): pass

@router.post('/api/login')
def login(): pass
`
	assert.Equal(t, []string{"GET /items", "POST /api/login"}, ExtractEndpoints(code))
	assert.Equal(t, []string{"GET /", "POST /data"}, ExtractEndpoints("no routes here"))
}

func TestExtractTableNames(t *testing.T) {
	sql := `CREATE TABLE users (id SERIAL);
CREATE TABLE IF NOT EXISTS orders (id SERIAL);`
	assert.Equal(t, []string{"users", "orders"}, ExtractTableNames(sql))
	assert.Equal(t, []string{"main_table"}, ExtractTableNames("SELECT 1"))
}

func TestCountTestFunctions(t *testing.T) {
	code := "def test_one():\n    pass\n\ndef test_two():\n    pass\n\ndef helper():\n    pass\n"
	assert.Equal(t, 2, CountTestFunctions(code))
}

func TestFallbackEnvelopeShapes(t *testing.T) {
	frontend := FallbackEnvelope(RoleFrontend)
	assert.True(t, frontend.Fallback)
	assert.Contains(t, frontend.Text, "export default function App()")

	backend := FallbackEnvelope(RoleBackend)
	assert.True(t, backend.Fallback)
	assert.NotEmpty(t, backend.Endpoints)

	database := FallbackEnvelope(RoleDatabase)
	assert.True(t, database.Fallback)
	assert.NotEmpty(t, database.Tables)

	legacy := FallbackEnvelope(RoleLegacy)
	assert.True(t, legacy.Fallback)
}
