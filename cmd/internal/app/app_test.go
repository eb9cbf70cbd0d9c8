package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/invite"
	"github.com/huntiezz/bytehackv3-sub001/cmd/internal/moderation"
	"github.com/huntiezz/bytehackv3-sub001/cmd/security/token"
)

func newTestApp(t *testing.T, mutate ...func(*Config)) *App {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Password.Params.MemoryKiB = 8 * 1024
	cfg.Password.Params.Iterations = 1
	cfg.Password.Params.Parallelism = 1
	cfg.API.CookieSecure = false
	for _, m := range mutate {
		m(&cfg)
	}

	a, err := New(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_MemoryModeEndToEnd(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx := context.Background()
	max := 1
	_, err = a.Invites.Create(ctx, invite.CreateInput{Code: "BOOT", MaxUses: &max, TTL: time.Hour})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]string{
		"email": "first@example.com", "password": "a-long-enough-secret", "username": "first", "invite_code": "BOOT",
	})
	resp, err = http.Post(srv.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	v, err := a.Invites.Validate(ctx, "BOOT")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, invite.ReasonExhausted, v.Reason)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	metrics, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "bytehack_http_requests_total")
	assert.Contains(t, string(metrics), "bytehack_ratelimit_")
}

func TestApp_JobsRegistered(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, []string{TaskPurgeTokens, TaskPurgeBuckets}, a.Jobs.Tasks())

	n, err := a.Jobs.RunNow(context.Background(), TaskPurgeTokens)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApp_FeedRequiresStaff(t *testing.T) {
	a := newTestApp(t, func(c *Config) { c.Feed.AllowedOrigins = []string{"*"} })
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+FeedPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", srv.URL)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestApp_GateFailMode(t *testing.T) {
	a := newTestApp(t)
	assert.Equal(t, moderation.FailOpen, a.Gate.FailMode())

	a = newTestApp(t, func(c *Config) { c.Moderation.FailMode = "closed" })
	assert.Equal(t, moderation.FailClosed, a.Gate.FailMode())
}

func TestApp_ProductionNeedsDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Env = "production"
	require.Error(t, cfg.Validate())

	_, err := New(context.Background(), cfg, discardLogger())
	require.ErrorIs(t, err, ErrNoDatabase)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bytehack.yaml")
	require.NoError(t, os.WriteFile(file, []byte(strings.Join([]string{
		"http:",
		"  addr: 127.0.0.1:9000",
		"log:",
		"  format: pretty",
		"api:",
		"  login:",
		"    limit: 3",
		"    window: 30s",
		"moderation:",
		"  fail_mode: closed",
	}, "\n")), 0o600))

	t.Setenv("BYTEHACK_LOG_LEVEL", "debug")
	t.Setenv("BYTEHACK_HTTP_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("BYTEHACK_JOBS_BUCKET_GRACE", "2h")

	cfg, err := LoadConfig(NewViper(), file)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, "pretty", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3, cfg.API.LoginRule.Limit)
	assert.Equal(t, 30*time.Second, cfg.API.LoginRule.Window)
	assert.Equal(t, "closed", cfg.Moderation.FailMode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSAllowedOrigins)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.BucketGrace)

	// Untouched settings keep their defaults.
	assert.Equal(t, DefaultConfig().API.RegisterRule, cfg.API.RegisterRule)
	assert.Equal(t, DefaultConfig().PostToken.Limits, cfg.PostToken.Limits)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Moderation.FailMode = "sideways"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.PostToken.SecretHex = "abcd"
	require.ErrorIs(t, cfg.Validate(), token.ErrSecretTooShort)

	cfg = DefaultConfig()
	cfg.PostToken.SecretHex = strings.Repeat("zz", 32)
	require.ErrorIs(t, cfg.Validate(), token.ErrSecretEncoding)

	cfg = DefaultConfig()
	cfg.PostToken.SecretHex = strings.Repeat("ab", 32)
	require.NoError(t, cfg.Validate())
	b, err := cfg.postTokenSecret()
	require.NoError(t, err)
	assert.Len(t, b, 32)
}
