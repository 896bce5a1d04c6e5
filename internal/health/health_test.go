package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestLivenessHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
	assert.Len(t, c.Cached(), 2)
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestPingCheck(t *testing.T) {
	assert.Equal(t, StatusOK, PingCheck(pinger{})(context.Background()))
	assert.Equal(t, StatusDown, PingCheck(pinger{err: errors.New("closed")})(context.Background()))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", PingCheck(pinger{}))
	app := fiber.New()
	app.Get("/readyz", c.ReadinessHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var r Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
	assert.Equal(t, "ready", r.Status)
	assert.Equal(t, StatusOK, r.Checks["store"])

	c.Register("store", PingCheck(pinger{err: errors.New("closed")}))
	resp, err = app.Test(httptest.NewRequest("GET", "/readyz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
