package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/specforge/internal/auth"
	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/requestid"
)

const actorKey = "actor"

func isHealthPath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// requestID takes the caller's X-Request-ID or mints one, and puts it on the
// user context so services log it.
func (s *Server) requestID(c *fiber.Ctx) error {
	id := c.Get(requestid.Header)
	ctx := c.UserContext()
	if id == "" {
		ctx, id = requestid.New(ctx)
	} else {
		ctx = requestid.WithRequestID(ctx, id)
	}
	c.SetUserContext(ctx)
	c.Set(requestid.Header, id)
	c.Locals("request_id", id)
	return c.Next()
}

// observe logs every non-health request and records its latency by route.
func (s *Server) observe(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	if err != nil {
		// Let the error handler write the response so the status is final.
		if herr := s.app.ErrorHandler(c, err); herr != nil {
			_ = c.SendStatus(fiber.StatusInternalServerError)
		}
	}

	path := c.Path()
	if isHealthPath(path) {
		return nil
	}
	status := c.Response().StatusCode()
	elapsed := time.Since(start)
	s.metrics.RecordRequest(c.Route().Path, strconv.Itoa(status), elapsed.Seconds())

	log := requestid.Logger(c.UserContext(), s.logger)
	log.Info().
		Str("method", c.Method()).
		Str("path", path).
		Int("status", status).
		Dur("duration", elapsed).
		Str("ip", c.IP()).
		Msg("api request")
	return nil
}

// authenticate resolves the bearer token into an actor.
func (s *Server) authenticate(c *fiber.Ctx) error {
	token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return errorResponse(c, err)
	}
	actor, err := s.resolver.ResolveActor(c.UserContext(), token)
	if err != nil {
		s.logger.Warn().
			Str("path", c.Path()).
			Str("method", c.Method()).
			Str("reason", err.Error()).
			Msg("unauthorized request")
		return errorResponse(c, err)
	}
	c.Locals(actorKey, actor)
	return c.Next()
}

func actorFrom(c *fiber.Ctx) models.Actor {
	actor, _ := c.Locals(actorKey).(models.Actor)
	return actor
}
