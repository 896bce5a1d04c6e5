package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	perrors "github.com/p-blackswan/specforge/internal/errors"
	"github.com/p-blackswan/specforge/internal/models"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
	// TaskID names the failed task when generation failed after the task
	// was recorded.
	TaskID string `json:"task_id,omitempty"`
}

type problemKind struct {
	status int
	title  string
}

var kindProblems = map[perrors.Kind]problemKind{
	perrors.KindNotFound:          {fiber.StatusNotFound, "Not Found"},
	perrors.KindForbidden:         {fiber.StatusForbidden, "Forbidden"},
	perrors.KindValidation:        {fiber.StatusBadRequest, "Bad Request"},
	perrors.KindGenerationFailed:  {fiber.StatusBadGateway, "Generation Failed"},
	perrors.KindConflictingUpdate: {fiber.StatusConflict, "Conflict"},
	perrors.KindUnauthorized:      {fiber.StatusUnauthorized, "Unauthorized"},
	perrors.KindUnavailable:       {fiber.StatusServiceUnavailable, "Service Unavailable"},
	perrors.KindInternal:          {fiber.StatusInternalServerError, "Internal Server Error"},
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// errorResponse maps a domain error onto a problem response by kind.
// Internal faults never leak their cause.
func errorResponse(c *fiber.Ctx, err error) error {
	kind := perrors.KindOf(err)
	p, ok := kindProblems[kind]
	if !ok {
		p = kindProblems[perrors.KindInternal]
		kind = perrors.KindInternal
	}
	detail := perrors.Reason(err)
	if kind == perrors.KindInternal {
		detail = "An internal error occurred"
	}
	return c.Status(p.status).JSON(ProblemDetail{
		Type:     string(kind),
		Title:    p.title,
		Status:   p.status,
		Detail:   detail,
		Instance: c.Path(),
	})
}

// taskErrorResponse is errorResponse for operations that may return the
// failed task alongside the error.
func taskErrorResponse(c *fiber.Ctx, task *models.Task, err error) error {
	if task == nil {
		return errorResponse(c, err)
	}
	kind := perrors.KindOf(err)
	p, ok := kindProblems[kind]
	if !ok || kind == perrors.KindInternal {
		return errorResponse(c, err)
	}
	return c.Status(p.status).JSON(ProblemDetail{
		Type:     string(kind),
		Title:    p.title,
		Status:   p.status,
		Detail:   perrors.Reason(err),
		Instance: c.Path(),
		TaskID:   task.ID,
	})
}

func customErrorHandler(s *Server) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return problemResponse(c, fe.Code, "http_error", utils.StatusMessage(fe.Code), fe.Message)
		}

		s.logger.Error().
			Err(err).
			Str("path", c.Path()).
			Str("method", c.Method()).
			Msg("unhandled error")
		return errorResponse(c, err)
	}
}
