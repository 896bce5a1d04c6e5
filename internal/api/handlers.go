package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/specforge/internal/models"
	"github.com/p-blackswan/specforge/internal/project"
)

// UpdateSpecRequest is the payload for PUT /projects/:id/specs/:docType.
type UpdateSpecRequest struct {
	Content string `json:"content"`
}

// RollbackRequest is the payload for POST .../specs/:docType/rollback.
type RollbackRequest struct {
	VersionID string `json:"version_id"`
}

// SubmitTaskRequest is the payload for POST /projects/:id/tasks.
type SubmitTaskRequest struct {
	Capability  models.Capability `json:"capability"`
	Description string            `json:"description"`
	// Async queues the task on the worker pool and returns it pending.
	Async bool `json:"async,omitempty"`
}

// ModifyRequest is the payload for POST /changes/:id/modify.
type ModifyRequest struct {
	Feedback string `json:"feedback"`
}

// ListResponse wraps collection results.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func list[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}

func badBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}

// --- subscription ---

func (s *Server) getSubscription(c *fiber.Ctx) error {
	sub, err := s.svc.Projects.Subscription(c.UserContext(), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sub)
}

// --- projects ---

func (s *Server) createProject(c *fiber.Ctx) error {
	var in project.CreateInput
	if err := c.BodyParser(&in); err != nil {
		return badBody(c, err)
	}
	p, err := s.svc.Projects.Create(c.UserContext(), actorFrom(c), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	status := models.ProjectStatus(c.Query("status"))
	projects, err := s.svc.Projects.List(c.UserContext(), actorFrom(c), status)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(projects))
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.svc.Projects.Get(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(p)
}

func (s *Server) updateProject(c *fiber.Ctx) error {
	var in project.UpdateInput
	if err := c.BodyParser(&in); err != nil {
		return badBody(c, err)
	}
	p, err := s.svc.Projects.Update(c.UserContext(), c.Params("id"), actorFrom(c), in)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(p)
}

func (s *Server) deleteProject(c *fiber.Ctx) error {
	if err := s.svc.Projects.Delete(c.UserContext(), c.Params("id"), actorFrom(c)); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) projectSummary(c *fiber.Ctx) error {
	sum, err := s.svc.Projects.Summary(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(sum)
}

// --- spec documents ---

func (s *Server) listSpecs(c *fiber.Ctx) error {
	docs, err := s.svc.Ledger.List(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(docs))
}

func (s *Server) getSpec(c *fiber.Ctx) error {
	doc, err := s.svc.Ledger.Get(c.UserContext(), c.Params("id"), models.DocType(c.Params("docType")), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(doc)
}

func (s *Server) updateSpec(c *fiber.Ctx) error {
	var req UpdateSpecRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	doc, err := s.svc.Ledger.Update(c.UserContext(), c.Params("id"), models.DocType(c.Params("docType")), req.Content, actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(doc)
}

func (s *Server) listSpecVersions(c *fiber.Ctx) error {
	versions, err := s.svc.Ledger.ListVersions(c.UserContext(), c.Params("id"), models.DocType(c.Params("docType")), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(versions))
}

func (s *Server) rollbackSpec(c *fiber.Ctx) error {
	var req RollbackRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if req.VersionID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"validation_failed", "Bad Request",
			"version_id is required")
	}
	doc, err := s.svc.Ledger.Rollback(c.UserContext(), c.Params("id"), models.DocType(c.Params("docType")), req.VersionID, actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(doc)
}

// --- tasks ---

func (s *Server) submitTask(c *fiber.Ctx) error {
	var req SubmitTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	ctx, actor, projectID := c.UserContext(), actorFrom(c), c.Params("id")

	if req.Async || c.QueryBool("async") {
		task, err := s.svc.Orchestrator.SubmitAsync(ctx, projectID, req.Capability, req.Description, actor)
		if err != nil {
			return taskErrorResponse(c, task, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(task)
	}

	task, err := s.svc.Orchestrator.Submit(ctx, projectID, req.Capability, req.Description, actor)
	if err != nil {
		return taskErrorResponse(c, task, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

func (s *Server) listTasks(c *fiber.Ctx) error {
	status := models.TaskStatus(c.Query("status"))
	tasks, err := s.svc.Orchestrator.ListTasks(c.UserContext(), c.Params("id"), actorFrom(c), status)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(tasks))
}

func (s *Server) getTask(c *fiber.Ctx) error {
	task, err := s.svc.Orchestrator.GetTask(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(task)
}

// --- code changes ---

func (s *Server) listTaskChanges(c *fiber.Ctx) error {
	changes, err := s.svc.Review.ListByTask(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(changes))
}

func (s *Server) listPendingChanges(c *fiber.Ctx) error {
	changes, err := s.svc.Review.ListPending(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(list(changes))
}

func (s *Server) getChange(c *fiber.Ctx) error {
	change, err := s.svc.Review.GetChange(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(change)
}

func (s *Server) approveChange(c *fiber.Ctx) error {
	change, err := s.svc.Review.Approve(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(change)
}

func (s *Server) rejectChange(c *fiber.Ctx) error {
	change, err := s.svc.Review.Reject(c.UserContext(), c.Params("id"), actorFrom(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(change)
}

func (s *Server) modifyChange(c *fiber.Ctx) error {
	var req ModifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	task, err := s.svc.Review.RequestModification(c.UserContext(), c.Params("id"), actorFrom(c), req.Feedback)
	if err != nil {
		return taskErrorResponse(c, task, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}
