package web

import (
	"errors"

	"github.com/dukex/callflow/pkg/services"
	"github.com/dukex/callflow/pkg/validation"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

var errInvalidJSON = errors.New("invalid JSON format")

// rejectionProblem is a 422 problem that lists the issues blocking a publish.
type rejectionProblem struct {
	*problems.Problem

	Issues []validation.Issue `json:"issues"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())

	case errors.Is(err, services.ErrFlowNotFound):
		return notFound(c, "flow_not_found", "flow not found")

	case errors.Is(err, services.ErrNodeNotFound):
		return notFound(c, "node_not_found", err.Error())

	case errors.Is(err, services.ErrVersionNotFound):
		return notFound(c, "version_not_found", err.Error())

	case errors.Is(err, services.ErrSessionNotFound):
		return notFound(c, "session_not_found", "session not found")

	case services.IsConflictError(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case services.IsUnprocessable(err):
		problem := &rejectionProblem{
			Problem: problems.NewStatusProblem(422).
				WithInstance(c.Path()).
				WithType("publish_rejected").
				WithDetail("flow has fatal validation issues"),
		}

		var rejection *services.PublishRejection
		if errors.As(err, &rejection) {
			problem.Issues = rejection.Issues
		}

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	default:
		// Log unexpected errors but don't expose details
		return internalError(c, err)
	}
}
