package web

import (
	"github.com/dukex/signoff/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType(string(services.KindValidation)).
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func unauthenticated(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthenticated").
		WithDetail("the " + UserHeader + " header is required")

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

// kindStatus maps each error kind onto its HTTP status. Both authorization kinds are
// 403 and are told apart by the problem type.
var kindStatus = map[services.Kind]int{
	services.KindNotFound:            fiber.StatusNotFound,
	services.KindConflict:            fiber.StatusConflict,
	services.KindValidation:          fiber.StatusBadRequest,
	services.KindUnauthorized:        fiber.StatusForbidden,
	services.KindForbidden:           fiber.StatusForbidden,
	services.KindNoApproversResolved: fiber.StatusUnprocessableEntity,
}

var kindType = map[services.Kind]string{
	services.KindUnauthorized: "not_an_approver",
	services.KindForbidden:    "permission_denied",
}

// handleServiceError renders engine and service errors as problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	kind := services.KindOf(err)

	status, ok := kindStatus[kind]
	if !ok {
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType(string(services.KindInternal)).
			WithDetail("internal error")

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}

	problemType, ok := kindType[kind]
	if !ok {
		problemType = string(kind)
	}

	problem := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(err.Error())

	return c.Status(status).JSON(problem)
}
