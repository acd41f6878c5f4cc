package web

import "github.com/gofiber/fiber/v3"

// Register mounts every approval route on router. All of them require the acting user.
func (h *APIHandlers) Register(router fiber.Router) {
	t := router.Group("/templates", RequireUser)
	t.Get("/", h.GetTemplates)
	t.Post("/", h.CreateTemplate)
	t.Get("/:id", h.GetTemplate)
	t.Put("/:id", h.UpdateTemplate)
	t.Delete("/:id", h.DeleteTemplate)

	w := router.Group("/workflows", RequireUser)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/pending", h.PendingApprovals)
	w.Get("/statistics", h.Statistics)
	w.Post("/bulk", h.BulkAction)
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/audit", h.GetWorkflowAudit)
	w.Post("/:id/approve", h.ApproveWorkflow)
	w.Post("/:id/reject", h.RejectWorkflow)
	w.Post("/:id/cancel", h.CancelWorkflow)
	w.Post("/:id/actions", h.ActOnWorkflow)
	w.Post("/:id/resync", h.ResyncWorkflow)

	e := router.Group("/resource-events", RequireUser)
	e.Post("/", h.ResourceCompleted)

	d := router.Group("/delegations", RequireUser)
	d.Get("/", h.GetDelegations)
	d.Post("/", h.CreateDelegation)
	d.Get("/:id", h.GetDelegation)
	d.Post("/:id/revoke", h.RevokeDelegation)
	d.Get("/:id/validity", h.DelegationValidity)
}
