package api

import "github.com/go-chi/chi/v5"

// Routes registers the task endpoints on r. Callers are expected to apply
// authentication to r first; the claim endpoint requires an agent ID.
func (h *TaskHandler) Routes(r chi.Router) {
	r.Route("/inboxes/{inboxID}", func(r chi.Router) {
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks", h.ListTasks)
		r.Delete("/tasks", h.DeleteTasks)
		r.Post("/tasks/batch", h.CreateTasks)
		r.Put("/tasks/source/{sourceID}", h.UpsertTask)
		r.Post("/claim", h.ClaimTask)
		r.Get("/stats", h.GetStats)
		r.Get("/waiting", h.ListWaitingTasks)
		r.Post("/events", h.IngestEvent)
	})

	r.Route("/tasks/{taskID}", func(r chi.Router) {
		r.Get("/", h.GetTask)
		r.Patch("/", h.UpdateTask)
		r.Delete("/", h.DeleteTask)
		r.Post("/release", h.ReleaseTask)
		r.Post("/start", h.StartTask)
		r.Post("/complete", h.CompleteTask)
		r.Post("/fail", h.FailTask)
		r.Post("/cancel", h.CancelTask)
		r.Post("/suspend", h.SuspendTask)
		r.Post("/resume", h.ResumeTask)
	})

	r.Get("/stats", h.GetStatsByInbox)
	r.Post("/admin/release-expired", h.ReleaseExpiredClaims)
}
