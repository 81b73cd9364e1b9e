package transfer

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{orgID}/transfer", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Post("/", h.Propose)
		r.Post("/accept", h.Accept)
		r.Post("/cancel", h.Cancel)
	})
}
