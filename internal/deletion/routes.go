package deletion

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{orgID}/deletion", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Post("/confirm-name", h.ConfirmName)
		r.Post("/confirm-phrase", h.ConfirmPhrase)
		r.Post("/finalize", h.Finalize)
		r.Post("/restore", h.Restore)
		r.Post("/cancel", h.Cancel)
	})
}
