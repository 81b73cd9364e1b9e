package org

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{orgID}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Patch("/", h.Update)

		r.Get("/members", h.ListMembers)
		r.Patch("/members/{userID}", h.ChangeMemberRole)
		r.Delete("/members/{userID}", h.RemoveMember)

		r.Get("/invitations", h.ListInvitations)
		r.Post("/invitations", h.CreateInvitation)
		r.Delete("/invitations/{inviteID}", h.RevokeInvitation)

		r.Get("/preferences", h.ShowPreferences)
		r.Put("/preferences", h.UpdatePreferences)
	})
}
