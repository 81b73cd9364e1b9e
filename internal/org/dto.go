package org

type UpdateOrganizationRequest struct {
	Name *string `json:"name,omitempty" validate:"omitempty,min=2,max=120"`
	Slug *string `json:"slug,omitempty" validate:"omitempty,min=2,max=60,lowercase"`
}

type ChangeMemberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=owner admin manager member"`
}

type InviteMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,oneof=admin manager member"`
}

type UpdatePreferencesRequest struct {
	Locale       *string `json:"locale,omitempty" validate:"omitempty,min=2,max=35"`
	Timezone     *string `json:"timezone,omitempty" validate:"omitempty,max=64"`
	NotifyEmail  *bool   `json:"notify_email,omitempty"`
	NotifyDigest *bool   `json:"notify_digest,omitempty"`
}
