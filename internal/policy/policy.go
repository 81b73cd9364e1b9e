// Package policy is the single permission evaluator for organization
// actions. Every mutating service path consults it before touching state;
// role checks are never duplicated in handlers or services.
package policy

// Role is an organization membership role, totally ordered by privilege.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Rank orders roles by privilege. Unknown roles rank below member so they
// never pass a threshold check.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Action enumerates the organization actions subject to policy.
type Action string

const (
	ActionEditOrganizationProfile   Action = "editOrganizationProfile"
	ActionManageSettings            Action = "manageSettings"
	ActionManageMembers             Action = "manageMembers"
	ActionManageInvitations         Action = "manageInvitations"
	ActionChangeMemberRole          Action = "changeMemberRole"
	ActionRemoveMember              Action = "removeMember"
	ActionAccessSecuritySettings    Action = "accessSecuritySettings"
	ActionExportOrganizationData    Action = "exportOrganizationData"
	ActionInitiateDeletion          Action = "initiateDeletion"
	ActionInitiateOwnershipTransfer Action = "initiateOwnershipTransfer"
	ActionToggleRequire2FA          Action = "toggleRequire2FA"
	ActionTerminateOtherSession     Action = "terminateOtherSession"
)

// CanPerform reports whether an actor holding the given role may perform the
// action. Total function: unknown actions and unknown roles deny, never
// panic. onSelf marks the actor acting on their own membership or sessions.
func CanPerform(actor Role, action Action, onSelf bool) bool {
	if !actor.Valid() {
		return false
	}
	switch action {
	case ActionEditOrganizationProfile, ActionManageSettings, ActionAccessSecuritySettings:
		return actor == RoleOwner || actor == RoleAdmin
	case ActionManageMembers, ActionManageInvitations:
		return actor.Rank() >= RoleManager.Rank()
	case ActionChangeMemberRole:
		if onSelf {
			return false
		}
		return actor == RoleOwner || actor == RoleAdmin
	case ActionRemoveMember:
		if onSelf {
			return false
		}
		return actor.Rank() >= RoleManager.Rank()
	case ActionExportOrganizationData, ActionInitiateDeletion, ActionInitiateOwnershipTransfer, ActionToggleRequire2FA:
		return actor == RoleOwner
	case ActionTerminateOtherSession:
		if onSelf {
			// Any authenticated member may end their own sessions.
			return true
		}
		return CanPerform(actor, ActionAccessSecuritySettings, false)
	default:
		return false
	}
}

// CanChangeRole refines ActionChangeMemberRole with the roles involved.
// Changing anyone to or from owner is reserved for the owner; everything
// else follows the generic rule.
func CanChangeRole(actor, currentTarget, newTarget Role, onSelf bool) bool {
	if !CanPerform(actor, ActionChangeMemberRole, onSelf) {
		return false
	}
	if currentTarget == RoleOwner || newTarget == RoleOwner {
		return actor == RoleOwner
	}
	return true
}

// CanRemoveMember refines ActionRemoveMember with the target's role. The
// owner cannot be removed; ownership moves only through a transfer.
func CanRemoveMember(actor, target Role, onSelf bool) bool {
	if target == RoleOwner {
		return false
	}
	return CanPerform(actor, ActionRemoveMember, onSelf)
}
