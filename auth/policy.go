package auth

// Capabilities is the set of mutations a role may submit.
type Capabilities struct {
	CanApproveReject bool
	CanEdit          bool
	CanComment       bool
	CanReply         bool
	IsViewer         bool
}

// CapabilitiesFor maps a role to its capability set. Unknown roles get nothing.
func CapabilitiesFor(role Role) Capabilities {
	switch role {
	case RoleManager:
		return Capabilities{
			CanApproveReject: true,
			CanEdit:          true,
			CanComment:       true,
			CanReply:         true,
		}
	case RoleSalesRep:
		return Capabilities{CanComment: true}
	case RoleViewer:
		return Capabilities{IsViewer: true}
	default:
		return Capabilities{}
	}
}

// CanSeeReply reports whether a viewer with the given current role may see a
// reply written under authorRole. Replies are scoped to the exact role.
func CanSeeReply(viewer Role, authorRole Role) bool {
	return viewer != "" && viewer == authorRole
}
