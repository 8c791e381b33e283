package models

// Capability is a named permission a route requires. A principal's role
// either grants it or does not; routes never trust client-supplied signals.
type Capability string

const (
	CapabilityUsersManage Capability = "users:manage"
	CapabilityUsersRead   Capability = "users:read"
	CapabilityAuditRead   Capability = "audit:read"
)

// CapabilityRoles declares which roles grant each capability.
var CapabilityRoles = map[Capability][]UserRole{
	CapabilityUsersManage: {RoleAdmin},
	CapabilityUsersRead:   {RoleAdmin, RoleManager},
	CapabilityAuditRead:   {RoleAdmin},
}

// Grants reports whether role is within the capability's allowed set.
// Unknown capabilities grant nothing.
func (c Capability) Grants(role UserRole) bool {
	for _, allowed := range CapabilityRoles[c] {
		if allowed == role {
			return true
		}
	}
	return false
}
