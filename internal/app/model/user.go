package model

// UserRole is the role claim presented by the external auth provider.
type UserRole string

const (
	RoleAdmin        UserRole = "admin"         // full access
	RoleBroker       UserRole = "broker"        // manages imports and policies for the network
	RoleStoreManager UserRole = "store_manager" // read-only
)

// CanManageImports reports whether the role may enqueue or delete import jobs.
func (r UserRole) CanManageImports() bool {
	return r == RoleAdmin || r == RoleBroker
}

func (r UserRole) Valid() bool {
	switch r {
	case RoleAdmin, RoleBroker, RoleStoreManager:
		return true
	}
	return false
}
