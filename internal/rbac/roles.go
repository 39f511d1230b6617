package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
// Every role except super_admin matches an account kind.
const (
	RoleCustomer   = "customer"
	RoleRetailer   = "retailer"
	RoleSubvendor  = "subvendor"
	RoleAggregator = "aggregator"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsAdmin reports whether role may act across accounts.
func IsAdmin(role string) bool { return role == RoleAdmin || role == RoleSuperAdmin }

func IsKnown(role string) bool {
	switch role {
	case RoleCustomer, RoleRetailer, RoleSubvendor, RoleAggregator, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}
