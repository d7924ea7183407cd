/**
 * @description
 * Capability constants and the role-to-permission-set derivation used at user
 * creation time. Permission sets are persisted on the User record and treated as
 * authoritative data afterwards; an Admin may override individual users (e.g.
 * toggle a Founder between read-only and read-write) without touching the role.
 */

package domain

// Capability strings gating classes of operations.
const (
	PermManageUsers       = "manage_users"
	PermViewFinancials    = "view_financials"     // view all financials
	PermViewOwnFinancials = "view_own_financials" // view only own entries
	PermEditTransactions  = "edit_transactions"
	PermViewReports       = "view_reports"
	PermManageGrants      = "manage_grants"
	PermManageHeadcount   = "manage_headcount"
	PermManageCapital     = "manage_capital"
)

// Roles.
const (
	RoleAdmin    = "Admin"
	RoleFounder  = "Founder"
	RoleViewer   = "Viewer"
	RoleEmployee = "Employee"
	RoleManager  = "Manager"
)

// Access levels selecting between permission sets for roles that support both.
const (
	AccessReadOnly  = "read_only"
	AccessReadWrite = "read_write"
)

func readOnlyPermissions() []string {
	return []string{PermViewFinancials, PermViewReports}
}

func writeAccessPermissions() []string {
	return []string{
		PermViewFinancials,
		PermViewReports,
		PermEditTransactions,
		PermManageGrants,
		PermManageHeadcount,
		PermManageCapital,
	}
}

func limitedUserPermissions() []string {
	// Can see and edit only their own entries.
	return []string{PermViewOwnFinancials, PermEditTransactions}
}

func adminPermissions() []string {
	return append(writeAccessPermissions(), PermManageUsers)
}

// PermissionsFor derives the permission set stored on a new user. Admins always
// get the full set; Founders get write access unless explicitly created
// read-only; Viewers are read-only; Employees and Managers get the limited
// own-entries set. Unknown roles default to read-only, never to write access.
func PermissionsFor(role, accessLevel string) []string {
	switch role {
	case RoleAdmin:
		return adminPermissions()
	case RoleFounder:
		if accessLevel == AccessReadOnly {
			return readOnlyPermissions()
		}
		return writeAccessPermissions()
	case RoleViewer:
		return readOnlyPermissions()
	case RoleEmployee, RoleManager:
		return limitedUserPermissions()
	default:
		return readOnlyPermissions()
	}
}
