package rbac

// Default policy. The gate enforces tenancy on data; these permissions
// only decide which routes a role may reach.
var RolePermissions = map[string][]string{
	"student": {
		"exam:view",
		"attempt:create",
		"attempt:save",
		"attempt:submit",
		"attempt:view",
		"attempt:list",
		"result:view",
	},
	"teacher": {
		"exam:create",
		"exam:view",
		"attempt:view",
		"attempt:list",
		"attempt:submit",
		"attempt:grade",
		"attempt:reset",
		"result:view",
	},
	"school_admin": {
		"exam:*",
		"attempt:*",
		"result:*",
	},
	"super_admin": {
		"*", // everything
	},
}
