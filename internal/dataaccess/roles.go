package dataaccess

// Role bitmasks and their decoders, transcribed from
// _examples/original_source/shared/roles.py.

var cfmRoles = []string{"dev", "admin", "mod", "translator"}

var tfmRoles = []string{
	"admin", "mod", "sentinel", "mapcrew", "module",
	"funcorp", "fashion", "flash", "event", "discorderator",
}

// toRoleFactory mirrors to_role_factory: it closes over an ordered
// role enum and returns a decoder from bitmask to the set role names.
func toRoleFactory(enum []string) func(any) any {
	return func(v any) any {
		bits := asInt(v).(int)
		if bits == 0 {
			return []string{}
		}

		roles := []string{}
		for idx, role := range enum {
			if bits&(1<<uint(idx)) != 0 {
				roles = append(roles, role)
			}
		}
		return roles
	}
}

var toCfmRoles = toRoleFactory(cfmRoles)
var toTfmRoles = toRoleFactory(tfmRoles)
