package auth

import "sync"

// RoleDirectory is a minimal subject -> roles/permissions lookup backing
// the login flow's token issuance. Full identity/user management is out
// of scope (spec treats bearer JWTs as a black box and names no user
// directory component) — this is the smallest structure that lets
// login_with_password mint a real token carrying the subject's actual
// claims instead of trusting a caller-asserted role list.
type RoleDirectory struct {
	mu    sync.RWMutex
	roles map[string][]string
	perms map[string][]string
}

// NewRoleDirectory constructs an empty directory.
func NewRoleDirectory() *RoleDirectory {
	return &RoleDirectory{roles: make(map[string][]string), perms: make(map[string][]string)}
}

// Set assigns subject's roles and permissions, overwriting any prior
// assignment.
func (d *RoleDirectory) Set(subject string, roles, permissions []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[subject] = roles
	d.perms[subject] = permissions
}

// Lookup returns subject's roles and permissions, and whether subject is
// known to the directory at all.
func (d *RoleDirectory) Lookup(subject string) (roles, permissions []string, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	roles, ok = d.roles[subject]
	permissions = d.perms[subject]
	return roles, permissions, ok
}
