package auth

// Principal is the verified identity behind an access token.
type Principal struct {
	AccountID   int64
	Username    string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with preloaded permissions.
func NewPrincipal(accountID int64, username string, perms []string) Principal {
	set := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return Principal{AccountID: accountID, Username: username, Permissions: set}
}

// HasPermission reports whether the principal holds perm.
func (p Principal) HasPermission(perm string) bool {
	_, ok := p.Permissions[perm]
	return ok
}

// HasAny reports whether the principal holds at least one of perms.
func (p Principal) HasAny(perms ...string) bool {
	for _, perm := range perms {
		if p.HasPermission(perm) {
			return true
		}
	}
	return false
}
