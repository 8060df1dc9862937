package auth

import "slices"

// RequireRole reports whether cred holds one of the allowed roles. Callers
// decide how to reject.
func RequireRole(cred Credential, allowed ...Role) bool {
	return slices.Contains(allowed, cred.Role)
}
