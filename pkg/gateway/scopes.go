package gateway

// UserScope returns the routing scope that targets a single user's
// sessions. Envelopes scoped to a user (DM notifications, membership
// changes) carry this identifier.
func UserScope(userID string) string {
	return "user:" + userID
}

// withUserScope ensures a user's own scope is always part of their scope
// set, regardless of what the directory returned. Without it a session
// could never be targeted by user-scoped envelopes.
func withUserScope(userID string, scopes []string) []string {
	own := UserScope(userID)
	for _, sc := range scopes {
		if sc == own {
			return scopes
		}
	}
	return append(append(make([]string, 0, len(scopes)+1), scopes...), own)
}
