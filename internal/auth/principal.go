package auth

// Principal is the identity resolved for a single request. It is never persisted.
type Principal struct {
	UserID    string
	SessionID string
	Role      string
}
