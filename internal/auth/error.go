package auth

// Error is an access control error.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e Error) Error() string {
	return "access denied: " + e.Message
}
