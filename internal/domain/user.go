package domain

// User is the slice of the externally owned user record the chat core reads.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// DefaultDisplayName labels a peer whose directory entry has no name.
func DefaultDisplayName(userID string) string {
	return "User " + userID
}
