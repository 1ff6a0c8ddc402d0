package users

// User is the persisted account row. The password hash never leaves
// this package.
type User struct {
	UserID       string
	Nickname     string
	PasswordHash string
	CreatedAt    int64
}
