package identity

import (
	"context"
	"strings"
)

// User is the acting identity every repository scopes its queries by.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Valid reports whether the user carries a usable identifier.
func (u User) Valid() bool {
	return strings.TrimSpace(u.ID) != ""
}

// Provider supplies the current identity and announces sign-in and sign-out transitions.
type Provider interface {
	Current() (User, bool)
	Subscribe(ctx context.Context) (<-chan Transition, func())
}
