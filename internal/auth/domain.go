package auth

import (
	"context"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// UserStore is the slice of the entity store authentication reads from.
type UserStore interface {
	GetCredentials(ctx context.Context, username string) (rbac.User, string, error)
	GetUser(ctx context.Context, id int64) (rbac.User, error)
}

// TokenPair is returned by a successful login.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginResult carries the pair together with the authenticated account.
type LoginResult struct {
	TokenPair
	User rbac.User `json:"user"`
}
