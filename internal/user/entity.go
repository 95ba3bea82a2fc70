package user

import (
	"context"
	"time"
)

// User is the owner record the core receives already resolved: it carries the
// remote endpoint and token used for session creation. OAuth mechanics live
// outside this server; requests authenticate with the user's API token.
type User struct {
	ID             int64     `json:"id" yaml:"id"`
	Email          string    `json:"email" yaml:"email"`
	Name           string    `json:"name" yaml:"name"`
	APIToken       string    `json:"-" yaml:"api_token"`
	RemoteEndpoint string    `json:"openclaw_endpoint,omitempty" yaml:"openclaw_endpoint"`
	RemoteToken    string    `json:"-" yaml:"openclaw_token"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// RemoteConfigured reports whether the user can have sessions created on
// their behalf. An endpoint without a token is not enough: OpenClaw requires
// authentication for session creation.
func (u *User) RemoteConfigured() bool {
	return u.RemoteEndpoint != "" && u.RemoteToken != ""
}

type Store interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByAPIToken(ctx context.Context, token string) (*User, error)
	Upsert(ctx context.Context, u *User) error
	UpdateRemoteConfig(ctx context.Context, id int64, endpoint, token string) error
	ClearRemoteConfig(ctx context.Context, id int64) error
}
