package socks5

import "context"

// Auth is a username/password pair. The zero value means no
// authentication.
type Auth struct {
	Username string
	Password string
}

// IsZero reports whether a carries no credentials.
func (a Auth) IsZero() bool {
	return a == Auth{}
}

type authKey struct{}

// WithAuth returns a context carrying the credentials a client presented,
// so a dialer further down can keep that client's streams apart from
// others.
func WithAuth(ctx context.Context, a Auth) context.Context {
	return context.WithValue(ctx, authKey{}, a)
}

// AuthFromContext returns the credentials stored by WithAuth.
func AuthFromContext(ctx context.Context) (Auth, bool) {
	a, ok := ctx.Value(authKey{}).(Auth)
	return a, ok
}
