// Package appctx carries the caller's identity through context.Context.
package appctx

import "context"

type contextKey string

const sessionKey contextKey = "session"

// Session identifies who is acting. CanWrite is consulted before every
// mutation; a nil CanWrite means read-only.
type Session struct {
	User     string
	Role     string
	CanWrite func() bool
}

func (s Session) Writable() bool {
	return s.CanWrite != nil && s.CanWrite()
}

// Editor returns a session that may always write.
func Editor(user string) Session {
	return Session{User: user, Role: "editor", CanWrite: func() bool { return true }}
}

func Viewer(user string) Session {
	return Session{User: user, Role: "viewer", CanWrite: func() bool { return false }}
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
