package agent

import (
	"context"

	"github.com/forgekit/agentcore/pkg/models"
)

// sessionContextKey is the context key used to store the current session.
type sessionContextKey struct{}

// WithSession returns a new context carrying the given session.
func WithSession(ctx context.Context, session *models.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext retrieves the session stored in the context, or nil if none.
func SessionFromContext(ctx context.Context) *models.Session {
	session, _ := ctx.Value(sessionContextKey{}).(*models.Session)
	return session
}
