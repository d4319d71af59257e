package graphql

import (
	"context"
	"errors"
)

type viewerKey struct{}

var ErrUnauthenticated = errors.New("graphql: authentication required")

// WithUserID attaches the authenticated admin to the resolver context.
func WithUserID(ctx context.Context, userID uint) context.Context {
	if userID == 0 {
		return ctx
	}
	return context.WithValue(ctx, viewerKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (uint, error) {
	if ctx == nil {
		return 0, ErrUnauthenticated
	}
	if id, ok := ctx.Value(viewerKey{}).(uint); ok && id > 0 {
		return id, nil
	}
	return 0, ErrUnauthenticated
}
