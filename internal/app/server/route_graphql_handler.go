package server

import (
	"net/http"

	gqlhandler "github.com/graphql-go/handler"

	"iptracker/internal/auth"
	gqlschema "iptracker/internal/graphql"
)

func newGraphQLHandler(store gqlschema.Store, blocker gqlschema.Blocker) (http.Handler, error) {
	schema, err := gqlschema.NewSchema(store, blocker)
	if err != nil {
		return nil, err
	}

	base := gqlhandler.New(&gqlhandler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: false,
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if claims, ok := auth.ClaimsFromContext(ctx); ok {
			if userID, ok := auth.UserIDFromClaims(claims); ok {
				ctx = gqlschema.WithUserID(ctx, userID)
			}
		}
		base.ContextHandler(ctx, w, r)
	}), nil
}
