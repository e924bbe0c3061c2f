package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/azrilxx/tradenestkgsb-sub002/internal/apperr"
	"github.com/azrilxx/tradenestkgsb-sub002/internal/httpx"
)

// HeaderUserID carries the caller identity set by the upstream gateway.
const HeaderUserID = "X-User-ID"

type userKey struct{}

func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			httpx.WriteError(w, fmt.Errorf("missing %s header: %w", HeaderUserID, apperr.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

func userScope(r *http.Request) string {
	return "user:" + UserFrom(r.Context())
}
