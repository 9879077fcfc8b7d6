package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/hr-workflow/generic"
)

// Session headers set by the authenticating proxy in front of the API.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserEmail = "X-User-Email"
	HeaderUserAdmin = "X-User-Admin"
)

// SessionProvider extracts the raw identity from a request. ok is false
// for anonymous requests.
type SessionProvider interface {
	Session(r *http.Request) (generic.Session, bool)
}

// HeaderSessions reads the session from trusted proxy headers.
type HeaderSessions struct{}

func (HeaderSessions) Session(r *http.Request) (generic.Session, bool) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return generic.Session{}, false
	}
	admin, _ := strconv.ParseBool(r.Header.Get(HeaderUserAdmin))
	return generic.Session{
		UserID:  generic.UserID(userID),
		Role:    strings.TrimSpace(r.Header.Get(HeaderUserRole)),
		IsAdmin: admin,
		Email:   strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, true
}

type actorKey struct{}

// withActor resolves the session into an Actor once per request.
func (h *Handler) withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := h.Sessions.Session(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := h.Engine.Resolver.Resolve(r.Context(), session)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the resolved actor for the request, if any.
func ActorFrom(ctx context.Context) (generic.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(generic.Actor)
	return a, ok
}
