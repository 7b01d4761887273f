package auth

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"

	"github.com/mpapenbr/iracelog-gap-engine/log"
	"github.com/mpapenbr/iracelog-gap-engine/pkg/utils"
)

const (
	TokenHeader = "api-token"
)

type Role int

const (
	RoleProvider Role = iota // may feed data and reset the engine
)

var ErrPermissionDenied = errors.New("permission denied")

type Authentication interface {
	Principal() string
	Roles() []Role
}

type simpleAuth struct {
	principal string
	roles     []Role
}

func (s *simpleAuth) Principal() string {
	return s.principal
}

func (s *simpleAuth) Roles() []Role {
	return s.roles
}

var (
	anon     = &simpleAuth{principal: "anon", roles: []Role{}}
	provider = &simpleAuth{principal: "provider", roles: []Role{RoleProvider}}
)

type (
	// Authenticator resolves the caller from the request headers.
	// If no provider token is configured every caller is a provider.
	Authenticator struct {
		providerTokenHash string
		l                 *log.Logger
	}
	Option func(*Authenticator)
)

func WithProviderToken(token string) Option {
	return func(a *Authenticator) {
		if token != "" {
			a.providerTokenHash = utils.HashToken(token)
		}
	}
}

func NewAuthenticator(opts ...Option) *Authenticator {
	ret := &Authenticator{l: log.Default().Named("server.auth")}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (a *Authenticator) Authenticate(h http.Header) Authentication {
	if a.providerTokenHash == "" {
		return provider
	}
	token := h.Get(TokenHeader)
	if token == "" {
		return anon
	}
	if utils.TokenMatches(token, a.providerTokenHash) {
		return provider
	}
	a.l.Debug("invalid token presented")
	return anon
}

type myCtxTypeKey int

func newContext(ctx context.Context, a Authentication) context.Context {
	return context.WithValue(ctx, myCtxTypeKey(0), a)
}

func FromContext(ctx context.Context) Authentication {
	if val, ok := ctx.Value(myCtxTypeKey(0)).(Authentication); ok {
		return val
	}
	return nil
}

// HasRole reports whether the caller stored in ctx has role r
func HasRole(ctx context.Context, r Role) bool {
	a := FromContext(ctx)
	if a == nil {
		return false
	}
	for _, role := range a.Roles() {
		if role == r {
			return true
		}
	}
	return false
}

// RequireProvider rejects requests of callers without provider role
func (a *Authenticator) RequireProvider(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := a.Authenticate(r.Header)
		ctx := newContext(r.Context(), auth)
		if !HasRole(ctx, RoleProvider) {
			http.Error(w, ErrPermissionDenied.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type authInterceptor struct {
	auth *Authenticator
}

// NewAuthInterceptor stores the caller in the context of connect handlers
func NewAuthInterceptor(a *Authenticator) connect.Interceptor {
	return &authInterceptor{auth: a}
}

//nolint:whitespace // can't make both editor and linter happy
func (i *authInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return connect.UnaryFunc(func(
		ctx context.Context,
		req connect.AnyRequest,
	) (connect.AnyResponse, error) {
		return next(newContext(ctx, i.auth.Authenticate(req.Header())), req)
	})
}

//nolint:lll // better readability
func (i *authInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

//nolint:lll,whitespace // better readability
func (i *authInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return connect.StreamingHandlerFunc(func(
		ctx context.Context,
		conn connect.StreamingHandlerConn,
	) error {
		return next(newContext(ctx, i.auth.Authenticate(conn.RequestHeader())), conn)
	})
}
