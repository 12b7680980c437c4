// Package middleware provides a collection of middleware components for routekit routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrMissingAuthorization is returned when the Authorization header is absent.
	ErrMissingAuthorization = errors.New("no authorization header")
	// ErrNotBearer is returned when the Authorization header uses another scheme.
	ErrNotBearer = errors.New("invalid authorization header format")
)

// AuthProvider decides whether a request carries valid credentials.
// BasicAuthProvider, BearerTokenProvider and APIKeyProvider are the built-in implementations.
type AuthProvider interface {
	Authenticate(r *http.Request) bool
}

// AuthProviderFunc adapts a plain function to AuthProvider.
type AuthProviderFunc func(r *http.Request) bool

// Authenticate calls f(r).
func (f AuthProviderFunc) Authenticate(r *http.Request) bool {
	return f(r)
}

// BasicAuthProvider checks HTTP Basic credentials against a username -> password map.
type BasicAuthProvider struct {
	Credentials map[string]string
}

func (p *BasicAuthProvider) Authenticate(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}
	expected, known := p.Credentials[username]
	return known && secureEqual(password, expected)
}

// BearerTokenProvider accepts "Authorization: Bearer <token>" requests.
// When Validator is set it decides alone; ValidTokens is then ignored.
type BearerTokenProvider struct {
	ValidTokens map[string]bool
	Validator   func(token string) bool
}

func (p *BearerTokenProvider) Authenticate(r *http.Request) bool {
	token, err := bearerToken(r)
	if err != nil {
		return false
	}
	if p.Validator != nil {
		return p.Validator(token)
	}
	return p.ValidTokens[token]
}

// APIKeyProvider looks for a key in Header first, then in the Query parameter.
// Either source may be left empty to disable it.
type APIKeyProvider struct {
	ValidKeys map[string]bool
	Header    string
	Query     string
}

func (p *APIKeyProvider) Authenticate(r *http.Request) bool {
	var candidates []string
	if p.Header != "" {
		candidates = append(candidates, r.Header.Get(p.Header))
	}
	if p.Query != "" {
		candidates = append(candidates, r.URL.Query().Get(p.Query))
	}

	for _, key := range candidates {
		if key != "" && p.ValidKeys[key] {
			return true
		}
	}
	return false
}

// AuthenticationWithProvider answers 401 without running the rest of the chain
// when provider rejects the request.
func AuthenticationWithProvider(provider AuthProvider) common.Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		if !provider.Authenticate(r) {
			return reject(r, srv, nil), nil
		}
		return next()
	}
}

// Authentication is AuthenticationWithProvider for a plain predicate.
func Authentication(authFunc func(*http.Request) bool) common.Middleware {
	return AuthenticationWithProvider(AuthProviderFunc(authFunc))
}

func NewBasicAuthMiddleware(credentials map[string]string) common.Middleware {
	return AuthenticationWithProvider(&BasicAuthProvider{Credentials: credentials})
}

func NewBearerTokenMiddleware(validTokens map[string]bool) common.Middleware {
	return AuthenticationWithProvider(&BearerTokenProvider{ValidTokens: validTokens})
}

// NewBearerTokenValidatorMiddleware delegates token checks to validator,
// e.g. JWT verification or a call to an identity service.
func NewBearerTokenValidatorMiddleware(validator func(string) bool) common.Middleware {
	return AuthenticationWithProvider(&BearerTokenProvider{Validator: validator})
}

func NewAPIKeyMiddleware(validKeys map[string]bool, header, query string) common.Middleware {
	return AuthenticationWithProvider(&APIKeyProvider{
		ValidKeys: validKeys,
		Header:    header,
		Query:     query,
	})
}

// UserAuthProvider resolves the caller of a request into a user value.
type UserAuthProvider[T any] interface {
	AuthenticateUser(r *http.Request) (*T, error)
}

// BearerTokenUserAuthProvider resolves bearer tokens with GetUserFunc.
type BearerTokenUserAuthProvider[T any] struct {
	GetUserFunc func(token string) (*T, error)
}

func (p *BearerTokenUserAuthProvider[T]) AuthenticateUser(r *http.Request) (*T, error) {
	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	return p.GetUserFunc(token)
}

type userContextKey[T any] struct{}

// AuthenticationWithUserProvider stores the resolved user in the request context for
// GetUser. A provider error or a nil user yields 401.
func AuthenticationWithUserProvider[T any](provider UserAuthProvider[T]) common.Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		user, err := provider.AuthenticateUser(r)
		if err != nil || user == nil {
			return reject(r, srv, err), nil
		}

		common.WithValue(r, userContextKey[T]{}, user)
		return next()
	}
}

func NewBearerTokenWithUserMiddleware[T any](getUserFunc func(token string) (*T, error)) common.Middleware {
	return AuthenticationWithUserProvider[T](&BearerTokenUserAuthProvider[T]{GetUserFunc: getUserFunc})
}

// GetUser returns the user stored by AuthenticationWithUserProvider, or nil.
func GetUser[T any](r *http.Request) *T {
	user, _ := r.Context().Value(userContextKey[T]{}).(*T)
	return user
}

func reject(r *http.Request, srv common.Server, cause error) *common.Response {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("client_ip", srv.ClientIP(r)),
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	srv.Logger().Warn("Authentication failed", fields...)
	return common.Text(http.StatusUnauthorized, "Unauthorized")
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrNotBearer
	}
	return token, nil
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
