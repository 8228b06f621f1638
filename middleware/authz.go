package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	msgUnauthenticated = "Please authenticate"
	msgRoleDenied      = "Unauthorized to access this route"
	msgAccessDenied    = "Access deny"

	maxOwnerBody = 1 << 20
)

// TokenVerifier verifies access tokens. *jwt.Codec satisfies it.
type TokenVerifier interface {
	Verify(kind jwt.Kind, token string) (jwt.Payload, error)
}

// AuthPolicy is the enforcement policy of an Authz.
type AuthPolicy struct {
	// Disabled lets every request through. A valid bearer token still
	// yields a Principal.
	Disabled bool
}

// Check rejects a disabled policy in production.
func (p AuthPolicy) Check(production bool) error {
	if production && p.Disabled {
		return errors.New("authorization cannot be disabled in production")
	}
	return nil
}

// Principal is the verified caller of a request.
type Principal struct {
	UserID   string
	Username string
	Token    string
	// Roles is populated by Require only.
	Roles []authgate.RoleName
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal attached by Authenticate or
// Require.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// OwnerFunc extracts the user id a request targets. ok is false when the
// request names no target.
type OwnerFunc func(r *http.Request) (userID string, ok bool)

// RouteRule declares who may call a route.
type RouteRule struct {
	// Allowed roles; the caller needs at least one of them.
	Allowed []authgate.RoleName
	// Owner, when set, makes plain users pass only for their own id.
	Owner OwnerFunc
}

// AnyRole is the rule allowing every role of the static table.
var AnyRole = []authgate.RoleName{authgate.RoleUser, authgate.RoleAdmin, authgate.RoleSuperAdmin}

// Authz composes token verification, the role gate and the ownership gate.
type Authz struct {
	verifier TokenVerifier
	roles    authgate.RoleResolver
	policy   AuthPolicy
	log      logrus.FieldLogger
}

// New creates an Authz. log may be nil.
func New(verifier TokenVerifier, roles authgate.RoleResolver, policy AuthPolicy, log logrus.FieldLogger) (*Authz, error) {
	if verifier == nil {
		return nil, errors.New("middleware: token verifier is required")
	}
	if roles == nil {
		return nil, errors.New("middleware: role resolver is required")
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Authz{verifier: verifier, roles: roles, policy: policy, log: log}, nil
}

// Authenticate requires a valid bearer access token.
func (a *Authz) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := a.principal(r)
		if !ok {
			if !a.policy.Disabled {
				writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Require authenticates the request and applies rule.
func (a *Authz) Require(rule RouteRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := a.principal(r)
			if !ok {
				if !a.policy.Disabled {
					writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			roles, err := a.roles.RolesByUser(r.Context(), p.UserID)
			if err != nil {
				a.log.WithError(err).WithField("user_id", p.UserID).Error("role lookup failed")
				writeMessage(w, http.StatusInternalServerError, "Internal error")
				return
			}
			p.Roles = roles
			ctx := WithPrincipal(r.Context(), p)

			if a.policy.Disabled {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			if !intersects(roles, rule.Allowed) {
				writeMessage(w, http.StatusUnauthorized, msgRoleDenied)
				return
			}
			if rule.Owner != nil && isSoleUser(roles) {
				target, ok := rule.Owner(r)
				if !ok || target != p.UserID {
					writeMessage(w, http.StatusUnauthorized, msgAccessDenied)
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authz) principal(r *http.Request) (Principal, bool) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Principal{}, false
	}
	payload, err := a.verifier.Verify(jwt.KindAccess, token)
	if err != nil || payload.SubjectID == "" {
		return Principal{}, false
	}
	return Principal{UserID: payload.SubjectID, Username: payload.Username, Token: token}, true
}

// OwnerFromVar reads the target user id from the named mux path variable.
func OwnerFromVar(name string) OwnerFunc {
	return func(r *http.Request) (string, bool) {
		v, ok := mux.Vars(r)[name]
		return v, ok && v != ""
	}
}

// OwnerFromBody reads the target user id from a string field of the JSON
// request body. The body is restored for the handler.
func OwnerFromBody(field string) OwnerFunc {
	return func(r *http.Request) (string, bool) {
		if r.Body == nil {
			return "", false
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, maxOwnerBody))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return "", false
		}

		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", false
		}
		var v string
		if err := json.Unmarshal(body[field], &v); err != nil || v == "" {
			return "", false
		}
		return v, true
	}
}

// OwnerFromQuery reads the target user id from a query parameter.
func OwnerFromQuery(name string) OwnerFunc {
	return func(r *http.Request) (string, bool) {
		v := r.URL.Query().Get(name)
		return v, v != ""
	}
}

func intersects(have, allowed []authgate.RoleName) bool {
	for _, h := range have {
		for _, a := range allowed {
			if h == a {
				return true
			}
		}
	}
	return false
}

func isSoleUser(roles []authgate.RoleName) bool {
	return len(roles) == 1 && roles[0] == authgate.RoleUser
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
