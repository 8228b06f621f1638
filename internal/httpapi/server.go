package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	Engine *authgate.Engine
	// Policy is handed to the authorization middleware.
	Policy middleware.AuthPolicy
	// Prefix mounts every route under a path, "/v1" when empty.
	Prefix string
	Logger logrus.FieldLogger
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Health  map[string]HealthCheck
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
}

// Server is the HTTP surface of an Engine.
type Server struct {
	engine     *authgate.Engine
	authz      *middleware.Authz
	log        logrus.FieldLogger
	health     map[string]HealthCheck
	metrics    http.Handler
	trustProxy bool
	router     *mux.Router
}

func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if err := opts.Policy.Check(opts.Engine.Config().Security.ProductionMode); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	authz, err := middleware.New(opts.Engine.TokenCodec(), opts.Engine.Roles(), opts.Policy, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:     opts.Engine,
		authz:      authz,
		log:        log,
		health:     opts.Health,
		metrics:    opts.Metrics,
		trustProxy: opts.TrustProxy,
		router:     mux.NewRouter(),
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "/v1"
	}
	prefix = "/" + strings.Trim(prefix, "/")

	s.router.Use(s.recoverPanics, s.logRequests, s.clientContext)
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.routes(s.router.PathPrefix(prefix).Subrouter())
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(r *mux.Router) {
	owner := func(fn middleware.OwnerFunc) func(http.Handler) http.Handler {
		return s.authz.Require(middleware.RouteRule{Allowed: middleware.AnyRole, Owner: fn})
	}
	byVar := owner(middleware.OwnerFromVar("user_id"))
	byBody := owner(middleware.OwnerFromBody("user_id"))

	r.HandleFunc("/signup", s.signUp).Methods(http.MethodPost)
	r.HandleFunc("/signin", s.signIn).Methods(http.MethodPost)
	r.Handle("/signout", s.authz.Authenticate(http.HandlerFunc(s.signOut))).Methods(http.MethodPost)
	r.Handle("/status/token", s.authz.Authenticate(http.HandlerFunc(s.tokenStatus))).Methods(http.MethodGet)
	r.HandleFunc("/auth/refresh/token", s.refreshAccess).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh/tokens", s.refreshBoth).Methods(http.MethodPost)
	r.Handle("/revoke/token/{user_id}", byVar(http.HandlerFunc(s.revokeTokens))).Methods(http.MethodPost)

	r.Handle("/password/change", byBody(http.HandlerFunc(s.changePassword))).Methods(http.MethodPost)
	r.HandleFunc("/password/reset/generate", s.issueReset).Methods(http.MethodPost)
	r.HandleFunc("/reset/password/{user_id}/{token}", s.resetPassword).Methods(http.MethodPut)
	r.HandleFunc("/email/token/generate", s.issueVerify).Methods(http.MethodPost)
	r.HandleFunc("/email/token/verify", s.verifyEmail).Methods(http.MethodPost)

	r.Handle("/otp/generate", byBody(http.HandlerFunc(s.otpGenerate))).Methods(http.MethodPost)
	r.Handle("/otp/verify", byBody(http.HandlerFunc(s.otpVerify))).Methods(http.MethodPost)
	r.HandleFunc("/otp/validate", s.otpValidate).Methods(http.MethodPost)
	r.Handle("/otp/disable", byBody(http.HandlerFunc(s.otpDisable))).Methods(http.MethodPost)

	r.Handle("/user/terminate", byBody(http.HandlerFunc(s.terminateUser))).Methods(http.MethodPost)
	r.Handle("/user/tokens/{user_id}", byVar(http.HandlerFunc(s.listSessions))).Methods(http.MethodGet)
	r.Handle("/user/{user_id}", byVar(http.HandlerFunc(s.getUser))).Methods(http.MethodGet)
	r.Handle("/role/user/{user_id}", byVar(http.HandlerFunc(s.userRoles))).Methods(http.MethodGet)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))
	for name, check := range s.health {
		if err := check(r.Context()); err != nil {
			s.log.WithError(err).WithField("check", name).Warn("health check failed")
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
