package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rubiojr/pulse/pkg/auth"
	"github.com/rubiojr/pulse/pkg/chat"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/realtime"
)

// Options tunes the HTTP and websocket transport.
type Options struct {
	CORSOrigin     string
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
	EchoToSender   bool
}

func (o *Options) setDefaults() {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 * 1024
	}
}

type Server struct {
	chat     *chat.Service
	registry *realtime.Registry
	auth     *auth.Authenticator
	opts     Options
	echo     atomic.Bool
	logger   *log.Logger
}

func NewServer(svc *chat.Service, registry *realtime.Registry, authn *auth.Authenticator, opts Options) *Server {
	opts.setDefaults()
	s := &Server{
		chat:     svc,
		registry: registry,
		auth:     authn,
		opts:     opts,
		logger:   log.ForService("api"),
	}
	s.echo.Store(opts.EchoToSender)
	return s
}

// SetEchoToSender changes whether POST /api/v1/chat echoes to the sender.
func (s *Server) SetEchoToSender(v bool) {
	s.echo.Store(v)
}

// Handler returns the routes wrapped in the CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return CorsMiddleware(s.opts.CORSOrigin, mux)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorf("encoding JSON response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, error, message string) {
	response := ErrorResponse{
		Error:   error,
		Message: message,
	}
	s.writeJSON(w, status, response)
}

// writeServiceError maps a service error to its status. Internal details
// never reach the client.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch core.KindOf(err) {
	case core.KindInvalidArgument:
		s.writeError(w, http.StatusBadRequest, "Invalid request", core.ClientMessage(err))
	case core.KindNotFound:
		s.writeError(w, http.StatusNotFound, "Not found", core.ClientMessage(err))
	default:
		s.writeError(w, http.StatusInternalServerError, "Internal error", core.ClientMessage(err))
	}
}

// decodeJSON reads a JSON body into v, writing a 400 on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxMessageSize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request", "malformed JSON body")
		return false
	}
	return true
}

// authenticate resolves the caller's identity. On failure it writes the
// response and returns false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	user, err := s.auth.FromRequest(r)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			s.logger.Debugf("rejecting token from %s: %v", r.RemoteAddr, err)
		}
		s.writeError(w, http.StatusUnauthorized, "Unauthorized", "Unauthorized")
		return "", false
	}
	if err := s.chat.ResolveUser(r.Context(), user); err != nil {
		s.writeServiceError(w, err)
		return "", false
	}
	return user, true
}

// CorsMiddleware allows origin to call the API with credentials, so that
// the session cookie is sent along.
func CorsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
