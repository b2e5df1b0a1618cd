// Package sandbox is an in-process backend for the escrow and auth endpoints.
// It keeps a small SQL ledger, enforces the escrow state machine and actor
// roles, and is used by end-to-end tests and local CLI sessions.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "escrowkit/native/escrow"
	"escrowkit/services/sandbox/middleware"
)

const maxBodyBytes = 1 << 20

// SeedUser is an account created at start-up.
type SeedUser struct {
	ID       string
	FullName string
	Username string
	TxPIN    string
	LoginPIN string
}

// Config captures the dependencies required to construct the server.
type Config struct {
	DB          *gorm.DB
	Resolvers   []string
	MinAmount   decimal.Decimal
	TokenSecret string
	TokenTTL    time.Duration
	Logger      *slog.Logger
	Now         func() time.Time
	// Observability, when set, traces and counts every request.
	Observability *middleware.Observability
	// AuthLimit throttles the /api/auth routes per client. The zero value
	// disables it.
	AuthLimit middleware.RateLimit
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db      *gorm.DB
	machine *model.Machine
	minimum decimal.Decimal
	creds   *credentials
	logger  *slog.Logger
	now     func() time.Time
	obs     *middleware.Observability
	limiter *middleware.RateLimiter
	router  http.Handler
}

// New constructs the router. The schema must already be migrated.
func New(cfg Config) (*Server, error) {
	if cfg.DB == nil {
		return nil, errors.New("sandbox: database required")
	}
	if strings.TrimSpace(cfg.TokenSecret) == "" {
		return nil, errors.New("sandbox: token secret required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 30 * 24 * time.Hour
	}
	if cfg.MinAmount.IsZero() {
		cfg.MinAmount = model.DefaultMinAmount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	machine := model.NewMachine(cfg.Resolvers...)
	machine.SetNowFunc(cfg.Now)
	srv := &Server{
		db:      cfg.DB,
		machine: machine,
		minimum: cfg.MinAmount,
		creds:   newCredentials(cfg.TokenSecret, cfg.TokenTTL, cfg.Now),
		logger:  cfg.Logger.With(slog.String("component", "sandbox")),
		now:     cfg.Now,
		obs:     cfg.Observability,
		limiter: middleware.NewRateLimiter(cfg.AuthLimit, cfg.Logger),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if s.obs != nil {
		r.Use(s.obs.Middleware)
	}
	r.Use(s.withIdempotency)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": true})
	})
	r.Route("/api/escrow", func(api chi.Router) {
		api.Post("/fetchEscrows", s.fetchEscrows)
		api.Post("/getEscrow", s.getEscrow)
		api.Post("/create", s.createEscrow)
		for _, action := range model.Actions {
			api.Post("/"+string(action), s.transition(action))
		}
	})
	r.Route("/api/auth", func(api chi.Router) {
		api.Use(s.limiter.Middleware)
		api.Post("/verifyTxPin", s.verifyTxPin)
		api.Post("/verify_login_pin", s.verifyLoginPin)
		api.Post("/create_login_pin", s.createLoginPin)
		api.Post("/update_pin", s.updatePin)
		api.Post("/biometric/enable", s.enableBiometric)
		api.Post("/biometric/validate", s.validateBiometric)
		api.Post("/biometric/disable", s.disableBiometric)
	})
	return r
}

// Seed creates or refreshes the given users. Empty PINs leave the stored
// hash untouched.
func (s *Server) Seed(ctx context.Context, users []SeedUser) error {
	for _, u := range users {
		id := strings.TrimSpace(u.ID)
		if id == "" {
			return errors.New("sandbox: seed user without id")
		}
		record := User{ID: id, FullName: u.FullName, Username: u.Username}
		columns := []string{"full_name", "username", "updated_at"}
		if u.TxPIN != "" {
			record.TxPinHash = s.creds.hashPIN(id, u.TxPIN)
			columns = append(columns, "tx_pin_hash")
		}
		if u.LoginPIN != "" {
			record.LoginPinHash = s.creds.hashPIN(id, u.LoginPIN)
			columns = append(columns, "login_pin_hash")
		}
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(&record).Error
		if err != nil {
			return fmt.Errorf("seed user %s: %w", id, err)
		}
	}
	return nil
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"status": false, "message": message})
}
