// Package panel is the admin HTTP API: per-community invite
// configuration, leaderboards, member lookups, bonus adjustments,
// reward tier management, and resets.
package panel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lanternlabs/doorman/internal/invites"
	"github.com/lanternlabs/doorman/internal/store"
)

// Store is the persistence surface the panel reads and writes.
type Store interface {
	Config(ctx context.Context, communityID string) (invites.Config, error)
	SetEnabled(ctx context.Context, communityID string, enabled bool) error
	UpsertConfig(ctx context.Context, communityID string, cfg invites.Config) error

	Counters(ctx context.Context, communityID, userID string) (invites.Counters, error)
	Leaderboard(ctx context.Context, communityID string, limit int) ([]store.LeaderboardEntry, error)
	JoinRecordFor(ctx context.Context, communityID, userID string) (*invites.JoinRecord, error)
	InvitedBy(ctx context.Context, communityID, inviterID string) ([]invites.JoinRecord, error)

	ListTiers(ctx context.Context, communityID string) ([]invites.RewardTier, error)
	UpsertTier(ctx context.Context, communityID string, tier invites.RewardTier) error
	DeleteTier(ctx context.Context, communityID string, requiredInvites int64) error

	ResetUser(ctx context.Context, communityID, userID string) error
	ResetCommunity(ctx context.Context, communityID string) error
}

// BonusAdjuster applies an admin bonus adjustment and re-evaluates
// rewards, returning the new effective total.
type BonusAdjuster interface {
	AdjustBonus(ctx context.Context, communityID, userID string, delta int64) (int64, error)
}

// Config holds the panel server configuration.
type Config struct {
	Addr      string
	AuthToken string
	Logger    *slog.Logger

	Store   Store
	Bonuses BonusAdjuster
}

func (cfg *Config) Validate() error {
	if cfg.Addr == "" {
		return errors.New("listen address is required")
	}
	if cfg.AuthToken == "" {
		return errors.New("auth token is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Bonuses == nil {
		return errors.New("bonus adjuster is required")
	}
	return nil
}

// Server is the admin panel HTTP server.
type Server struct {
	log     *slog.Logger
	store   Store
	bonuses BonusAdjuster
	token   string
	srv     *http.Server
}

// NewServer creates the panel server.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:     cfg.Logger,
		store:   cfg.Store,
		bonuses: cfg.Bonuses,
		token:   cfg.AuthToken,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	router.Route("/api/communities/{communityID}", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handlePutConfig)

		r.Get("/leaderboard", s.handleLeaderboard)
		r.Get("/members/{userID}/inviter", s.handleGetInviter)
		r.Get("/members/{userID}/invited", s.handleGetInvited)
		r.Post("/members/{userID}/bonus", s.handlePostBonus)

		r.Get("/rewards", s.handleListTiers)
		r.Put("/rewards", s.handlePutTier)
		r.Delete("/rewards", s.handleDeleteTier)

		r.Delete("/invites", s.handleResetCommunity)
		r.Delete("/invites/{userID}", s.handleResetUser)
	})

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

// requireAuth checks the bearer token on every API route.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// configDTO is the panel's wire form of a community's invite settings.
type configDTO struct {
	Enabled             bool   `json:"enabled"`
	JoinChannelID       string `json:"join_channel_id"`
	LeaveChannelID      string `json:"leave_channel_id"`
	MinAccountAgeDays   int    `json:"min_account_age_days"`
	JoinMessage         string `json:"join_message"`
	JoinMessageUnknown  string `json:"join_message_unknown"`
	LeaveMessage        string `json:"leave_message"`
	LeaveMessageUnknown string `json:"leave_message_unknown"`
}

func toConfigDTO(cfg invites.Config) configDTO {
	return configDTO{
		Enabled:             cfg.Enabled,
		JoinChannelID:       cfg.JoinChannelID,
		LeaveChannelID:      cfg.LeaveChannelID,
		MinAccountAgeDays:   cfg.MinAccountAgeDays,
		JoinMessage:         cfg.JoinMessage,
		JoinMessageUnknown:  cfg.JoinMessageUnknown,
		LeaveMessage:        cfg.LeaveMessage,
		LeaveMessageUnknown: cfg.LeaveMessageUnknown,
	}
}

func (d configDTO) toConfig() invites.Config {
	return invites.Config{
		Enabled:             d.Enabled,
		JoinChannelID:       d.JoinChannelID,
		LeaveChannelID:      d.LeaveChannelID,
		MinAccountAgeDays:   d.MinAccountAgeDays,
		JoinMessage:         d.JoinMessage,
		JoinMessageUnknown:  d.JoinMessageUnknown,
		LeaveMessage:        d.LeaveMessage,
		LeaveMessageUnknown: d.LeaveMessageUnknown,
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	cfg, err := s.store.Config(r.Context(), communityID)
	if err != nil {
		s.serverError(w, "load config", err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigDTO(cfg))
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")

	var dto configDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config payload")
		return
	}
	if dto.MinAccountAgeDays < 0 {
		writeError(w, http.StatusBadRequest, "min_account_age_days must not be negative")
		return
	}

	if err := s.store.UpsertConfig(r.Context(), communityID, dto.toConfig()); err != nil {
		s.serverError(w, "save config", err)
		return
	}
	if err := s.store.SetEnabled(r.Context(), communityID, dto.Enabled); err != nil {
		s.serverError(w, "set enabled", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// leaderboardEntryDTO is one row of the leaderboard response.
type leaderboardEntryDTO struct {
	UserID         string `json:"user_id"`
	Regular        int64  `json:"regular"`
	Leaves         int64  `json:"leaves"`
	Fake           int64  `json:"fake"`
	Bonus          int64  `json:"bonus"`
	EffectiveTotal int64  `json:"effective_total"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")

	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := s.store.Leaderboard(r.Context(), communityID, limit)
	if err != nil {
		s.serverError(w, "load leaderboard", err)
		return
	}

	out := make([]leaderboardEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, leaderboardEntryDTO{
			UserID:         e.UserID,
			Regular:        e.Counters.Regular,
			Leaves:         e.Counters.Leaves,
			Fake:           e.Counters.Fake,
			Bonus:          e.Counters.Bonus,
			EffectiveTotal: e.Counters.EffectiveTotal(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// joinRecordDTO is the wire form of a join record.
type joinRecordDTO struct {
	UserID     string    `json:"user_id"`
	InviterID  string    `json:"inviter_id"`
	InviteCode string    `json:"invite_code"`
	IsFake     bool      `json:"is_fake"`
	JoinedAt   time.Time `json:"joined_at"`
}

func toJoinRecordDTO(rec invites.JoinRecord) joinRecordDTO {
	return joinRecordDTO{
		UserID:     rec.UserID,
		InviterID:  rec.InviterID,
		InviteCode: rec.InviteCode,
		IsFake:     rec.IsFake,
		JoinedAt:   rec.JoinedAt,
	}
}

func (s *Server) handleGetInviter(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	userID := chi.URLParam(r, "userID")

	rec, err := s.store.JoinRecordFor(r.Context(), communityID, userID)
	if err != nil {
		s.serverError(w, "load join record", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no join record for member")
		return
	}
	writeJSON(w, http.StatusOK, toJoinRecordDTO(*rec))
}

func (s *Server) handleGetInvited(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	userID := chi.URLParam(r, "userID")

	recs, err := s.store.InvitedBy(r.Context(), communityID, userID)
	if err != nil {
		s.serverError(w, "load invited members", err)
		return
	}

	out := make([]joinRecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toJoinRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostBonus(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	userID := chi.URLParam(r, "userID")

	var req struct {
		Delta int64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed bonus payload")
		return
	}
	if req.Delta == 0 {
		writeError(w, http.StatusBadRequest, "delta must not be zero")
		return
	}

	total, err := s.bonuses.AdjustBonus(r.Context(), communityID, userID, req.Delta)
	if err != nil {
		s.serverError(w, "adjust bonus", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"effective_total": total})
}

// tierDTO is the wire form of a reward tier.
type tierDTO struct {
	RequiredInvites int64  `json:"required_invites"`
	RoleID          string `json:"role_id"`
}

func (s *Server) handleListTiers(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")

	tiers, err := s.store.ListTiers(r.Context(), communityID)
	if err != nil {
		s.serverError(w, "list reward tiers", err)
		return
	}

	out := make([]tierDTO, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, tierDTO{RequiredInvites: t.RequiredInvites, RoleID: t.RoleID})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutTier(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")

	var dto tierDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed tier payload")
		return
	}
	if dto.RequiredInvites <= 0 || dto.RoleID == "" {
		writeError(w, http.StatusBadRequest, "required_invites must be positive and role_id set")
		return
	}

	tier := invites.RewardTier{RequiredInvites: dto.RequiredInvites, RoleID: dto.RoleID}
	if err := s.store.UpsertTier(r.Context(), communityID, tier); err != nil {
		s.serverError(w, "save reward tier", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleDeleteTier(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")

	required, err := strconv.ParseInt(r.URL.Query().Get("required_invites"), 10, 64)
	if err != nil || required <= 0 {
		writeError(w, http.StatusBadRequest, "required_invites query parameter must be a positive integer")
		return
	}

	if err := s.store.DeleteTier(r.Context(), communityID, required); err != nil {
		s.serverError(w, "delete reward tier", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetCommunity(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	if err := s.store.ResetCommunity(r.Context(), communityID); err != nil {
		s.serverError(w, "reset community", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetUser(w http.ResponseWriter, r *http.Request) {
	communityID := chi.URLParam(r, "communityID")
	userID := chi.URLParam(r, "userID")
	if err := s.store.ResetUser(r.Context(), communityID, userID); err != nil {
		s.serverError(w, "reset user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("panel server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.log.Error("panel request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
