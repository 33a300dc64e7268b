// Package api exposes the game engine over HTTP (chi) and pushes game events
// to WebSocket clients.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/misionbonos/bond-engine/internal/game"
	"github.com/misionbonos/bond-engine/internal/model"
	"github.com/misionbonos/bond-engine/internal/scenario"
	"github.com/misionbonos/bond-engine/internal/trade"
)

// Handler serves the engine's operations as JSON.
type Handler struct {
	engine *game.Engine
}

// NewHandler creates a Handler.
func NewHandler(e *game.Engine) *Handler {
	return &Handler{engine: e}
}

// Routes mounts the game API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/games", h.ListGames)
	r.Post("/games", h.CreateGame)
	r.Route("/games/{code}", func(r chi.Router) {
		r.Get("/", h.GetGame)
		r.Put("/scenario", h.LoadScenario)
		r.Post("/teams", h.RegisterTeam)
		r.Get("/teams/{team}/portfolio", h.GetPortfolio)
		r.Post("/rounds/{n}/publish", h.PublishRound)
		r.Post("/trading/open", h.OpenTrading)
		r.Post("/trading/close", h.CloseTrading)
		r.Post("/finalize", h.Finalize)
		r.Post("/trades", h.ExecuteTrade)
		r.Get("/trades", h.ListTrades)
		r.Get("/quotes", h.GetQuotes)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/reconcile", h.Reconcile)
	})
}

// --- Request/Response types ---

// CreateGameRequest is the JSON body for POST /games. Omitted settings take
// the classroom defaults.
type CreateGameRequest struct {
	GameCode             string           `json:"game_code"`
	TotalRounds          *int             `json:"total_rounds"`
	InitialCash          *decimal.Decimal `json:"initial_cash"`
	CommissionRate       *decimal.Decimal `json:"commission_rate"`
	BidAskSpreadBps      *decimal.Decimal `json:"bid_ask_spread_bps"`
	YearFractionPerRound *decimal.Decimal `json:"year_fraction_per_round"`
	AllowShortSelling    bool             `json:"allow_short_selling"`
	AllowMargin          bool             `json:"allow_margin"`
	FractionalQuantities bool             `json:"fractional_quantities"`
	MaxPositionPerBond   *decimal.Decimal `json:"max_position_per_bond"`
	MaxTotalPosition     *decimal.Decimal `json:"max_total_position"`
}

// Config merges the request over model.DefaultConfig.
func (req CreateGameRequest) Config() model.GameConfig {
	cfg := model.DefaultConfig()
	if req.TotalRounds != nil {
		cfg.TotalRounds = *req.TotalRounds
	}
	set := func(dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.InitialCash, req.InitialCash)
	set(&cfg.CommissionRate, req.CommissionRate)
	set(&cfg.BidAskSpreadBps, req.BidAskSpreadBps)
	set(&cfg.YearFractionPerRound, req.YearFractionPerRound)
	set(&cfg.MaxPositionPerBond, req.MaxPositionPerBond)
	set(&cfg.MaxTotalPosition, req.MaxTotalPosition)
	cfg.AllowShortSelling = req.AllowShortSelling
	cfg.AllowMargin = req.AllowMargin
	cfg.FractionalQuantities = req.FractionalQuantities
	return cfg
}

// ScenarioRequest is the JSON body for PUT /games/{code}/scenario.
type ScenarioRequest struct {
	Records []scenario.Record `json:"records"`
}

// RegisterTeamRequest is the JSON body for POST /games/{code}/teams.
type RegisterTeamRequest struct {
	TeamName string `json:"team_name"`
}

// TradeRequest is the JSON body for POST /games/{code}/trades.
type TradeRequest struct {
	TeamName string          `json:"team_name"`
	BondID   string          `json:"bond_id"`
	Side     model.Side      `json:"side"` // "BUY" or "SELL"
	Quantity decimal.Decimal `json:"quantity"`
}

// TradeResponse is the JSON body returned from POST /games/{code}/trades.
type TradeResponse struct {
	Trade       model.Trade                `json:"trade"`
	CashBalance decimal.Decimal            `json:"cash_balance"`
	Holdings    map[string]decimal.Decimal `json:"holdings"`
}

// --- HTTP Handlers ---

// ListGames handles GET /api/v1/games
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	codes, err := h.engine.Games(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

// CreateGame handles POST /api/v1/games
func (h *Handler) CreateGame(w http.ResponseWriter, r *http.Request) {
	var req CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s, err := h.engine.CreateGame(r.Context(), req.GameCode, req.Config())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, game.Summarize(s))
}

// GetGame handles GET /api/v1/games/{code}
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Session(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// LoadScenario handles PUT /api/v1/games/{code}/scenario
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	s, err := h.engine.LoadScenario(r.Context(), chi.URLParam(r, "code"), req.Records)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// RegisterTeam handles POST /api/v1/games/{code}/teams
func (h *Handler) RegisterTeam(w http.ResponseWriter, r *http.Request) {
	var req RegisterTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	team, err := h.engine.RegisterTeam(r.Context(), chi.URLParam(r, "code"), req.TeamName)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

// PublishRound handles POST /api/v1/games/{code}/rounds/{n}/publish
func (h *Handler) PublishRound(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		writeError(w, "round must be an integer", http.StatusBadRequest)
		return
	}

	s, err := h.engine.PublishRound(r.Context(), chi.URLParam(r, "code"), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// OpenTrading handles POST /api/v1/games/{code}/trading/open
func (h *Handler) OpenTrading(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.OpenTrading(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// CloseTrading handles POST /api/v1/games/{code}/trading/close
func (h *Handler) CloseTrading(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.CloseTrading(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// Finalize handles POST /api/v1/games/{code}/finalize
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Finalize(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, game.Summarize(s))
}

// ExecuteTrade handles POST /api/v1/games/{code}/trades
// Executes immediately at the current round's reference price plus spread.
func (h *Handler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TeamName == "" {
		writeError(w, "team_name is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	code := chi.URLParam(r, "code")
	tr, err := h.engine.Execute(ctx, code, trade.Request{
		TeamName: req.TeamName,
		BondID:   req.BondID,
		Side:     req.Side,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	resp := TradeResponse{Trade: tr}
	// The trade is committed; the snapshot only enriches the response.
	if s, err := h.engine.Session(ctx, code); err == nil {
		if team, ok := s.Teams[tr.TeamName]; ok {
			resp.CashBalance = team.CashBalance
			resp.Holdings = team.Holdings
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListTrades handles GET /api/v1/games/{code}/trades?team=
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := h.engine.Trades(r.Context(), chi.URLParam(r, "code"), r.URL.Query().Get("team"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetQuotes handles GET /api/v1/games/{code}/quotes?round=
func (h *Handler) GetQuotes(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	quotes, err := h.engine.Quotes(r.Context(), chi.URLParam(r, "code"), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quotes)
}

// GetLeaderboard handles GET /api/v1/games/{code}/leaderboard?round=
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	board, err := h.engine.Leaderboard(r.Context(), chi.URLParam(r, "code"), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// GetPortfolio handles GET /api/v1/games/{code}/teams/{team}/portfolio?round=
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	n, ok := roundParam(w, r)
	if !ok {
		return
	}
	p, err := h.engine.MarkToMarket(r.Context(), chi.URLParam(r, "code"), chi.URLParam(r, "team"), n)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Reconcile handles GET /api/v1/games/{code}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.engine.Reconcile(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"consistent": len(mismatches) == 0,
		"mismatches": mismatches,
	})
}

// roundParam reads ?round=, defaulting to the current round.
func roundParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("round")
	if v == "" {
		return game.CurrentRound, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, "round must be a non-negative integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	switch game.Kind(err) {
	case game.KindValidation:
		return http.StatusBadRequest
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindConflict, game.KindResource:
		return http.StatusConflict
	case game.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
		if !errors.Is(err, game.ErrPersistence) {
			msg = "internal error"
		}
	}
	writeJSONError(w, msg, string(game.Kind(err)), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSONError(w, message, string(game.KindValidation), status)
}

func writeJSONError(w http.ResponseWriter, message, kind string, status int) {
	writeJSON(w, status, map[string]string{"error": message, "kind": kind})
}
