package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/chat"
	"github.com/radieske/betting-companion-api/internal/companion-api/dto"
	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
	"github.com/radieske/betting-companion-api/internal/settlement"
	"github.com/radieske/betting-companion-api/internal/shared/apperr"
)

const maxBodyBytes = 1 << 20

// Store são as operações de banco usadas pelos handlers
type Store interface {
	ListTeams(ctx context.Context) ([]repo.Team, error)
	ListMatches(ctx context.Context, status string) ([]repo.Match, error)
	GetMatch(ctx context.Context, id int64) (repo.Match, error)
	CreateMatch(ctx context.Context, m repo.Match) (repo.Match, error)
	ListBets(ctx context.Context) ([]repo.Bet, error)
	ListUserBets(ctx context.Context, userID, betType string) ([]repo.Bet, error)
	BetExists(ctx context.Context, userID string, matchID int64, betType string) (bool, error)
	CreateBet(ctx context.Context, b repo.Bet) (repo.Bet, error)
	TopFeatures(ctx context.Context, limit int) ([]repo.FeatureRanking, error)
	ListJSON(ctx context.Context, table string, limit int) ([]json.RawMessage, error)
	ListStats(ctx context.Context, category string, limit int) ([]json.RawMessage, error)
	StatsByTeamIDs(ctx context.Context, category string, ids []int64, limit int) ([]json.RawMessage, error)
	StatsByTeamNames(ctx context.Context, category string, names []string, limit int) ([]json.RawMessage, error)
}

type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (settlement.Result, error)
}

type Chatter interface {
	Answer(ctx context.Context, query string) (chat.Answer, error)
}

// Cache é opcional; falhas nunca derrubam a requisição
type Cache interface {
	GetListing(ctx context.Context, name string, dst any) (bool, error)
	SetListing(ctx context.Context, name string, v any) error
	LatestResult(ctx context.Context, matchID int64) (json.RawMessage, bool, error)
}

// API expõe os endpoints REST do companion
type API struct {
	Log            *zap.Logger
	Store          Store
	Settler        Settler
	Chat           Chatter
	Cache          Cache            // pode ser nil
	WS             http.HandlerFunc // /ws/results, pode ser nil
	ServiceName    string
	MaxStake       decimal.Decimal
	RequestTimeout time.Duration
	Now            func() time.Time

	OnRequest func(method, route string, status int, d time.Duration) // métricas
}

// Router retorna o roteador HTTP com todos os endpoints
func (a *API) Router() http.Handler {
	if a.Now == nil {
		a.Now = time.Now
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)

	r.Group(func(r chi.Router) {
		if a.RequestTimeout > 0 {
			r.Use(middleware.Timeout(a.RequestTimeout))
		}
		r.Get("/", a.status)
		r.Get("/teams", a.listTeams)
		r.Get("/matches", a.listMatches)
		r.Post("/matches", a.createMatch)
		r.Get("/match_cards", a.listing(repo.TableMatchCards))
		r.Get("/picks", a.listBets)
		r.Post("/picks", a.createBet)
		r.Get("/results", a.listResults)
		r.Post("/results", a.postResult)
		r.Get("/results/{matchId}/live", a.liveResult)
		r.Get("/user_bets", a.userBets)
		r.Get("/stats", a.stats)
		r.Get("/top_features", a.topFeatures)
		r.Get("/qualifying_odds", a.listing(repo.TableQualifyingOdds))
		r.Get("/outright_winning_odds", a.listing(repo.TableOutrightOdds))
		r.Get("/valuebets", a.listing(repo.TableValueBets))
		r.Post("/chat", a.chat)
	})

	// conexão longa: fora do timeout por requisição
	if a.WS != nil {
		r.Get("/ws/results", a.WS)
	}
	return withCORS(r)
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError mapeia o tipo do erro para o status; causas internas só vão para o log
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		a.Log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, dto.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.E(apperr.ErrInvalidInput, "request body is required")
		}
		return apperr.Wrap(apperr.ErrInvalidInput, err, "invalid JSON body")
	}
	return nil
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dto.StatusResponse{Status: "ok", Service: a.ServiceName})
}

// cached aplica cache-aside sobre uma listagem somente leitura
func cached[T any](a *API, r *http.Request, name string, load func(ctx context.Context) (T, error)) (T, error) {
	ctx := r.Context()
	if a.Cache != nil {
		var hit T
		ok, err := a.Cache.GetListing(ctx, name, &hit)
		if err != nil {
			a.Log.Warn("cache get failed", zap.String("listing", name), zap.Error(err))
		} else if ok {
			return hit, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if a.Cache != nil {
		if err := a.Cache.SetListing(ctx, name, v); err != nil {
			a.Log.Warn("cache set failed", zap.String("listing", name), zap.Error(err))
		}
	}
	return v, nil
}

func (a *API) listTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := cached(a, r, "teams", a.Store.ListTeams)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// listing serve uma tabela somente leitura inteira
func (a *API) listing(table string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := cached(a, r, table, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.Store.ListJSON(ctx, table, 0)
		})
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func (a *API) topFeatures(w http.ResponseWriter, r *http.Request) {
	fs, err := cached(a, r, "top_features", func(ctx context.Context) ([]repo.FeatureRanking, error) {
		return a.Store.TopFeatures(ctx, 0)
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (a *API) listMatches(w http.ResponseWriter, r *http.Request) {
	status := repo.NormalizeMatchStatus(r.URL.Query().Get("status"))
	switch status {
	case "", repo.MatchUpcoming, repo.MatchLive, repo.MatchFinal:
	default:
		a.writeError(w, r, apperr.E(apperr.ErrInvalidInput, "status must be one of: upcoming live final"))
		return
	}
	ms, err := a.Store.ListMatches(r.Context(), status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) createMatch(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := req.Validate(a.Now())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	created, err := a.Store.CreateMatch(r.Context(), m)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("match created", zap.Int64("match_id", created.ID))
	writeJSON(w, http.StatusCreated, dto.CreateMatchResponse{Message: "Match created successfully", Match: created})
}

func (a *API) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := a.Store.ListBets(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bets)
}

func (a *API) createBet(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateBetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	bet, err := req.Validate(a.MaxStake)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	m, err := a.Store.GetMatch(ctx, bet.MatchID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if m.Status == repo.MatchFinal {
		a.writeError(w, r, repo.ErrMatchFinal)
		return
	}
	exists, err := a.Store.BetExists(ctx, bet.UserID, bet.MatchID, bet.BetType)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if exists {
		a.writeError(w, r, repo.ErrDuplicateBet)
		return
	}

	created, err := a.Store.CreateBet(ctx, bet)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.Log.Info("bet placed",
		zap.Int64("bet_id", created.ID),
		zap.Int64("match_id", created.MatchID),
		zap.String("bet_type", created.BetType),
	)
	writeJSON(w, http.StatusCreated, dto.CreateBetResponse{Message: "Pick submitted successfully", Bet: created})
}

func (a *API) listResults(w http.ResponseWriter, r *http.Request) {
	ms, err := a.Store.ListMatches(r.Context(), repo.MatchFinal)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) postResult(w http.ResponseWriter, r *http.Request) {
	var req dto.PostResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sreq, err := req.Validate()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.Settler.Settle(r.Context(), sreq)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) liveResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "matchId"), 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, r, apperr.E(apperr.ErrInvalidInput, "matchId must be a positive integer"))
		return
	}
	if a.Cache == nil {
		a.writeError(w, r, apperr.E(apperr.ErrNotFound, "no live result for match"))
		return
	}
	ev, ok, err := a.Cache.LatestResult(r.Context(), id)
	if err != nil {
		a.writeError(w, r, apperr.Wrap(apperr.ErrUpstream, err, "results cache unavailable"))
		return
	}
	if !ok {
		a.writeError(w, r, apperr.E(apperr.ErrNotFound, "no live result for match"))
		return
	}
	writeJSON(w, http.StatusOK, dto.LiveResult{MatchID: id, Event: ev})
}

func (a *API) userBets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := strings.TrimSpace(q.Get("user_id"))
	betType := settlement.NormalizeBetType(q.Get("bet_type"))
	if userID == "" || betType == "" {
		a.writeError(w, r, apperr.E(apperr.ErrInvalidInput, "user_id and bet_type are required"))
		return
	}
	bets, err := a.Store.ListUserBets(r.Context(), userID, betType)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.UserBetsResponse{UserID: userID, BetType: betType, Bets: bets})
}

// stats: categoria obrigatória; filtro opcional por team_id ou nome do time
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := strings.ToLower(strings.TrimSpace(q.Get("category")))
	if _, ok := repo.StatTables[category]; !ok {
		a.writeError(w, r, apperr.E(apperr.ErrInvalidInput, "category must be one of: "+strings.Join(repo.StatCategories, " ")))
		return
	}

	var rows []json.RawMessage
	var err error
	switch {
	case q.Get("team_id") != "":
		id, perr := strconv.ParseInt(q.Get("team_id"), 10, 64)
		if perr != nil || id <= 0 {
			a.writeError(w, r, apperr.E(apperr.ErrInvalidInput, "team_id must be a positive integer"))
			return
		}
		rows, err = a.Store.StatsByTeamIDs(r.Context(), category, []int64{id}, 0)
	case strings.TrimSpace(q.Get("team")) != "":
		rows, err = a.Store.StatsByTeamNames(r.Context(), category, []string{strings.TrimSpace(q.Get("team"))}, 0)
	default:
		rows, err = cached(a, r, "stats_"+category, func(ctx context.Context) ([]json.RawMessage, error) {
			return a.Store.ListStats(ctx, category, 0)
		})
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (a *API) chat(w http.ResponseWriter, r *http.Request) {
	var req dto.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	ans, err := a.Chat.Answer(r.Context(), req.Query)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}
