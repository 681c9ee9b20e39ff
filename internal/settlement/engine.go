// Package settlement finaliza partidas e liquida as apostas dependentes.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
	"github.com/radieske/betting-companion-api/internal/shared/apperr"
	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

// Store precisa aplicar placar + resultados de forma atômica e no máximo uma vez por partida
type Store interface {
	SettleMatch(ctx context.Context, matchID int64, score1, score2 int, grade repo.GradeFunc) (repo.Match, []repo.Grade, error)
}

type Publisher interface {
	PublishMatchSettled(ctx context.Context, e events.MatchSettled) error
}

type Request struct {
	MatchID    int64
	ScoreTeam1 int
	ScoreTeam2 int
}

type Result struct {
	SettlementID  string               `json:"settlement_id"`
	MatchID       int64                `json:"match_id"`
	ScoreTeam1    int                  `json:"score_team1"`
	ScoreTeam2    int                  `json:"score_team2"`
	Winner        string               `json:"winner,omitempty"`
	SettledBetIDs []int64              `json:"settled_bet_ids"`
	Counts        events.SettledCounts `json:"counts"`
	Pending       int                  `json:"pending"` // apostas deixadas pendentes pela política
}

type Engine struct {
	store  Store
	pub    Publisher
	log    *zap.Logger
	policy Policy
	now    func() time.Time

	OnSettled      func(Result) // métricas
	OnPublishError func()       // métricas
}

// New monta o engine. pub pode ser nil (sem publicação de eventos).
func New(store Store, pub Publisher, log *zap.Logger, policy Policy) *Engine {
	return &Engine{store: store, pub: pub, log: log, policy: policy, now: time.Now}
}

// Settle grava o placar final e liquida as apostas da partida.
// Falha com NotFound (partida inexistente), Conflict (já finalizada) ou Upstream (banco).
func (e *Engine) Settle(ctx context.Context, req Request) (Result, error) {
	if req.MatchID <= 0 {
		return Result{}, apperr.E(apperr.ErrInvalidInput, "match_id must be positive")
	}
	if req.ScoreTeam1 < 0 || req.ScoreTeam2 < 0 {
		return Result{}, apperr.E(apperr.ErrInvalidInput, "scores must be non-negative")
	}

	var total int
	grade := Grader(req.ScoreTeam1, req.ScoreTeam2, e.policy)
	_, grades, err := e.store.SettleMatch(ctx, req.MatchID, req.ScoreTeam1, req.ScoreTeam2,
		func(m repo.Match, bets []repo.Bet) []repo.Grade {
			total = len(bets)
			return grade(m, bets)
		})
	if err != nil {
		return Result{}, err
	}

	winner, _ := Outcome(req.ScoreTeam1, req.ScoreTeam2)
	res := Result{
		SettlementID:  uuid.NewString(),
		MatchID:       req.MatchID,
		ScoreTeam1:    req.ScoreTeam1,
		ScoreTeam2:    req.ScoreTeam2,
		Winner:        winner,
		SettledBetIDs: make([]int64, 0, len(grades)),
		Pending:       total - len(grades),
	}
	for _, g := range grades {
		res.SettledBetIDs = append(res.SettledBetIDs, g.BetID)
		switch g.Result {
		case repo.ResultWin:
			res.Counts.Win++
		case repo.ResultLoss:
			res.Counts.Loss++
		case repo.ResultPush:
			res.Counts.Push++
		}
	}

	e.log.Info("match settled",
		zap.Int64("match_id", res.MatchID),
		zap.Int("score_team1", res.ScoreTeam1),
		zap.Int("score_team2", res.ScoreTeam2),
		zap.String("winner", res.Winner),
		zap.Int("win", res.Counts.Win),
		zap.Int("loss", res.Counts.Loss),
		zap.Int("push", res.Counts.Push),
		zap.Int("pending", res.Pending),
	)
	if e.OnSettled != nil {
		e.OnSettled(res)
	}

	e.publish(ctx, res)
	return res, nil
}

// publish é best-effort: a liquidação já foi commitada e não é desfeita por falha no Kafka
func (e *Engine) publish(ctx context.Context, res Result) {
	if e.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := e.pub.PublishMatchSettled(pctx, events.MatchSettled{
		SettlementID: res.SettlementID,
		MatchID:      res.MatchID,
		ScoreTeam1:   res.ScoreTeam1,
		ScoreTeam2:   res.ScoreTeam2,
		Winner:       res.Winner,
		Counts:       res.Counts,
		SettledAt:    e.now().UTC(),
	})
	if err != nil {
		e.log.Warn("publish match_settled failed", zap.Int64("match_id", res.MatchID), zap.Error(err))
		if e.OnPublishError != nil {
			e.OnPublishError()
		}
	}
}
