package dto

import (
	"encoding/json"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
)

type StatusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateMatchResponse struct {
	Message string     `json:"message"`
	Match   repo.Match `json:"match"`
}

type CreateBetResponse struct {
	Message string   `json:"message"`
	Bet     repo.Bet `json:"bet"`
}

// LiveResult é o último evento de liquidação publicado para a partida
type LiveResult struct {
	MatchID int64           `json:"match_id"`
	Event   json.RawMessage `json:"event"`
}

// UserBetsResponse ecoa os filtros junto com as apostas
type UserBetsResponse struct {
	UserID  string     `json:"user_id"`
	BetType string     `json:"bet_type"`
	Bets    []repo.Bet `json:"bets"`
}
