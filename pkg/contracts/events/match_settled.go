package events

import (
	"strconv"
	"time"
)

// SettledCounts totaliza as apostas liquidadas por resultado
type SettledCounts struct {
	Win  int `json:"win"`
	Loss int `json:"loss"`
	Push int `json:"push"`
}

// Evento publicado no tópico "match_settled" após a liquidação de uma partida.
type MatchSettled struct {
	SettlementID string        `json:"settlement_id"`
	MatchID      int64         `json:"match_id"`
	ScoreTeam1   int           `json:"score_team1"`
	ScoreTeam2   int           `json:"score_team2"`
	Winner       string        `json:"winner,omitempty"` // "team1" | "team2" | "" (empate)
	Counts       SettledCounts `json:"counts"`
	SettledAt    time.Time     `json:"settled_at"`
}

// LatestKey é a chave Redis com o último MatchSettled de uma partida
func LatestKey(matchID int64) string { return "results:match:" + strconv.FormatInt(matchID, 10) }

// ResultUpdate é o payload trafegado no canal Redis e entregue aos clientes WebSocket
type ResultUpdate struct {
	MatchID int64        `json:"matchId"`
	Payload MatchSettled `json:"payload"`
}
