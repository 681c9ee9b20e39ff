package repo

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status de partida
const (
	MatchUpcoming = "upcoming"
	MatchLive     = "live"
	MatchFinal    = "final"
)

// NormalizeMatchStatus aceita o alias "finished" para final
func NormalizeMatchStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "finished" {
		return MatchFinal
	}
	return s
}

// Resultado de aposta (NULL no banco = pendente)
const (
	ResultPending = "pending"
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultPush    = "push"
)

// Tipos de aposta
const (
	BetTeamWinner  = "team_winner"
	BetPlayerScore = "player_score"
	BetOther       = "other"
)

// Seleções válidas para team_winner
const (
	SideTeam1 = "team1"
	SideTeam2 = "team2"
)

type Team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Match é a partida persistida. Os nomes dos times só vêm preenchidos em consultas com JOIN.
type Match struct {
	ID         int64     `json:"id"`
	Team1ID    int64     `json:"team1_id"`
	Team2ID    int64     `json:"team2_id"`
	Team1Name  string    `json:"team1_name,omitempty"`
	Team2Name  string    `json:"team2_name,omitempty"`
	MatchDate  time.Time `json:"match_date"`
	Venue      string    `json:"venue"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	ScoreTeam1 *int      `json:"score_team1"`
	ScoreTeam2 *int      `json:"score_team2"`
}

// Bet é o modelo persistido no Postgres.
type Bet struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	MatchID   int64           `json:"match_id"`
	BetType   string          `json:"bet_type"`
	BetOn     string          `json:"bet_on"`
	Odds      int             `json:"odds"`
	Amount    decimal.Decimal `json:"amount"`
	Result    *string         `json:"result"`
	CreatedAt time.Time       `json:"created_at"`
}

// FeatureRanking vem de um modelo externo; rank menor = mais relevante
type FeatureRanking struct {
	Feature string `json:"feature"`
	Rank    int    `json:"rank"`
}

// Grade é a decisão de liquidação de uma aposta
type Grade struct {
	BetID  int64
	Result string
}

// GradeFunc decide o resultado de cada aposta pendente da partida recém-finalizada.
// Deve ser pura: roda dentro da transação de liquidação.
type GradeFunc func(m Match, bets []Bet) []Grade
