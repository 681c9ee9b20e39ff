package settlement

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
)

// Policy define o que fazer com apostas que não são mercado de vencedor
// (ou cuja seleção não corresponde a nenhum dos lados).
type Policy string

const (
	// PolicyPush anula (push) essas apostas na liquidação
	PolicyPush Policy = "push"
	// PolicyPending deixa essas apostas pendentes para uma regra própria do mercado
	PolicyPending Policy = "pending"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyPush:
		return PolicyPush, nil
	case PolicyPending:
		return PolicyPending, nil
	}
	return "", fmt.Errorf("unknown settlement policy %q", s)
}

// Outcome devolve o lado vencedor e o perdedor; ambos vazios em caso de empate
func Outcome(score1, score2 int) (winner, loser string) {
	switch {
	case score1 > score2:
		return repo.SideTeam1, repo.SideTeam2
	case score2 > score1:
		return repo.SideTeam2, repo.SideTeam1
	}
	return "", ""
}

// NormalizeBetType aceita o alias legado "winner"
func NormalizeBetType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "winner" {
		return repo.BetTeamWinner
	}
	return t
}

// sideOf resolve a seleção para team1/team2: pela chave do lado, pelo id ou pelo nome do time
func sideOf(m repo.Match, selection string) string {
	sel := strings.TrimSpace(selection)
	switch strings.ToLower(sel) {
	case repo.SideTeam1:
		return repo.SideTeam1
	case repo.SideTeam2:
		return repo.SideTeam2
	}
	if id, err := strconv.ParseInt(sel, 10, 64); err == nil {
		switch id {
		case m.Team1ID:
			return repo.SideTeam1
		case m.Team2ID:
			return repo.SideTeam2
		}
		return ""
	}
	if m.Team1Name != "" && strings.EqualFold(sel, m.Team1Name) {
		return repo.SideTeam1
	}
	if m.Team2Name != "" && strings.EqualFold(sel, m.Team2Name) {
		return repo.SideTeam2
	}
	return ""
}

// GradeBet decide o resultado de uma aposta dado o placar final.
// ok=false significa que a aposta continua pendente.
func GradeBet(m repo.Match, score1, score2 int, b repo.Bet, policy Policy) (result string, ok bool) {
	winner, _ := Outcome(score1, score2)
	side := sideOf(m, b.BetOn)

	if NormalizeBetType(b.BetType) == repo.BetTeamWinner && side != "" {
		switch {
		case winner == "":
			return repo.ResultPush, true
		case side == winner:
			return repo.ResultWin, true
		default:
			return repo.ResultLoss, true
		}
	}

	if policy == PolicyPending {
		return "", false
	}
	return repo.ResultPush, true
}

// Grader adapta GradeBet para o callback transacional do repositório
func Grader(score1, score2 int, policy Policy) repo.GradeFunc {
	return func(m repo.Match, bets []repo.Bet) []repo.Grade {
		grades := make([]repo.Grade, 0, len(bets))
		for _, b := range bets {
			if r, ok := GradeBet(m, score1, score2, b, policy); ok {
				grades = append(grades, repo.Grade{BetID: b.ID, Result: r})
			}
		}
		return grades
	}
}
