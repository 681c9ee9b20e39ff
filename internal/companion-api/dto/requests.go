package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/radieske/betting-companion-api/internal/companion-api/repo"
	"github.com/radieske/betting-companion-api/internal/settlement"
	"github.com/radieske/betting-companion-api/internal/shared/apperr"
)

var validate = newValidator()

// newValidator reporta os campos pelo nome JSON
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Formatos aceitos para match_date; sem fuso = UTC
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

type CreateMatchRequest struct {
	Team1ID   int64  `json:"team1_id" validate:"required,gt=0"`
	Team2ID   int64  `json:"team2_id" validate:"required,gt=0,nefield=Team1ID"`
	MatchDate string `json:"match_date" validate:"required"`
	Venue     string `json:"venue" validate:"max=200"`
	Stage     string `json:"stage" validate:"max=100"`
	Status    string `json:"status" validate:"omitempty,oneof=upcoming live"`
}

// Validate confere o payload e converte para o modelo. Partida upcoming precisa de data futura.
// Partida só vira final via POST /results, que grava o placar e liquida as apostas.
func (r *CreateMatchRequest) Validate(now time.Time) (repo.Match, error) {
	r.Status = repo.NormalizeMatchStatus(r.Status)
	if r.Status == repo.MatchFinal {
		return repo.Match{}, apperr.E(apperr.ErrInvalidInput, "matches are finalized by posting a result; status must be upcoming or live")
	}
	if err := validate.Struct(r); err != nil {
		return repo.Match{}, invalid(err)
	}
	when, err := ParseMatchDate(r.MatchDate)
	if err != nil {
		return repo.Match{}, apperr.E(apperr.ErrInvalidInput, "match_date must be an ISO-8601 timestamp")
	}
	status := r.Status
	if status == "" {
		status = repo.MatchUpcoming
	}
	if status == repo.MatchUpcoming && !when.After(now) {
		return repo.Match{}, apperr.E(apperr.ErrInvalidInput, "Upcoming matches must have a future date.")
	}
	return repo.Match{
		Team1ID:   r.Team1ID,
		Team2ID:   r.Team2ID,
		MatchDate: when,
		Venue:     strings.TrimSpace(r.Venue),
		Stage:     strings.TrimSpace(r.Stage),
		Status:    status,
	}, nil
}

// ParseMatchDate aceita RFC3339 (inclusive sufixo "Z") e variações sem fuso
func ParseMatchDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", s)
}

type CreateBetRequest struct {
	UserID  string          `json:"user_id" validate:"required,max=128"`
	MatchID int64           `json:"match_id" validate:"required,gt=0"`
	BetType string          `json:"bet_type" validate:"required"`
	BetOn   string          `json:"bet_on" validate:"required,max=128"`
	Odds    int             `json:"odds" validate:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

// Validate aplica as regras do bilhete: odds americanas, stake em (0, maxStake] e seleção coerente com o tipo
func (r *CreateBetRequest) Validate(maxStake decimal.Decimal) (repo.Bet, error) {
	r.UserID = strings.TrimSpace(r.UserID)
	r.BetOn = strings.TrimSpace(r.BetOn)
	if err := validate.Struct(r); err != nil {
		return repo.Bet{}, invalid(err)
	}

	betType := settlement.NormalizeBetType(r.BetType)
	switch betType {
	case repo.BetTeamWinner, repo.BetPlayerScore, repo.BetOther:
	default:
		return repo.Bet{}, apperr.E(apperr.ErrInvalidInput, "bet_type must be one of team_winner, player_score, other")
	}

	betOn := r.BetOn
	if betType == repo.BetTeamWinner {
		betOn = strings.ToLower(betOn)
		if betOn != repo.SideTeam1 && betOn != repo.SideTeam2 {
			return repo.Bet{}, apperr.E(apperr.ErrInvalidInput, "For 'winner' bets, bet_on must be 'team1' or 'team2'.")
		}
	}

	if r.Odds > -100 && r.Odds < 100 {
		return repo.Bet{}, apperr.E(apperr.ErrInvalidInput, "odds must be American odds (<= -100 or >= 100)")
	}
	if !r.Amount.IsPositive() {
		return repo.Bet{}, apperr.E(apperr.ErrInvalidInput, "amount must be greater than zero")
	}
	if r.Amount.GreaterThan(maxStake) {
		return repo.Bet{}, apperr.E(apperr.ErrInvalidInput, "amount exceeds maximum stake of "+maxStake.String())
	}

	return repo.Bet{
		UserID:  r.UserID,
		MatchID: r.MatchID,
		BetType: betType,
		BetOn:   betOn,
		Odds:    r.Odds,
		Amount:  r.Amount,
	}, nil
}

type PostResultRequest struct {
	MatchID    int64 `json:"match_id" validate:"required,gt=0"`
	ScoreTeam1 *int  `json:"score_team1" validate:"required,gte=0"`
	ScoreTeam2 *int  `json:"score_team2" validate:"required,gte=0"`
}

func (r *PostResultRequest) Validate() (settlement.Request, error) {
	if err := validate.Struct(r); err != nil {
		return settlement.Request{}, invalid(err)
	}
	return settlement.Request{MatchID: r.MatchID, ScoreTeam1: *r.ScoreTeam1, ScoreTeam2: *r.ScoreTeam2}, nil
}

type ChatRequest struct {
	Query string `json:"query"`
}

// invalid traduz os erros do validator numa mensagem curta por campo
func invalid(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.ErrInvalidInput, err, "invalid payload")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return apperr.E(apperr.ErrInvalidInput, strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "nefield":
		return "Team 1 and Team 2 cannot be the same."
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "max":
		return field + " is too long"
	case "gt", "gte":
		return field + " is out of range"
	default:
		return field + " is invalid"
	}
}
