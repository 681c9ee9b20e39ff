package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/betting-companion-api/internal/shared/apperr"
)

var (
	ErrMatchNotFound = apperr.E(apperr.ErrNotFound, "match not found")
	ErrTeamNotFound  = apperr.E(apperr.ErrNotFound, "team not found")
	ErrMatchFinal    = apperr.E(apperr.ErrConflict, "match already final")
	ErrDuplicateBet  = apperr.E(apperr.ErrConflict, "User already made a pick for the same bet type for this match.")
	ErrUnknownTable  = apperr.E(apperr.ErrInvalidInput, "unknown table")
)

// Tabelas somente leitura mantidas fora deste sistema
const (
	TableValueBets      = "valuebets"
	TableQualifyingOdds = "qualifying_odds"
	TableOutrightOdds   = "outright_winning_odds"
	TableMatchCards     = "match_cards"
)

// StatTables mapeia categoria de estatística -> tabela
var StatTables = map[string]string{
	"standard":    "team_standard_stats",
	"shooting":    "team_shooting_stats",
	"passing":     "team_passing_stats",
	"goalkeeping": "team_goalkeeping_stats",
}

// StatCategories na ordem usada para montar contexto
var StatCategories = []string{"standard", "shooting", "passing", "goalkeeping"}

var readOnlyTables = map[string]bool{
	TableValueBets:      true,
	TableQualifyingOdds: true,
	TableOutrightOdds:   true,
	TableMatchCards:     true,
}

func init() {
	for _, t := range StatTables {
		readOnlyTables[t] = true
	}
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Postgres implementa o acesso às tabelas do companion
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

// storeErr marca falhas do banco como indisponibilidade de upstream
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.ErrUpstream, err, "store unavailable")
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}

const matchColumns = `m.id, m.team1_id, m.team2_id, COALESCE(t1.name, ''), COALESCE(t2.name, ''),
	m.match_date, m.venue, m.stage, m.status, m.score_team1, m.score_team2`

const matchFrom = ` FROM matches m
	LEFT JOIN teams t1 ON t1.id = m.team1_id
	LEFT JOIN teams t2 ON t2.id = m.team2_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(rs rowScanner) (Match, error) {
	var m Match
	var s1, s2 sql.NullInt64
	if err := rs.Scan(&m.ID, &m.Team1ID, &m.Team2ID, &m.Team1Name, &m.Team2Name,
		&m.MatchDate, &m.Venue, &m.Stage, &m.Status, &s1, &s2); err != nil {
		return Match{}, err
	}
	if s1.Valid {
		v := int(s1.Int64)
		m.ScoreTeam1 = &v
	}
	if s2.Valid {
		v := int(s2.Int64)
		m.ScoreTeam2 = &v
	}
	return m, nil
}

func (p *Postgres) queryMatches(ctx context.Context, q string, args ...any) ([]Match, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []Match{}
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, m)
	}
	return out, storeErr(rows.Err())
}

// ListTeams retorna todos os times ordenados por id
func (p *Postgres) ListTeams(ctx context.Context) ([]Team, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name FROM teams ORDER BY id`)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []Team{}
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, t)
	}
	return out, storeErr(rows.Err())
}

// ListMatches retorna todas as partidas; status vazio = sem filtro
func (p *Postgres) ListMatches(ctx context.Context, status string) ([]Match, error) {
	if status == "" {
		return p.queryMatches(ctx, `SELECT `+matchColumns+matchFrom+` ORDER BY m.match_date, m.id`)
	}
	return p.queryMatches(ctx, `SELECT `+matchColumns+matchFrom+` WHERE m.status = $1 ORDER BY m.match_date, m.id`, status)
}

// UpcomingMatches retorna as próximas partidas (status upcoming) em ordem cronológica
func (p *Postgres) UpcomingMatches(ctx context.Context, limit int) ([]Match, error) {
	return p.queryMatches(ctx, `SELECT `+matchColumns+matchFrom+
		` WHERE m.status = $1 ORDER BY m.match_date, m.id`+limitClause(limit), MatchUpcoming)
}

// GetMatch busca uma partida pelo id
func (p *Postgres) GetMatch(ctx context.Context, id int64) (Match, error) {
	m, err := scanMatch(p.db.QueryRowContext(ctx, `SELECT `+matchColumns+matchFrom+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Match{}, ErrMatchNotFound
	}
	return m, storeErr(err)
}

// CreateMatch insere a partida e retorna o registro criado
func (p *Postgres) CreateMatch(ctx context.Context, m Match) (Match, error) {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO matches (team1_id, team2_id, match_date, venue, stage, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id`,
		m.Team1ID, m.Team2ID, m.MatchDate, m.Venue, m.Stage, m.Status,
	).Scan(&m.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation {
			return Match{}, ErrTeamNotFound
		}
		return Match{}, storeErr(err)
	}
	return m, nil
}

const betColumns = `id, user_id, match_id, bet_type, bet_on, odds, amount, result, created_at`

func (p *Postgres) queryBets(ctx context.Context, q string, args ...any) ([]Bet, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []Bet{}
	for rows.Next() {
		var b Bet
		var result sql.NullString
		if err := rows.Scan(&b.ID, &b.UserID, &b.MatchID, &b.BetType, &b.BetOn, &b.Odds, &b.Amount, &result, &b.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		if result.Valid {
			r := result.String
			b.Result = &r
		}
		out = append(out, b)
	}
	return out, storeErr(rows.Err())
}

// ListBets retorna todas as apostas
func (p *Postgres) ListBets(ctx context.Context) ([]Bet, error) {
	return p.queryBets(ctx, `SELECT `+betColumns+` FROM bets ORDER BY id`)
}

// ListUserBets retorna as apostas de um usuário filtradas por tipo
func (p *Postgres) ListUserBets(ctx context.Context, userID, betType string) ([]Bet, error) {
	return p.queryBets(ctx, `SELECT `+betColumns+` FROM bets WHERE user_id = $1 AND bet_type = $2 ORDER BY id`, userID, betType)
}

// BetExists verifica a unicidade (user, match, bet_type)
func (p *Postgres) BetExists(ctx context.Context, userID string, matchID int64, betType string) (bool, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`SELECT id FROM bets WHERE user_id = $1 AND match_id = $2 AND bet_type = $3 LIMIT 1`,
		userID, matchID, betType).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

// CreateBet insere uma aposta pendente só se a partida existir e não estiver final.
// O FOR SHARE na linha da partida conflita com o UPDATE da liquidação: ou a aposta entra
// antes e é liquidada junto, ou o INSERT reavalia a linha já final e não grava nada.
// A constraint única (user_id, match_id, bet_type) cobre a corrida entre o BetExists e o INSERT.
func (p *Postgres) CreateBet(ctx context.Context, b Bet) (Bet, error) {
	err := p.db.QueryRowContext(ctx, `
		WITH open_match AS (
			SELECT id FROM matches WHERE id = $2 AND status <> 'final' FOR SHARE
		)
		INSERT INTO bets (user_id, match_id, bet_type, bet_on, odds, amount)
		SELECT $1::text, open_match.id, $3::text, $4::text, $5::int, $6::numeric FROM open_match
		RETURNING id, created_at`,
		b.UserID, b.MatchID, b.BetType, b.BetOn, b.Odds, b.Amount,
	).Scan(&b.ID, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Bet{}, p.closedMatchErr(ctx, b.MatchID)
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case pgUniqueViolation:
				return Bet{}, ErrDuplicateBet
			case pgForeignKeyViolation:
				return Bet{}, ErrMatchNotFound
			}
		}
		return Bet{}, storeErr(err)
	}
	return b, nil
}

// closedMatchErr explica por que o INSERT condicional não gravou: partida inexistente ou já final
func (p *Postgres) closedMatchErr(ctx context.Context, matchID int64) error {
	var status string
	err := p.db.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = $1`, matchID).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrMatchNotFound
	case err != nil:
		return storeErr(err)
	}
	return ErrMatchFinal
}

// SettleMatch grava o placar e liquida as apostas numa única transação.
// O UPDATE condicional (status <> 'final') é o compare-and-set que garante liquidação única
// mesmo com requisições concorrentes vindas de processos diferentes.
func (p *Postgres) SettleMatch(ctx context.Context, matchID int64, score1, score2 int, grade GradeFunc) (Match, []Grade, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Match{}, nil, storeErr(err)
	}
	defer tx.Rollback()

	m := Match{ID: matchID}
	var s1, s2 int
	err = tx.QueryRowContext(ctx, `
		UPDATE matches SET score_team1 = $2, score_team2 = $3, status = 'final'
		WHERE id = $1 AND status <> 'final'
		RETURNING team1_id, team2_id, match_date, venue, stage, status, score_team1, score_team2`,
		matchID, score1, score2,
	).Scan(&m.Team1ID, &m.Team2ID, &m.MatchDate, &m.Venue, &m.Stage, &m.Status, &s1, &s2)
	if errors.Is(err, sql.ErrNoRows) {
		// nada atualizado: partida inexistente ou já finalizada
		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = $1`, matchID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return Match{}, nil, ErrMatchNotFound
		}
		if err != nil {
			return Match{}, nil, storeErr(err)
		}
		return Match{}, nil, ErrMatchFinal
	}
	if err != nil {
		return Match{}, nil, storeErr(err)
	}
	m.ScoreTeam1, m.ScoreTeam2 = &s1, &s2

	// nomes permitem casar apostas feitas pelo nome do time
	rows, err := tx.QueryContext(ctx, `SELECT id, name FROM teams WHERE id = ANY($1)`, pq.Array([]int64{m.Team1ID, m.Team2ID}))
	if err != nil {
		return Match{}, nil, storeErr(err)
	}
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			rows.Close()
			return Match{}, nil, storeErr(err)
		}
		switch t.ID {
		case m.Team1ID:
			m.Team1Name = t.Name
		case m.Team2ID:
			m.Team2Name = t.Name
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Match{}, nil, storeErr(err)
	}

	bets, err := queryBetsTx(ctx, tx, `SELECT `+betColumns+` FROM bets
		WHERE match_id = $1 AND (result IS NULL OR result = 'pending')
		ORDER BY id FOR UPDATE`, matchID)
	if err != nil {
		return Match{}, nil, err
	}

	grades := grade(m, bets)

	byResult := map[string][]int64{}
	for _, g := range grades {
		byResult[g.Result] = append(byResult[g.Result], g.BetID)
	}
	// ordem fixa: mantém as queries determinísticas
	for _, r := range []string{ResultWin, ResultLoss, ResultPush} {
		ids := byResult[r]
		if len(ids) == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bets SET result = $1, settled_at = NOW() WHERE id = ANY($2)`,
			r, pq.Array(ids)); err != nil {
			return Match{}, nil, storeErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Match{}, nil, storeErr(err)
	}
	return m, grades, nil
}

func queryBetsTx(ctx context.Context, tx *sql.Tx, q string, args ...any) ([]Bet, error) {
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	var out []Bet
	for rows.Next() {
		var b Bet
		var result sql.NullString
		if err := rows.Scan(&b.ID, &b.UserID, &b.MatchID, &b.BetType, &b.BetOn, &b.Odds, &b.Amount, &result, &b.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		if result.Valid {
			r := result.String
			b.Result = &r
		}
		out = append(out, b)
	}
	return out, storeErr(rows.Err())
}

// TopFeatures retorna o ranking de features do modelo externo, rank crescente
func (p *Postgres) TopFeatures(ctx context.Context, limit int) ([]FeatureRanking, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT feature, rank FROM top_features ORDER BY rank ASC`+limitClause(limit))
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []FeatureRanking{}
	for rows.Next() {
		var f FeatureRanking
		if err := rows.Scan(&f.Feature, &f.Rank); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, f)
	}
	return out, storeErr(rows.Err())
}

// ListJSON lê uma tabela somente leitura como objetos JSON (schema mantido fora daqui)
func (p *Postgres) ListJSON(ctx context.Context, table string, limit int) ([]json.RawMessage, error) {
	if !readOnlyTables[table] {
		return nil, ErrUnknownTable
	}
	q := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t`, pq.QuoteIdentifier(table)) + limitClause(limit)
	return p.queryJSON(ctx, q)
}

// FilteredJSON lê linhas cuja coluna (comparação case-insensitive) está em values
func (p *Postgres) FilteredJSON(ctx context.Context, table, column string, values []string, limit int) ([]json.RawMessage, error) {
	if !readOnlyTables[table] {
		return nil, ErrUnknownTable
	}
	lowered := make([]string, 0, len(values))
	for _, v := range values {
		lowered = append(lowered, strings.ToLower(v))
	}
	q := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE lower(t.%s::text) = ANY($1)`,
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column)) + limitClause(limit)
	return p.queryJSON(ctx, q, pq.Array(lowered))
}

// StatsByTeamIDs busca linhas de uma categoria de estatística por team_id
func (p *Postgres) StatsByTeamIDs(ctx context.Context, category string, ids []int64, limit int) ([]json.RawMessage, error) {
	table, ok := StatTables[category]
	if !ok {
		return nil, apperr.E(apperr.ErrInvalidInput, "unknown stats category")
	}
	q := fmt.Sprintf(`SELECT row_to_json(t) FROM %s t WHERE t.team_id = ANY($1)`, pq.QuoteIdentifier(table)) + limitClause(limit)
	return p.queryJSON(ctx, q, pq.Array(ids))
}

// StatsByTeamNames é o fallback por nome quando o team_id não encontra nada
func (p *Postgres) StatsByTeamNames(ctx context.Context, category string, names []string, limit int) ([]json.RawMessage, error) {
	table, ok := StatTables[category]
	if !ok {
		return nil, apperr.E(apperr.ErrInvalidInput, "unknown stats category")
	}
	return p.FilteredJSON(ctx, table, "team_name", names, limit)
}

// ListStats lista uma categoria inteira
func (p *Postgres) ListStats(ctx context.Context, category string, limit int) ([]json.RawMessage, error) {
	table, ok := StatTables[category]
	if !ok {
		return nil, apperr.E(apperr.ErrInvalidInput, "unknown stats category")
	}
	return p.ListJSON(ctx, table, limit)
}

func (p *Postgres) queryJSON(ctx context.Context, q string, args ...any) ([]json.RawMessage, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []json.RawMessage{}
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, json.RawMessage(b))
	}
	return out, storeErr(rows.Err())
}

// Ping é usado pelo /healthz
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.db.PingContext(ctx)
}
