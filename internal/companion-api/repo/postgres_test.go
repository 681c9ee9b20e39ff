package repo

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/radieske/betting-companion-api/internal/shared/apperr"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

var (
	kickoff    = time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)
	betRowCols = []string{"id", "user_id", "match_id", "bet_type", "bet_on", "odds", "amount", "result", "created_at"}
)

func expectCAS(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE matches SET score_team1 = $2, score_team2 = $3, status = 'final'")).
		WithArgs(int64(1), 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"team1_id", "team2_id", "match_date", "venue", "stage", "status", "score_team1", "score_team2"}).
			AddRow(int64(10), int64(20), kickoff, "Lusail", "Final", "final", int64(2), int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM teams WHERE id = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(10), "Spain").AddRow(int64(20), "Brazil"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM bets")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(betRowCols).
			AddRow(int64(1), "u1", int64(1), BetTeamWinner, "team1", int64(-110), "50.00", nil, kickoff).
			AddRow(int64(2), "u2", int64(1), BetTeamWinner, "team2", int64(120), "20", nil, kickoff).
			AddRow(int64(3), "u3", int64(1), BetPlayerScore, "Messi", int64(300), "5", nil, kickoff))
}

func TestSettleMatchCommits(t *testing.T) {
	p, mock := newMock(t)
	expectCAS(mock)
	for _, r := range []string{ResultWin, ResultLoss, ResultPush} {
		mock.ExpectExec(regexp.QuoteMeta("UPDATE bets SET result = $1, settled_at = NOW() WHERE id = ANY($2)")).
			WithArgs(r, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	var seen Match
	var seenBets []Bet
	m, grades, err := p.SettleMatch(context.Background(), 1, 2, 1, func(m Match, bets []Bet) []Grade {
		seen, seenBets = m, bets
		return []Grade{{BetID: 1, Result: ResultWin}, {BetID: 2, Result: ResultLoss}, {BetID: 3, Result: ResultPush}}
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if seen.Team1Name != "Spain" || seen.Team2Name != "Brazil" || *seen.ScoreTeam1 != 2 {
		t.Errorf("grade saw match %+v", seen)
	}
	if len(seenBets) != 3 || seenBets[0].Amount.String() != "50" || seenBets[2].BetOn != "Messi" {
		t.Errorf("grade saw bets %+v", seenBets)
	}
	if m.Status != MatchFinal || len(grades) != 3 {
		t.Errorf("match=%+v grades=%+v", m, grades)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSettleMatchAlreadyFinal(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE matches").WithArgs(int64(1), 0, 0).
		WillReturnRows(sqlmock.NewRows([]string{"team1_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM matches WHERE id = $1")).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("final"))
	mock.ExpectRollback()

	called := false
	_, _, err := p.SettleMatch(context.Background(), 1, 0, 0, func(Match, []Bet) []Grade { called = true; return nil })
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if called {
		t.Error("grade must not run for a final match")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSettleMatchNotFound(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE matches").WillReturnRows(sqlmock.NewRows([]string{"team1_id"}))
	mock.ExpectQuery("SELECT status FROM matches").WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, _, err := p.SettleMatch(context.Background(), 1, 1, 0, func(Match, []Bet) []Grade { return nil })
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestSettleMatchRollsBackOnUpdateFailure(t *testing.T) {
	p, mock := newMock(t)
	expectCAS(mock)
	mock.ExpectExec("UPDATE bets SET result").WithArgs(ResultWin, sqlmock.AnyArg()).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, _, err := p.SettleMatch(context.Background(), 1, 2, 1, func(Match, []Bet) []Grade {
		return []Grade{{BetID: 1, Result: ResultWin}}
	})
	if !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestCreateBetUniqueViolation(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO bets").WillReturnError(&pq.Error{Code: "23505"})

	_, err := p.CreateBet(context.Background(), Bet{UserID: "u1", MatchID: 1, BetType: BetTeamWinner, BetOn: "team1", Odds: 100})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestCreateBetReturnsIDAndTimestamp(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO bets").
		WithArgs("u1", int64(1), BetTeamWinner, "team1", 100, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), kickoff))

	b, err := p.CreateBet(context.Background(), Bet{UserID: "u1", MatchID: 1, BetType: BetTeamWinner, BetOn: "team1", Odds: 100})
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 12 || !b.CreatedAt.Equal(kickoff) || b.Result != nil {
		t.Fatalf("bet = %+v", b)
	}
}

func TestCreateBetOnClosedMatch(t *testing.T) {
	cases := []struct {
		name   string
		status *sqlmock.Rows
		want   error
	}{
		{"final", sqlmock.NewRows([]string{"status"}).AddRow(MatchFinal), ErrMatchFinal},
		{"missing", sqlmock.NewRows([]string{"status"}), ErrMatchNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, mock := newMock(t)
			mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM matches WHERE id = $2 AND status <> 'final' FOR SHARE")).
				WithArgs("u1", int64(1), BetTeamWinner, "team1", 100, sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT status FROM matches WHERE id = $1")).
				WithArgs(int64(1)).
				WillReturnRows(tc.status)

			_, err := p.CreateBet(context.Background(), Bet{UserID: "u1", MatchID: 1, BetType: BetTeamWinner, BetOn: "team1", Odds: 100})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("Unmet expectations: %v", err)
			}
		})
	}
}

func TestBetExists(t *testing.T) {
	p, mock := newMock(t)
	q := regexp.QuoteMeta("SELECT id FROM bets WHERE user_id = $1 AND match_id = $2 AND bet_type = $3 LIMIT 1")
	mock.ExpectQuery(q).WithArgs("u1", int64(1), BetTeamWinner).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery(q).WithArgs("u2", int64(1), BetTeamWinner).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if ok, err := p.BetExists(context.Background(), "u1", 1, BetTeamWinner); err != nil || !ok {
		t.Fatalf("u1: ok=%v err=%v", ok, err)
	}
	if ok, err := p.BetExists(context.Background(), "u2", 1, BetTeamWinner); err != nil || ok {
		t.Fatalf("u2: ok=%v err=%v", ok, err)
	}
}

func TestUpcomingMatchesLimit(t *testing.T) {
	p, mock := newMock(t)
	cols := []string{"id", "team1_id", "team2_id", "t1", "t2", "match_date", "venue", "stage", "status", "score_team1", "score_team2"}
	mock.ExpectQuery(regexp.QuoteMeta("WHERE m.status = $1 ORDER BY m.match_date, m.id LIMIT 5")).
		WithArgs(MatchUpcoming).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(int64(1), int64(10), int64(20), "Spain", "Brazil", kickoff, "Lusail", "Group A", MatchUpcoming, nil, nil))

	ms, err := p.UpcomingMatches(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Team1Name != "Spain" || ms[0].ScoreTeam1 != nil {
		t.Fatalf("matches = %+v", ms)
	}
}

func TestListJSON(t *testing.T) {
	p, mock := newMock(t)
	if _, err := p.ListJSON(context.Background(), "users; drop table bets", 1); !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("err = %v, want unknown table", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT row_to_json(t) FROM "valuebets" t LIMIT 3`)).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow([]byte(`{"edge":0.1}`)))
	rows, err := p.ListJSON(context.Background(), TableValueBets, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || string(rows[0]) != `{"edge":0.1}` {
		t.Fatalf("rows = %s", rows)
	}
}

func TestListJSONEmptyIsArray(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("FROM \"qualifying_odds\"").WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}))
	rows, err := p.ListJSON(context.Background(), TableQualifyingOdds, 0)
	if err != nil || rows == nil || len(rows) != 0 {
		t.Fatalf("rows=%v err=%v", rows, err)
	}
}

func TestStatsByTeamNamesUsesTeamNameColumn(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "team_shooting_stats" t WHERE lower(t."team_name"::text) = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"row_to_json"}).AddRow([]byte(`{"team_name":"Spain"}`)))

	rows, err := p.StatsByTeamNames(context.Background(), "shooting", []string{"Spain"}, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%v err=%v", rows, err)
	}
	if _, err := p.StatsByTeamIDs(context.Background(), "dribbling", []int64{1}, 1); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("unknown category err = %v", err)
	}
}

func TestStoreFailureIsUpstream(t *testing.T) {
	p, mock := newMock(t)
	mock.ExpectQuery("SELECT id, name FROM teams").WillReturnError(errors.New("connection refused"))
	if _, err := p.ListTeams(context.Background()); !errors.Is(err, apperr.ErrUpstream) {
		t.Fatalf("err = %v, want upstream", err)
	}
}
