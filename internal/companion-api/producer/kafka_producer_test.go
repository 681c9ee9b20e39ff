package producer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestPublishMatchSettledKeysByMatch(t *testing.T) {
	w := &captureWriter{}
	p := NewKafkaPublisher(w, "match_settled")

	ev := events.MatchSettled{
		SettlementID: "s-1",
		MatchID:      42,
		ScoreTeam1:   1,
		ScoreTeam2:   0,
		Winner:       "team1",
		Counts:       events.SettledCounts{Win: 2, Loss: 1},
		SettledAt:    time.Date(2026, 7, 1, 20, 0, 0, 0, time.UTC),
	}
	if err := p.PublishMatchSettled(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "42" {
		t.Fatalf("msgs = %+v", w.msgs)
	}
	var got events.MatchSettled
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatal(err)
	}
	if got.SettlementID != "s-1" || got.Counts.Win != 2 || !got.SettledAt.Equal(ev.SettledAt) {
		t.Fatalf("payload = %+v", got)
	}
}

func TestPublishMatchSettledNamesTopicOnError(t *testing.T) {
	brokerDown := errors.New("dial tcp: connection refused")
	p := NewKafkaPublisher(&captureWriter{err: brokerDown}, "match_settled")

	err := p.PublishMatchSettled(context.Background(), events.MatchSettled{MatchID: 7})
	if !errors.Is(err, brokerDown) {
		t.Fatalf("err = %v, want wrapped broker error", err)
	}
	if !strings.Contains(err.Error(), "match_settled") || !strings.Contains(err.Error(), "match_id=7") {
		t.Fatalf("err = %q", err)
	}
}
