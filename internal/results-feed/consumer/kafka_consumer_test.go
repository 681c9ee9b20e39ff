package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

type flakyCache struct {
	mu       sync.Mutex
	failures int
	calls    int
	latest   map[int64]events.MatchSettled
}

func (c *flakyCache) SetLatest(_ context.Context, e events.MatchSettled) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.failures {
		return errors.New("redis timeout")
	}
	c.latest[e.MatchID] = e
	return nil
}

func (c *flakyCache) latestSnapshot(matchID int64) (events.MatchSettled, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.latest[matchID]
	return e, ok
}

type recordBroadcaster struct {
	channel string
	msgs    [][]byte
	err     error
}

func (b *recordBroadcaster) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.channel = channel
	b.msgs = append(b.msgs, payload)
	return nil
}

type dlqWriter struct{ msgs []kafka.Message }

func (w *dlqWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type counters map[string]int

func newProcessor(cache *flakyCache, b *recordBroadcaster, dlq *dlqWriter) (*Processor, counters) {
	c := counters{}
	return &Processor{
		Log:         zap.NewNop(),
		Cache:       cache,
		Broadcaster: b,
		Channel:     "results_broadcast",
		DLQ:         dlq,
		Backoff:     time.Millisecond,
		OnConsumed:  func() { c["consumed"]++ },
		OnCached:    func() { c["cached"]++ },
		OnBroadcast: func() { c["broadcast"]++ },
		OnDLQ:       func() { c["dlq"]++ },
		OnError:     func(stage string) { c["err:"+stage]++ },
	}, c
}

func settledMsg(t *testing.T, matchID int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(events.MatchSettled{SettlementID: "s-9", MatchID: matchID, ScoreTeam1: 1, Winner: "team1"})
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte("9"), Value: b}
}

func TestHandleCachesAndBroadcasts(t *testing.T) {
	cache := &flakyCache{latest: map[int64]events.MatchSettled{}}
	b := &recordBroadcaster{}
	p, c := newProcessor(cache, b, &dlqWriter{})

	p.Handle(context.Background(), settledMsg(t, 9))

	if cache.latest[9].SettlementID != "s-9" {
		t.Fatalf("cache = %+v", cache.latest)
	}
	if len(b.msgs) != 1 || b.channel != "results_broadcast" {
		t.Fatalf("broadcast = %d on %q", len(b.msgs), b.channel)
	}
	var upd events.ResultUpdate
	if err := json.Unmarshal(b.msgs[0], &upd); err != nil || upd.MatchID != 9 || upd.Payload.Winner != "team1" {
		t.Fatalf("update = %+v err=%v", upd, err)
	}
	if c["consumed"] != 1 || c["cached"] != 1 || c["broadcast"] != 1 || c["dlq"] != 0 {
		t.Fatalf("counters = %v", c)
	}
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	cache := &flakyCache{failures: 2, latest: map[int64]events.MatchSettled{}}
	p, c := newProcessor(cache, &recordBroadcaster{}, &dlqWriter{})

	p.Handle(context.Background(), settledMsg(t, 9))

	if cache.calls != 3 || c["cached"] != 1 || c["dlq"] != 0 {
		t.Fatalf("calls=%d counters=%v", cache.calls, c)
	}
}

func TestHandleExhaustedRetriesGoToDLQ(t *testing.T) {
	cache := &flakyCache{failures: 10, latest: map[int64]events.MatchSettled{}}
	dlq := &dlqWriter{}
	b := &recordBroadcaster{}
	p, c := newProcessor(cache, b, dlq)

	msg := settledMsg(t, 9)
	p.Handle(context.Background(), msg)

	if cache.calls != 1+defaultRetries {
		t.Fatalf("cache calls = %d", cache.calls)
	}
	if len(dlq.msgs) != 1 || string(dlq.msgs[0].Value) != string(msg.Value) {
		t.Fatalf("dlq = %+v", dlq.msgs)
	}
	if string(dlq.msgs[0].Headers[0].Value) != "cache" {
		t.Fatalf("stage header = %s", dlq.msgs[0].Headers[0].Value)
	}
	if len(b.msgs) != 0 || c["err:cache"] != 1 || c["dlq"] != 1 {
		t.Fatalf("broadcast=%d counters=%v", len(b.msgs), c)
	}
}

func TestHandleUndecodableGoesToDLQ(t *testing.T) {
	cache := &flakyCache{latest: map[int64]events.MatchSettled{}}
	dlq := &dlqWriter{}
	p, c := newProcessor(cache, &recordBroadcaster{}, dlq)

	p.Handle(context.Background(), kafka.Message{Value: []byte(`{"match_id":`)})
	p.Handle(context.Background(), kafka.Message{Value: []byte(`{"settlement_id":"x"}`)})

	if len(dlq.msgs) != 2 || cache.calls != 0 {
		t.Fatalf("dlq=%d cache calls=%d", len(dlq.msgs), cache.calls)
	}
	if c["err:decode"] != 2 || c["consumed"] != 2 {
		t.Fatalf("counters = %v", c)
	}
}

func TestHandleBroadcastFailure(t *testing.T) {
	cache := &flakyCache{latest: map[int64]events.MatchSettled{}}
	dlq := &dlqWriter{}
	p, c := newProcessor(cache, &recordBroadcaster{err: errors.New("redis down")}, dlq)

	p.Handle(context.Background(), settledMsg(t, 9))

	if c["cached"] != 1 || c["err:broadcast"] != 1 || len(dlq.msgs) != 1 {
		t.Fatalf("counters=%v dlq=%d", c, len(dlq.msgs))
	}
}

type scriptedReader struct {
	msgs []kafka.Message
	i    int
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		r.i++
		return r.msgs[r.i-1], nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	cache := &flakyCache{latest: map[int64]events.MatchSettled{}}
	p, _ := newProcessor(cache, &recordBroadcaster{}, &dlqWriter{})
	p.Reader = &scriptedReader{msgs: []kafka.Message{settledMsg(t, 1), settledMsg(t, 2)}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := cache.latestSnapshot(2); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("messages not processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run err = %v", err)
	}
}
