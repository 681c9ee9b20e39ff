package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type LatestStore interface {
	SetLatest(ctx context.Context, e events.MatchSettled) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

var errInvalidEvent = errors.New("match_settled without match_id")

const defaultRetries = 3

// Processor consome match_settled, grava o último resultado no Redis e repassa ao canal do WebSocket.
// Falhas transitórias têm retry com backoff linear; esgotado o retry (ou payload inválido) a mensagem vai pra DLQ.
type Processor struct {
	Log         *zap.Logger
	Reader      MessageReader
	Cache       LatestStore
	Broadcaster Broadcaster
	Channel     string
	DLQ         kafka.MessageWriter // opcional

	Retries int
	Backoff time.Duration // base do backoff linear (300ms se zero)

	OnConsumed  func()       // métricas (counter++)
	OnCached    func()       // métricas
	OnBroadcast func()       // métricas
	OnDLQ       func()       // métricas
	OnError     func(string) // métricas por fase
}

// Run inicia o loop principal de consumo até o contexto ser cancelado
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		p.Handle(ctx, m)
	}
}

// Handle processa uma mensagem; nunca retorna erro pro loop
func (p *Processor) Handle(ctx context.Context, m kafka.Message) {
	if p.OnConsumed != nil {
		p.OnConsumed()
	}

	var ev events.MatchSettled
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.MatchID <= 0 {
		if err == nil {
			err = errInvalidEvent
		}
		p.Log.Warn("invalid message", zap.Error(err))
		p.fail("decode")
		p.toDLQ(ctx, m, "decode", err)
		return
	}

	if err := p.retry(ctx, func() error { return p.Cache.SetLatest(ctx, ev) }); err != nil {
		p.Log.Warn("redis set failed", zap.Int64("match_id", ev.MatchID), zap.Error(err))
		p.fail("cache")
		p.toDLQ(ctx, m, "cache", err)
		return
	}
	if p.OnCached != nil {
		p.OnCached()
	}

	payload, err := json.Marshal(events.ResultUpdate{MatchID: ev.MatchID, Payload: ev})
	if err != nil {
		p.fail("encode")
		return
	}
	if err := p.retry(ctx, func() error { return p.Broadcaster.Publish(ctx, p.Channel, payload) }); err != nil {
		p.Log.Warn("ws broadcast publish failed", zap.Int64("match_id", ev.MatchID), zap.Error(err))
		p.fail("broadcast")
		p.toDLQ(ctx, m, "broadcast", err)
		return
	}
	if p.OnBroadcast != nil {
		p.OnBroadcast()
	}
	p.Log.Debug("result broadcast", zap.Int64("match_id", ev.MatchID), zap.String("settlement_id", ev.SettlementID))
}

// retry executa fn e tenta de novo até Retries vezes com backoff linear
func (p *Processor) retry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	retries := p.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	base := p.Backoff
	if base <= 0 {
		base = 300 * time.Millisecond
	}
	for i := 0; i < retries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * base):
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}

func (p *Processor) toDLQ(ctx context.Context, m kafka.Message, stage string, cause error) {
	if p.DLQ == nil {
		return
	}
	msg := kafka.Message{
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "stage", Value: []byte(stage)},
			{Key: "error", Value: []byte(cause.Error())},
		},
		Time: time.Now(),
	}
	if err := p.DLQ.WriteMessages(ctx, msg); err != nil {
		p.Log.Error("dlq write failed", zap.String("stage", stage), zap.Error(err))
		p.fail("dlq")
		return
	}
	if p.OnDLQ != nil {
		p.OnDLQ()
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
