package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

// StartRedisSubscriber escuta o canal de resultados e repassa cada mensagem ao Hub
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) {
	sub := r.Subscribe(ctx, channel)
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				Dispatch(hub, []byte(msg.Payload), log)
			}
		}
	}()
}

// Dispatch decodifica um payload do canal e entrega ao hub; payload inválido é descartado
func Dispatch(hub *Hub, payload []byte, log *zap.Logger) {
	var upd events.ResultUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		log.Warn("ws subscriber unmarshal error", zap.Error(err))
		return
	}
	hub.Broadcast(upd)
}
