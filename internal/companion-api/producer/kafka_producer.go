package producer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/radieske/betting-companion-api/internal/shared/kafka"
	"github.com/radieske/betting-companion-api/pkg/contracts/events"
)

type KafkaPublisher struct {
	Writer kafka.MessageWriter
	Topic  string // só para os erros; o destino vem do writer
}

func NewKafkaPublisher(w kafka.MessageWriter, topic string) *KafkaPublisher {
	return &KafkaPublisher{Writer: w, Topic: topic}
}

// PublishMatchSettled usa o match_id como chave: eventos da mesma partida caem na mesma partição
func (p *KafkaPublisher) PublishMatchSettled(ctx context.Context, e events.MatchSettled) error {
	if err := kafka.WriteJSON(ctx, p.Writer, strconv.FormatInt(e.MatchID, 10), e); err != nil {
		return fmt.Errorf("publish %s match_id=%d: %w", p.Topic, e.MatchID, err)
	}
	return nil
}
