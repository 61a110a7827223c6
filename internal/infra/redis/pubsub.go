package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"docqa-engine/internal/domain/model"
	"docqa-engine/internal/domain/ports/adapter"
	"docqa-engine/internal/infra/logging"
	"docqa-engine/internal/infra/metrics"
)

var _ adapter.JobNotifier = (*Publisher)(nil)

// Publisher broadcasts job events on a Redis channel so every engine instance
// can forward them to its own SSE subscribers.
type Publisher struct {
	client  RedisClient
	channel string
}

func NewPublisher(client RedisClient, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

func (p *Publisher) NotifyJobUpdated(ctx context.Context, ev model.JobEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, b); err != nil {
		metrics.IncNotification("redis", "error")
		return fmt.Errorf("publish job event: %w", err)
	}
	metrics.IncNotification("redis", "sent")
	return nil
}

// Relay feeds events received on the channel into a local sink.
type Relay struct {
	client  *Client
	channel string
	sink    func(model.JobEvent)
	log     *zerolog.Logger
}

func NewRelay(client *Client, channel string, sink func(model.JobEvent), logger *zerolog.Logger) *Relay {
	return &Relay{client: client, channel: channel, sink: sink, log: logging.Component(logger, "EventRelay")}
}

// Run subscribes and forwards until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.cli.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("relaying job events")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Relay) handle(payload string) {
	var ev model.JobEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.JobID == "" {
		r.log.Warn().Err(err).Msg("dropping malformed job event")
		return
	}
	r.sink(ev)
}
