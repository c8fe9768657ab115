package proctoring

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/provexa/proctor-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const publishTimeout = 5 * time.Second

// roomPayload is the cross-instance envelope on the Redis channel. The
// origin names the publishing hub instance; subscribers use it to drop
// the echo of their own publishes.
type roomPayload struct {
	Origin string          `json:"origin"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	At     int64           `json:"at"`
}

// RedisPubSub bridges monitoring room events across server instances.
type RedisPubSub struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewRedisPubSub creates the pub/sub bridge.
func NewRedisPubSub(client *redis.Client, log zerolog.Logger) *RedisPubSub {
	return &RedisPubSub{
		client: client,
		log:    log.With().Str("component", "proctoring_pubsub").Logger(),
	}
}

// PublishRoomEvent publishes an event to the institute's channel.
func (r *RedisPubSub) PublishRoomEvent(instituteID uuid.UUID, origin, event string, payload []byte) error {
	body, err := json.Marshal(roomPayload{Origin: origin, Event: event, Data: payload, At: time.Now().Unix()})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return r.client.Publish(ctx, config.CacheKey.ProctoringRoomChannel(instituteID.String()), body).Err()
}

// SubscribeRoom subscribes to an institute's channel and calls handler
// for each message until the returned cancel runs.
func (r *RedisPubSub) SubscribeRoom(instituteID uuid.UUID, handler func(origin, event string, payload []byte)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := r.client.Subscribe(ctx, config.CacheKey.ProctoringRoomChannel(instituteID.String()))
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe room: %w", err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p roomPayload
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					r.log.Warn().Err(err).Msg("Malformed room payload")
					continue
				}
				handler(p.Origin, p.Event, p.Data)
			}
		}
	}()

	return cancelCtx, nil
}
