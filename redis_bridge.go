// this file relays room events between instances over redis pub/sub, for
// deployments running more than one backend process
package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const roomChannelPrefix = "queueup:rooms:"

type bridgeEnvelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// RedisBridge republishes every locally published event on a per-playlist
// redis channel and folds remote instances' events back into the local hub.
// Redis preserves per-channel publish order, so the per-room ordering
// guarantee survives the hop.
type RedisBridge struct {
	client   *redis.Client
	originID string
	logger   *log.Logger
	cancel   context.CancelFunc
}

func NewRedisBridge(redisURL string, logger *log.Logger) (*RedisBridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisBridge{
		client:   client,
		originID: uuid.NewString(),
		logger:   logger.With("component", "bridge"),
	}, nil
}

// Relay publishes the event for sibling instances, best effort.
func (b *RedisBridge) Relay(playlistID string, event Event) {
	payload, err := json.Marshal(bridgeEnvelope{Origin: b.originID, Event: event})
	if err != nil {
		b.logger.Error("marshal envelope", "err", err)
		return
	}
	if err := b.client.Publish(context.Background(), roomChannelPrefix+playlistID, payload).Err(); err != nil {
		b.logger.Warn("relay failed", "playlist", playlistID, "err", err)
	}
}

// Run subscribes to every room channel and feeds remote events into the hub
// until the bridge is closed. Events this instance relayed itself are skipped.
func (b *RedisBridge) Run(hub *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	sub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	go func() {
		defer sub.Close()
		for msg := range sub.Channel() {
			var env bridgeEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("bad envelope", "channel", msg.Channel, "err", err)
				continue
			}
			if env.Origin == b.originID {
				continue
			}
			playlistID := strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			hub.deliverLocal(playlistID, env.Event)
		}
	}()
}

func (b *RedisBridge) Close() {
	if b.cancel != nil {
		b.cancel()
	}
	_ = b.client.Close()
}
