// Package broker bridges room broadcasts across server instances over
// Redis pub/sub. Without it, two users of one room connected to different
// instances would never see each other's edits.
package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const broadcastChannel = "coderoom:broadcast"

// message wraps a room frame with its origin so instances can ignore
// their own publications and avoid echo loops.
type message struct {
	Origin string          `json:"origin"`
	RoomID string          `json:"roomId"`
	Frame  json.RawMessage `json:"frame"`
}

type Bridge struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

func New(ctx context.Context, redisURL string, logger *zap.Logger) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	instanceID := uuid.NewString()
	logger.Info("broadcast bridge connected",
		zap.String("addr", opts.Addr),
		zap.String("instance_id", instanceID),
	)
	return &Bridge{
		client:     client,
		instanceID: instanceID,
		logger:     logger,
	}, nil
}

// Publish re-publishes a locally originated room frame. Best-effort:
// failures are logged and the frame is lost to remote instances only.
func (b *Bridge) Publish(ctx context.Context, roomID string, frame []byte) {
	payload, err := json.Marshal(message{
		Origin: b.instanceID,
		RoomID: roomID,
		Frame:  frame,
	})
	if err != nil {
		b.logger.Error("encode bridge message", zap.Error(err))
		return
	}

	if err := b.client.Publish(ctx, broadcastChannel, payload).Err(); err != nil {
		b.logger.Warn("publish bridge message",
			zap.String("room_id", roomID),
			zap.Error(err),
		)
	}
}

// Run consumes frames published by other instances and hands them to
// fanout. Blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, fanout func(roomID string, frame []byte)) {
	sub := b.client.Subscribe(ctx, broadcastChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			var msg message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.logger.Warn("malformed bridge message", zap.Error(err))
				continue
			}
			if msg.Origin == b.instanceID {
				continue
			}
			fanout(msg.RoomID, msg.Frame)
		}
	}
}

func (b *Bridge) Close() error {
	return b.client.Close()
}
