package nats

import (
	"context"

	"github.com/nats-io/nats.go/jetstream"
)

func (s *Subscriber) HandleMessage(ctx context.Context, msg jetstream.Msg) {
	s.handleMessage(ctx, msg)
}
