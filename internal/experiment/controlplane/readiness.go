package controlplane

import (
	"context"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
)

// ReadinessSignal waits for the first event published on a channel.
type ReadinessSignal struct {
	db      redis.UniversalClient
	channel string
}

func NewReadinessSignal(db redis.UniversalClient, channel string) *ReadinessSignal {
	return &ReadinessSignal{db: db, channel: channel}
}

// Arm subscribes to the channel. Events published after Arm returns are not missed by Wait.
func (s *ReadinessSignal) Arm() (*ArmedSignal, error) {
	pubsub := s.db.Subscribe(s.channel)
	if _, err := pubsub.Receive(); err != nil {
		_ = pubsub.Close()
		return nil, errors.WithMessagef(err, "failed to subscribe to %s", s.channel)
	}
	return &ArmedSignal{channel: s.channel, pubsub: pubsub, messages: pubsub.Channel()}, nil
}

// Wait subscribes and blocks until the first event arrives.
func (s *ReadinessSignal) Wait(ctx context.Context, timeout time.Duration) error {
	armed, err := s.Arm()
	if err != nil {
		return err
	}
	defer armed.Close()
	return armed.Wait(ctx, timeout)
}

type ArmedSignal struct {
	channel  string
	pubsub   *redis.PubSub
	messages <-chan *redis.Message
}

// Wait returns on the first event. Later events are not inspected.
func (a *ArmedSignal) Wait(ctx context.Context, timeout time.Duration) error {
	log.WithField("channel", a.channel).Infof("Waiting for event on %s", a.channel)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case message, ok := <-a.messages:
		if !ok {
			return errors.Errorf("subscription to %s closed", a.channel)
		}
		log.WithField("channel", a.channel).Infof("Received %q, system is ready", message.Payload)
		return nil
	case <-timer.C:
		return errors.WithStack(&experimenterrors.ErrReadinessTimeout{Channel: a.channel, Timeout: timeout})
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *ArmedSignal) Close() error {
	return a.pubsub.Close()
}
