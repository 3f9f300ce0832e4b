package callevents

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-go-golems/convrelay/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type BusConfig struct {
	Topic  string
	Redis  redisstream.Settings
	Logger watermill.LoggerAdapter
}

// Bus is an in-process gochannel pub/sub, or Redis Streams when enabled,
// plus a router that runs the registered consumers.
type Bus struct {
	topic      string
	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router
	closers    []func() error
}

var _ Publisher = (*Bus)(nil)

func NewBus(ctx context.Context, cfg BusConfig) (*Bus, error) {
	if ctx == nil {
		return nil, errors.New("ctx is nil")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Logger == nil {
		cfg.Logger = watermill.NopLogger{}
	}

	b := &Bus{topic: cfg.Topic}
	if cfg.Redis.Enabled {
		tr, err := redisstream.Build(ctx, cfg.Redis, cfg.Topic, cfg.Logger)
		if err != nil {
			return nil, errors.Wrap(err, "build redis transport")
		}
		b.publisher = tr.Publisher
		b.subscriber = tr.Subscriber
		b.closers = append(b.closers, tr.Close)
	} else {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, cfg.Logger)
		b.publisher = ch
		b.subscriber = ch
		b.closers = append(b.closers, ch.Close)
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 5 * time.Second}, cfg.Logger)
	if err != nil {
		_ = b.closeTransports()
		return nil, errors.Wrap(err, "build event router")
	}
	b.router = router
	return b, nil
}

func (b *Bus) Topic() string { return b.topic }

// Publish marshals ev and hands it to the transport.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil || b.publisher == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("component", "callevents").Msg("failed to marshal call event")
		return
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	if ctx != nil {
		msg.SetContext(context.WithoutCancel(ctx))
	}
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		log.Warn().Err(err).
			Str("component", "callevents").
			Str("event_type", string(ev.Type)).
			Str("call_sid", ev.CallSID).
			Msg("failed to publish call event")
	}
}

// AddHandler registers a consumer for every event on the bus topic. It must be
// called before Run.
func (b *Bus) AddHandler(name string, fn func(Event) error) {
	b.router.AddNoPublisherHandler(name, b.topic, b.subscriber, func(msg *message.Message) error {
		var ev Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			log.Warn().Err(err).Str("component", "callevents").Str("handler", name).Msg("dropping undecodable call event")
			return nil
		}
		return fn(ev)
	})
}

// Run blocks until ctx is done or the router stops.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router has started all handlers.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	if b.router != nil {
		if err := b.router.Close(); err != nil {
			firstErr = err
		}
	}
	if err := b.closeTransports(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (b *Bus) closeTransports() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	return firstErr
}
