// ViewRank - Real-Time Top-K Trending Video Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewrank

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/viewrank/internal/logging"
	"github.com/tomtom215/viewrank/internal/models"
)

// SourceOptions configures the optional NATS JetStream event source.
type SourceOptions struct {
	URL              string
	Topic            string
	QueueGroup       string
	DurableName      string
	StreamName       string
	SubscribersCount int
	MaxReconnects    int
	ReconnectWait    time.Duration
	AckWaitTimeout   time.Duration
	CloseTimeout     time.Duration
}

// Source consumes view events from a durable JetStream subscription and
// feeds them into the pipeline queue. Multiple ViewRank instances sharing
// a queue group load-balance the stream.
//
// Delivery semantics: a queue-full rejection nacks the message so the
// broker redelivers it once local pressure clears; malformed payloads are
// acked and dropped so they cannot poison the subscription.
type Source struct {
	opts       SourceOptions
	pipeline   *Pipeline
	serializer *models.Serializer
	subscriber message.Subscriber
}

// NewSource creates the JetStream subscriber. The connection is
// established lazily on Serve.
func NewSource(opts SourceOptions, pipeline *Pipeline) (*Source, error) {
	logger := logging.NewWatermillAdapter()

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(opts.MaxReconnects),
		natsgo.ReconnectWait(opts.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("event source disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("event source reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	subOpts := []natsgo.SubOpt{
		natsgo.AckWait(opts.AckWaitTimeout),
		natsgo.DeliverNew(),
	}
	autoProvision := true
	if opts.StreamName != "" {
		subOpts = append(subOpts, natsgo.BindStream(opts.StreamName))
		autoProvision = false
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              opts.URL,
		QueueGroupPrefix: opts.QueueGroup,
		SubscribersCount: opts.SubscribersCount,
		AckWaitTimeout:   opts.AckWaitTimeout,
		CloseTimeout:     opts.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:         false,
			AutoProvision:    autoProvision,
			AckAsync:         false,
			SubscribeOptions: subOpts,
			DurablePrefix:    opts.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create event source subscriber: %w", err)
	}

	return &Source{
		opts:       opts,
		pipeline:   pipeline,
		serializer: models.NewSerializer(),
		subscriber: sub,
	}, nil
}

// Serve implements suture.Service: it consumes the topic until the context
// is canceled.
func (s *Source) Serve(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, s.opts.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.opts.Topic, err)
	}
	logging.Info().Str("topic", s.opts.Topic).Msg("event source started")

	for {
		select {
		case <-ctx.Done():
			if closeErr := s.subscriber.Close(); closeErr != nil {
				logging.Warn().Err(closeErr).Msg("event source close failed")
			}
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(msg)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Source) String() string {
	return "nats-event-source"
}

func (s *Source) handle(msg *message.Message) {
	ev, err := s.serializer.UnmarshalEvent(msg.Payload)
	if err != nil {
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("undecodable event payload dropped")
		msg.Ack()
		return
	}

	if err := s.pipeline.Enqueue(*ev); err != nil {
		if errors.Is(err, ErrOverloaded) {
			// Redeliver once local pressure clears.
			msg.Nack()
			return
		}
		logging.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("event enqueue failed")
		msg.Ack()
		return
	}
	msg.Ack()
}
