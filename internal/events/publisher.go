// Package events publishes the engine's domain events (spec §6) over a
// watermill message.Publisher: gochannel in-process for a single
// instance, NATS when the engine is deployed alongside other
// consumers (the wsbridge subpackage, external analytics, etc), mirroring
// the split tradSys itself draws between its gochannel and NATS event
// buses.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Publisher publishes typed domain events to their topic.
type Publisher struct {
	impl   message.Publisher
	logger *zap.Logger
}

// NewInProcess builds a Publisher backed by an in-memory gochannel
// pub/sub, suitable for a single-instance deployment or tests.
func NewInProcess(logger *zap.Logger) (*Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewStdLoggerWithOut(zapWriter{logger}, false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1024, Persistent: false}, wmLogger)
	return &Publisher{impl: pubsub, logger: logger}, pubsub, nil
}

// NewNATS builds a Publisher and a matching message.Subscriber backed
// directly by a NATS connection, for deployments where other processes
// (the websocket bridge, downstream analytics) consume the same event
// stream out of process.
func NewNATS(natsURL string, logger *zap.Logger) (*Publisher, message.Subscriber, error) {
	conn, err := natsgo.Connect(natsURL,
		natsgo.Name("clobcore-events"),
		natsgo.MaxReconnects(10),
		natsgo.ReconnectWait(time.Second),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			logger.Warn("events: nats disconnected", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("events: nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("events: connect nats: %w", err)
	}
	return &Publisher{impl: &natsPublisher{conn: conn}, logger: logger}, &natsSubscriber{conn: conn, logger: logger}, nil
}

// Publish marshals payload to JSON and publishes it under topic.
func (p *Publisher) Publish(topic Topic, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", topic, err)
	}
	msg := message.NewMessage(uuid.New().String(), raw)
	if err := p.impl.Publish(string(topic), msg); err != nil {
		p.logger.Warn("events: publish failed", zap.String("topic", string(topic)), zap.Error(err))
		return err
	}
	return nil
}

// Close releases the underlying publisher's resources.
func (p *Publisher) Close() error {
	return p.impl.Close()
}

type zapWriter struct{ logger *zap.Logger }

func (w zapWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// natsPublisher adapts a raw *nats.Conn to watermill's message.Publisher
// so Publisher.Publish stays backend-agnostic.
type natsPublisher struct {
	conn *natsgo.Conn
}

func (n *natsPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, m := range messages {
		if err := n.conn.Publish(topic, m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (n *natsPublisher) Close() error {
	n.conn.Close()
	return nil
}

// natsSubscriber adapts a raw *nats.Conn to watermill's
// message.Subscriber, the receiving half of natsPublisher, so wsbridge
// can consume the same topics however the Publisher was built.
type natsSubscriber struct {
	conn   *natsgo.Conn
	logger *zap.Logger
}

func (n *natsSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	out := make(chan *message.Message)
	sub, err := n.conn.Subscribe(topic, func(msg *natsgo.Msg) {
		m := message.NewMessage(uuid.New().String(), msg.Data)
		select {
		case out <- m:
		case <-ctx.Done():
		}
	})
	if err != nil {
		close(out)
		return nil, fmt.Errorf("events: nats subscribe %s: %w", topic, err)
	}
	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
		close(out)
	}()
	return out, nil
}

func (n *natsSubscriber) Close() error {
	return nil
}
