// Package bus keeps one handler list per MQTT topic on top of a single
// shared client. Subscribers get a handle back and remove exactly their own
// handler with it, so reconfiguring a consumer never piles up handlers.
package bus

import (
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

type Handler func(topic string, payload []byte)

type Bus struct {
	client paho.Client
	qos    byte

	// held while broker subscriptions change, so a topic's handler list and
	// its broker subscription never disagree
	sl sync.Mutex

	l      sync.Mutex
	topics map[string][]*Subscription
}

type Subscription struct {
	bus     *Bus
	topic   string
	handler Handler
}

func New(client paho.Client) *Bus {
	return &Bus{client: client, topics: map[string][]*Subscription{}}
}

func (s *Subscription) Topic() string {
	return s.topic
}

// Unsubscribe removes this handler. The broker subscription is dropped with
// the last handler of the topic.
func (s *Subscription) Unsubscribe() error {
	return s.bus.remove(s)
}

// Subscribe adds h to the handlers of topic. Only the first handler of a
// topic subscribes on the broker; concurrent subscribers wait for it.
func (b *Bus) Subscribe(topic string, h Handler) (*Subscription, error) {
	sub := &Subscription{bus: b, topic: topic, handler: h}

	b.sl.Lock()
	defer b.sl.Unlock()

	b.l.Lock()
	first := len(b.topics[topic]) == 0
	b.topics[topic] = append(b.topics[topic], sub)
	b.l.Unlock()

	if !first {
		logrus.Debugf("bus: %s handler added", topic)
		return sub, nil
	}

	if token := b.client.Subscribe(topic, b.qos, b.dispatch(topic)); token.Wait() && token.Error() != nil {
		b.drop(sub)
		return nil, errors.Wrapf(token.Error(), "bus: %s subscription failed", topic)
	}
	logrus.Infof("bus: %s subscribed", topic)

	return sub, nil
}

// Publish sends payload without retain. Delivery is best effort.
func (b *Bus) Publish(topic string, payload []byte) error {
	logrus.Debugf("bus: publish %s", topic)
	if token := b.client.Publish(topic, b.qos, false, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "bus: %s publish failed", topic)
	}

	return nil
}

// PublishRetained sends payload with the retain flag, for values a late
// subscriber must still see.
func (b *Bus) PublishRetained(topic string, payload []byte) error {
	if token := b.client.Publish(topic, b.qos, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "bus: %s retained publish failed", topic)
	}

	return nil
}

// Resubscribe restores broker subscriptions for every topic with handlers,
// e.g. after the client reconnected with a clean session.
func (b *Bus) Resubscribe() (err error) {
	b.sl.Lock()
	defer b.sl.Unlock()

	for _, topic := range b.topicNames() {
		if token := b.client.Subscribe(topic, b.qos, b.dispatch(topic)); token.Wait() && token.Error() != nil {
			err = multierr.Append(err, errors.Wrapf(token.Error(), "bus: %s resubscription failed", topic))
		}
	}

	return err
}

func (b *Bus) topicNames() []string {
	b.l.Lock()
	defer b.l.Unlock()

	topics := make([]string, 0, len(b.topics))
	for topic := range b.topics {
		topics = append(topics, topic)
	}

	return topics
}

func (b *Bus) handlers(topic string) int {
	b.l.Lock()
	defer b.l.Unlock()

	return len(b.topics[topic])
}

// Close drops every handler and broker subscription.
func (b *Bus) Close() (err error) {
	b.sl.Lock()
	defer b.sl.Unlock()

	b.l.Lock()
	topics := b.topics
	b.topics = map[string][]*Subscription{}
	b.l.Unlock()

	for topic := range topics {
		if token := b.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			err = multierr.Append(err, errors.Wrapf(token.Error(), "bus: %s unsubscribe failed", topic))
		}
	}

	return err
}

func (b *Bus) dispatch(topic string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		b.l.Lock()
		subs := append([]*Subscription(nil), b.topics[topic]...)
		b.l.Unlock()

		logrus.Tracef("bus: %s message for %d handlers", msg.Topic(), len(subs))
		for _, sub := range subs {
			sub.handler(msg.Topic(), msg.Payload())
		}
	}
}

// drop removes sub and reports whether its topic has no handlers left.
func (b *Bus) drop(sub *Subscription) (last bool, found bool) {
	b.l.Lock()
	defer b.l.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s != sub {
			continue
		}

		subs = append(subs[:i:i], subs[i+1:]...)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
			return true, true
		}
		b.topics[sub.topic] = subs
		return false, true
	}

	return false, false
}

func (b *Bus) remove(sub *Subscription) error {
	b.sl.Lock()
	defer b.sl.Unlock()

	last, found := b.drop(sub)
	if !found {
		return nil
	}
	if !last {
		logrus.Debugf("bus: %s handler removed", sub.topic)
		return nil
	}

	if token := b.client.Unsubscribe(sub.topic); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "bus: %s unsubscribe failed", sub.topic)
	}
	logrus.Infof("bus: %s unsubscribed", sub.topic)

	return nil
}
