// Package bustest provides an in-memory stand-in for the MQTT client.
package bustest

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type Message struct {
	paho.Message

	topic    string
	payload  []byte
	retained bool
}

func (m *Message) Topic() string { return m.topic }
func (m *Message) Payload() []byte { return m.payload }
func (m *Message) Retained() bool { return m.retained }

type Token struct {
	paho.Token

	err error
}

func (t *Token) Wait() bool { return true }
func (t *Token) WaitTimeout(time.Duration) bool { return true }
func (t *Token) Error() error { return t.err }

func (t *Token) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

// Client records publications and subscriptions and delivers messages
// synchronously to the subscribed handlers.
type Client struct {
	paho.Client

	SubscribeErr   error
	UnsubscribeErr error
	PublishErr     error

	// SubscribeHook, when set, runs before every subscription and may fail it.
	SubscribeHook func(topic string) error

	l            sync.Mutex
	handlers     map[string]paho.MessageHandler
	published    []*Message
	subscribes   []string
	unsubscribes []string
}

func NewClient() *Client {
	return &Client{handlers: map[string]paho.MessageHandler{}}
}

func (c *Client) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	if c.SubscribeHook != nil {
		if err := c.SubscribeHook(topic); err != nil {
			return &Token{err: err}
		}
	}

	c.l.Lock()
	defer c.l.Unlock()

	if c.SubscribeErr != nil {
		return &Token{err: c.SubscribeErr}
	}
	c.subscribes = append(c.subscribes, topic)
	c.handlers[topic] = callback

	return &Token{}
}

func (c *Client) Unsubscribe(topics ...string) paho.Token {
	c.l.Lock()
	defer c.l.Unlock()

	if c.UnsubscribeErr != nil {
		return &Token{err: c.UnsubscribeErr}
	}
	for _, topic := range topics {
		c.unsubscribes = append(c.unsubscribes, topic)
		delete(c.handlers, topic)
	}

	return &Token{}
}

func (c *Client) Publish(topic string, _ byte, retained bool, payload interface{}) paho.Token {
	c.l.Lock()
	defer c.l.Unlock()

	if c.PublishErr != nil {
		return &Token{err: c.PublishErr}
	}

	var body []byte
	switch p := payload.(type) {
	case []byte:
		body = p
	case string:
		body = []byte(p)
	default:
		body = []byte(fmt.Sprint(p))
	}
	c.published = append(c.published, &Message{topic: topic, payload: body, retained: retained})

	return &Token{}
}

// Deliver hands payload to the handler subscribed on topic. It reports
// whether such a handler exists.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.l.Lock()
	h, ok := c.handlers[topic]
	c.l.Unlock()

	if !ok {
		return false
	}
	h(c, &Message{topic: topic, payload: payload})

	return true
}

func (c *Client) Published() []*Message {
	c.l.Lock()
	defer c.l.Unlock()

	return append([]*Message(nil), c.published...)
}

// Last returns the payload last published on topic.
func (c *Client) Last(topic string) (string, bool) {
	c.l.Lock()
	defer c.l.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].topic == topic {
			return string(c.published[i].payload), true
		}
	}

	return "", false
}

func (c *Client) Subscribes() []string {
	c.l.Lock()
	defer c.l.Unlock()

	return append([]string(nil), c.subscribes...)
}

func (c *Client) Unsubscribes() []string {
	c.l.Lock()
	defer c.l.Unlock()

	return append([]string(nil), c.unsubscribes...)
}
