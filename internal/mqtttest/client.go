// Package mqtttest provides an in-memory mqtt.Client for tests.
package mqtttest

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Token is an mqtt.Token that tests complete by hand. NewToken returns one
// that is already complete.
type Token struct {
	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

func NewToken(err error) *Token {
	t := NewPendingToken()
	t.Complete(err)
	return t
}

// NewPendingToken returns a token that stays pending until Complete.
func NewPendingToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Complete settles the token with err. Later calls do nothing.
func (t *Token) Complete(err error) {
	t.once.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.done)
	})
}

func (t *Token) Wait() bool {
	<-t.done
	return true
}

func (t *Token) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *Token) Done() <-chan struct{} { return t.done }

func (t *Token) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Message is a received mqtt.Message.
type Message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *Message) Topic() string   { return m.topic }
func (m *Message) Payload() []byte { return m.payload }

// Published is one recorded Publish call.
type Published struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// Client records what is published and lets tests deliver messages to
// subscribers. Methods not listed here panic through the nil embedded
// interface.
type Client struct {
	mqtt.Client

	ConnectErr   error
	SubscribeErr error
	PublishErr   error
	// ConnectToken, when set, is returned by Connect instead of a
	// completed token.
	ConnectToken *Token

	mu           sync.Mutex
	connected    bool
	subs         map[string]mqtt.MessageHandler
	published    []Published
	unsubscribed []string
	disconnects  int
}

func NewClient() *Client {
	return &Client{subs: make(map[string]mqtt.MessageHandler)}
}

func (c *Client) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr == nil {
		c.connected = true
	}
	if c.ConnectToken != nil {
		return c.ConnectToken
	}
	return NewToken(c.ConnectErr)
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.disconnects++
	c.mu.Unlock()
}

func (c *Client) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr == nil {
		c.subs[topic] = cb
	}
	return NewToken(c.SubscribeErr)
}

func (c *Client) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
		c.unsubscribed = append(c.unsubscribed, t)
	}
	return NewToken(nil)
}

func (c *Client) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch p := payload.(type) {
	case []byte:
		b = p
	case string:
		b = []byte(p)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr == nil {
		c.published = append(c.published, Published{Topic: topic, Retained: retained, Payload: b})
	}
	return NewToken(c.PublishErr)
}

// Deliver hands payload to the subscriber of topic. It reports false when
// nothing is subscribed.
func (c *Client) Deliver(topic string, payload []byte) bool {
	c.mu.Lock()
	cb := c.subs[topic]
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(c, &Message{topic: topic, payload: payload})
	return true
}

func (c *Client) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

func (c *Client) Published() []Published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Published(nil), c.published...)
}

func (c *Client) Unsubscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.unsubscribed...)
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}
