package target

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/noahxzhu/alarm-notify/internal/logx"
	"github.com/noahxzhu/alarm-notify/internal/playback"
)

// MessageHandler handles one inbound MQTT message.
type MessageHandler func(topic string, payload []byte) error

type MQTTOptions struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// MQTTClient is a thin wrapper over the paho client.
type MQTTClient struct {
	client mqtt.Client
	log    logx.Logger
}

func DialMQTT(opts MQTTOptions, log logx.Logger) (*MQTTClient, error) {
	co := mqtt.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetCleanSession(true)
	co.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(co)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTTClient{client: client, log: log.With(logx.String("component", "mqtt"))}, nil
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log.Warn("mqtt message rejected", logx.String("topic", msg.Topic()), logx.Err(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}
	return nil
}

const publishTimeout = 10 * time.Second

// Publish waits for the broker acknowledgement until ctx is done or
// publishTimeout passes, whichever comes first.
func (c *MQTTClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
}

// Publisher is the outbound half of an MQTT client.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Satellites drives voice satellites over MQTT. Each satellite listens on
// <prefix>/<name>/announce and <prefix>/<name>/play and reports its state on
// <prefix>/<name>/state.
type Satellites struct {
	pub    Publisher
	prefix string
	qos    byte
	log    logx.Logger

	mu     sync.RWMutex
	states map[string]string
}

func NewSatellites(pub Publisher, prefix string, qos byte, log logx.Logger) *Satellites {
	return &Satellites{
		pub:    pub,
		prefix: strings.Trim(prefix, "/"),
		qos:    qos,
		log:    log.With(logx.String("component", "target.satellites")),
		states: map[string]string{},
	}
}

// StateTopic is the wildcard subscription for HandleState.
func (s *Satellites) StateTopic() string { return s.prefix + "/+/state" }

// HandleState records a state report. The payload is either a bare state
// ("idle") or a JSON object with a "state" field.
func (s *Satellites) HandleState(topic string, payload []byte) error {
	parts := strings.Split(strings.TrimPrefix(topic, s.prefix+"/"), "/")
	if len(parts) != 2 || parts[1] != "state" || parts[0] == "" {
		return fmt.Errorf("unexpected state topic %q", topic)
	}
	state := strings.TrimSpace(string(payload))
	if strings.HasPrefix(state, "{") {
		var msg struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		state = msg.State
	}
	s.mu.Lock()
	s.states[parts[0]] = strings.ToLower(strings.TrimSpace(state))
	s.mu.Unlock()
	return nil
}

var satelliteBusy = map[string]bool{
	"busy":       true,
	"listening":  true,
	"processing": true,
	"responding": true,
	"speaking":   true,
	"playing":    true,
}

// IsIdle is true unless the last reported state is a busy one.
func (s *Satellites) IsIdle(_ context.Context, ep playback.Endpoint) bool {
	s.mu.RLock()
	state := s.states[ep.Ref]
	s.mu.RUnlock()
	return !satelliteBusy[state]
}

func (s *Satellites) Announce(ctx context.Context, ep playback.Endpoint, text string) error {
	return s.send(ctx, ep, "announce", map[string]string{"text": text})
}

func (s *Satellites) PlaySound(ctx context.Context, ep playback.Endpoint, sound string) error {
	return s.send(ctx, ep, "play", map[string]string{"sound": sound})
}

func (s *Satellites) send(ctx context.Context, ep playback.Endpoint, action string, body any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	topic := s.prefix + "/" + ep.Ref + "/" + action
	if err := s.pub.Publish(ctx, topic, s.qos, false, payload); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", playback.ErrAdapter, err)
	}
	s.log.Debug("published", logx.String("topic", topic))
	return nil
}
