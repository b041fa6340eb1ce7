// Package remote bridges pipeline triggers and run reports to an MQTT broker.
//
// Topics, under a configurable prefix:
//
//	<prefix>/trigger  (subscribed) payload "capture" or "test"
//	<prefix>/runs     (published)  one JSON report per run
package remote

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/logic/pipeline"
)

// Config holds the broker connection settings.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Triggerer starts runs. *pipeline.Worker implements it.
type Triggerer interface {
	Trigger(kind pipeline.Kind) bool
}

// Bridge subscribes to trigger messages and publishes run reports.
type Bridge struct {
	cfg    Config
	trig   Triggerer
	client mqtt.Client
}

func New(cfg Config, trig Triggerer) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "instantprint"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "instantprint"
	}
	return &Bridge{cfg: cfg, trig: trig}
}

func (b *Bridge) triggerTopic() string { return b.cfg.TopicPrefix + "/trigger" }
func (b *Bridge) runsTopic() string    { return b.cfg.TopicPrefix + "/runs" }

// Start connects to the broker. The subscription is renewed on every
// reconnect.
func (b *Bridge) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetUsername(b.cfg.Username)
	opts.SetPassword(b.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		debug.Info("MQTT: connected to %s", b.cfg.Broker)
		if tok := c.Subscribe(b.triggerTopic(), b.cfg.QoS, b.handleTrigger); tok.Wait() && tok.Error() != nil {
			debug.Error(fmt.Errorf("mqtt subscribe %s: %w", b.triggerTopic(), tok.Error()))
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		debug.Error(fmt.Errorf("mqtt connection lost: %w", err))
	}

	b.client = mqtt.NewClient(opts)
	if tok := b.client.Connect(); tok.Wait() && tok.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, tok.Error())
	}
	return nil
}

// Stop disconnects, waiting up to one second for pending work.
func (b *Bridge) Stop() {
	if b.client != nil {
		b.client.Disconnect(1000)
	}
}

func (b *Bridge) handleTrigger(_ mqtt.Client, msg mqtt.Message) {
	b.dispatch(msg.Payload())
}

// dispatch triggers the run named by payload. Anything else is ignored.
func (b *Bridge) dispatch(payload []byte) bool {
	kind, err := pipeline.ParseKind(strings.ToLower(strings.TrimSpace(string(payload))))
	if err != nil {
		debug.Verbose("MQTT: ignoring trigger payload %q", payload)
		return false
	}
	started := b.trig.Trigger(kind)
	debug.Live("MQTT: %s trigger (started=%v)", kind, started)
	return started
}

// Report publishes r without waiting for the broker.
func (b *Bridge) Report(r pipeline.Report) {
	if b.client == nil || !b.client.IsConnected() {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		debug.Error(fmt.Errorf("mqtt: marshal report: %w", err))
		return
	}
	tok := b.client.Publish(b.runsTopic(), b.cfg.QoS, false, body)
	go func() {
		if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
			debug.Error(fmt.Errorf("mqtt publish %s: %w", b.runsTopic(), tok.Error()))
		}
	}()
}
