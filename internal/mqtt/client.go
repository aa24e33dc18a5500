// Package mqtt keeps the player connected to the command broker. Operators
// publish to tv/<device_code>/commands; the player publishes its retained
// status to tv/<device_code>/status.
package mqtt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/model"
)

const (
	CommandSync   = "sync"
	CommandDrain  = "drain"
	CommandReload = "reload"
	CommandReset  = "reset"
)

var ErrUnknownCommand = errors.New("mqtt: unknown command")

// Reporter receives broker reachability as a connectivity signal.
type Reporter interface {
	Report(online bool, source string)
}

// Actions are what remote commands can trigger.
type Actions struct {
	Sync   func()
	Drain  func()
	Reload func()
	Reset  func(ctx context.Context) error
}

type Client struct {
	broker     string
	deviceCode func() string
	reporter   Reporter
	actions    Actions

	mu     sync.Mutex
	client mqtt.Client
	code   string
}

func New(broker string, deviceCode func() string, reporter Reporter, actions Actions) *Client {
	return &Client{broker: broker, deviceCode: deviceCode, reporter: reporter, actions: actions}
}

func commandTopic(code string) string { return fmt.Sprintf("tv/%s/commands", code) }
func statusTopic(code string) string  { return fmt.Sprintf("tv/%s/status", code) }

// Serve connects once a device code is known and stays connected until ctx is
// done. It returns early when the device code changes so the supervisor
// reconnects with the new identity.
func (c *Client) Serve(ctx context.Context) error {
	code, err := c.waitForCode(ctx)
	if err != nil {
		return err
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID("player-" + code)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(false)
	opts.SetWill(statusTopic(code), `{"online":false}`, 1, true)
	opts.OnConnect = func(cl mqtt.Client) {
		topic := commandTopic(code)
		if token := cl.Subscribe(topic, 1, c.onMessage); token.Wait() && token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("Failed to subscribe to topic")
		}
		log.Info().Str("device_code", code).Msg("Connected to MQTT broker")
		if c.reporter != nil {
			c.reporter.Report(true, "mqtt")
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
		if c.reporter != nil {
			c.reporter.Report(false, "mqtt")
		}
	}

	cl := mqtt.NewClient(opts)
	// with ConnectRetry the token only completes once connected or disconnected
	cl.Connect()

	c.mu.Lock()
	c.client = cl
	c.code = code
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()
		cl.Disconnect(250)
		log.Info().Str("device_code", code).Msg("MQTT client disconnected")
	}()

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if c.deviceCode() != code {
				return nil
			}
		}
	}
}

func (c *Client) waitForCode(ctx context.Context) (string, error) {
	if code := c.deviceCode(); code != "" {
		return code, nil
	}
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
			if code := c.deviceCode(); code != "" {
				return code, nil
			}
		}
	}
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := ParseCommand(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("ignoring command")
		return
	}
	if err := c.Dispatch(context.Background(), cmd); err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("command failed")
	}
}

// ParseCommand accepts {"command":"sync"} or a bare command name.
func ParseCommand(payload []byte) (string, error) {
	payload = bytes.TrimSpace(payload)
	cmd := string(payload)
	if len(payload) > 0 && payload[0] == '{' {
		var body struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(payload, &body); err != nil {
			return "", fmt.Errorf("decode command: %w", err)
		}
		cmd = body.Command
	}
	cmd = strings.ToLower(strings.TrimSpace(cmd))
	switch cmd {
	case CommandSync, CommandDrain, CommandReload, CommandReset:
		return cmd, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func (c *Client) Dispatch(ctx context.Context, cmd string) error {
	log.Info().Str("command", cmd).Msg("command received")
	var fn func()
	switch cmd {
	case CommandSync:
		fn = c.actions.Sync
	case CommandDrain:
		fn = c.actions.Drain
	case CommandReload:
		fn = c.actions.Reload
	case CommandReset:
		if c.actions.Reset == nil {
			return nil
		}
		return c.actions.Reset(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if fn != nil {
		fn()
	}
	return nil
}

// PublishStatus sends st as the retained status message. It is a no-op while
// disconnected.
func (c *Client) PublishStatus(st model.DeviceState) {
	c.mu.Lock()
	cl, code := c.client, c.code
	c.mu.Unlock()
	if cl == nil || !cl.IsConnectionOpen() {
		return
	}
	data, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode status")
		return
	}
	token := cl.Publish(statusTopic(code), 1, true, data)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Msg("failed to publish status")
		}
	}()
}

func (c *Client) String() string { return "mqtt-client" }
