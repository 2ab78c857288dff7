// Package telemetry publishes readings to an IoT hub over MQTT and receives
// device twin desired-property patches.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	DesiredPropertiesTopic = "$iothub/twin/PATCH/properties/desired/#"

	DefaultKeepAlive      = 20 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	subscribeTimeout      = 5 * time.Second

	subackFailure byte = 0x80
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")

	ErrSubscribeRejected = errors.New("mqtt subscription rejected by broker")
)

func TelemetryTopic(deviceID string) string {
	return fmt.Sprintf("devices/%s/messages/events/", deviceID)
}

func ReportedPropertiesTopic(rid int64) string {
	return fmt.Sprintf("$iothub/twin/PATCH/properties/reported/?$rid=%d", rid)
}

type Options struct {
	Broker         string
	DeviceID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

type Client struct {
	client   mqtt.Client
	opts     Options
	log      logrus.FieldLogger
	rid      atomic.Int64
	stopCh   chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	connected bool
	onDesired func([]byte)
	onStatus  func(connected bool, reason error)
}

func NewClient(opts Options, log logrus.FieldLogger) *Client {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	c := &Client{
		opts:   opts,
		log:    log.WithField("device_id", opts.DeviceID),
		stopCh: make(chan struct{}),
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(opts.Broker)
	mo.SetClientID(opts.DeviceID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetCleanSession(true)
	// Reconnects are paced by the caller's backoff period.
	mo.SetAutoReconnect(false)
	mo.SetConnectRetry(false)
	mo.SetKeepAlive(opts.KeepAlive)
	mo.SetPingTimeout(10 * time.Second)
	mo.SetConnectTimeout(opts.ConnectTimeout)

	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false, err)
		c.log.WithError(err).Warn("IoT hub connection lost")
	})

	c.client = mqtt.NewClient(mo)
	return c
}

// OnDesiredProperties registers the handler for twin desired-property
// patches. It runs on the MQTT client's goroutine.
func (c *Client) OnDesiredProperties(fn func(payload []byte)) {
	c.mu.Lock()
	c.onDesired = fn
	c.mu.Unlock()
}

// OnConnectionStatus registers a handler for connection state changes.
func (c *Client) OnConnectionStatus(fn func(connected bool, reason error)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Connect makes a single connection attempt, bounded by ctx and the
// configured connect timeout.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}

	if err := c.subscribeDesired(); err != nil {
		c.client.Disconnect(250)
		return err
	}
	c.setConnected(true, nil)
	c.log.WithField("broker", c.opts.Broker).Info("IoT hub connected")
	return nil
}

func (c *Client) subscribeDesired() error {
	token := c.client.Subscribe(DesiredPropertiesTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		c.mu.RLock()
		fn := c.onDesired
		c.mu.RUnlock()
		if fn != nil {
			fn(msg.Payload())
		}
	})
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe timeout for topic %s", DesiredPropertiesTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", DesiredPropertiesTopic, err)
	}
	if st, ok := token.(*mqtt.SubscribeToken); ok {
		if code, found := st.Result()[DesiredPropertiesTopic]; found && code == subackFailure {
			return fmt.Errorf("subscribe to %s: %w", DesiredPropertiesTopic, ErrSubscribeRejected)
		}
	}
	c.log.WithField("topic", DesiredPropertiesTopic).Info("subscribed to twin desired properties")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// SendTelemetry publishes a single key/value pair as a device-to-cloud message.
func (c *Client) SendTelemetry(key, value string) error {
	payload, err := telemetryPayload(key, value)
	if err != nil {
		return err
	}
	topic := TelemetryTopic(c.opts.DeviceID)
	c.log.WithField("topic", topic).Debugf("Sending IoT Hub Message: %s", payload)
	return c.publish(topic, payload)
}

// ReportBoolState patches a reported twin property.
func (c *Client) ReportBoolState(name string, value bool) error {
	payload, err := json.Marshal(map[string]bool{name: value})
	if err != nil {
		return err
	}
	topic := ReportedPropertiesTopic(c.rid.Add(1))
	if err := c.publish(topic, payload); err != nil {
		c.log.WithError(err).Errorf("failed to set reported state for '%s'", name)
		return err
	}
	c.log.Infof("Reported state for '%s' to value '%t'", name, value)
	return nil
}

func (c *Client) publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Disconnect is idempotent; Connect fails with ErrStopped afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
	c.setConnected(false, ErrStopped)
	c.log.Info("IoT hub disconnected")
}

func (c *Client) setConnected(v bool, reason error) {
	c.mu.Lock()
	changed := c.connected != v
	c.connected = v
	fn := c.onStatus
	c.mu.Unlock()
	if changed && fn != nil {
		fn(v, reason)
	}
}

func telemetryPayload(key, value string) ([]byte, error) {
	return json.Marshal(map[string]string{key: value})
}
