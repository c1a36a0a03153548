package hub

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/EternisAI/silo-device/internal/connstr"
)

const (
	DefaultPort = 8883

	defaultKeepAlive      = 60 * time.Second
	defaultConnectTimeout = 30 * time.Second
	defaultPublishTimeout = 10 * time.Second
	defaultMethodTimeout  = 30 * time.Second
	disconnectQuiesce     = 250
)

var (
	ErrNotConnected = errors.New("hub client is not connected")
	ErrTimeout      = errors.New("hub operation timed out")
)

type Config struct {
	Port           int           `mapstructure:"port"`
	CAFile         string        `mapstructure:"ca_file"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	MethodTimeout  time.Duration `mapstructure:"method_timeout"`
}

func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = defaultKeepAlive
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}
	if c.MethodTimeout <= 0 {
		c.MethodTimeout = defaultMethodTimeout
	}
	return c
}

// IdentitySource hands out hub credentials. Each call may provision the
// device again and sign a new token.
type IdentitySource interface {
	Identity(ctx context.Context) (connstr.Identity, error)
}

// DesiredHandler receives desired property patches and twin documents.
type DesiredHandler func(payload []byte)

type Option func(*Client)

func WithTLSConfig(config *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = config }
}

func WithMethods(methods *MethodRegistry) Option {
	return func(c *Client) { c.methods = methods }
}

func WithDesiredHandler(handler DesiredHandler) Option {
	return func(c *Client) { c.onDesired = handler }
}

func withClientFactory(factory func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(c *Client) { c.newClient = factory }
}

// Client is the device side MQTT connection to the hub. Automatic reconnect
// is disabled because the password is a SAS token that expires; callers
// invoke EnsureConnected periodically to reconnect with fresh credentials.
type Client struct {
	cfg        Config
	identities IdentitySource
	methods    *MethodRegistry
	tlsConfig  *tls.Config
	onDesired  DesiredHandler
	newClient  func(*mqtt.ClientOptions) mqtt.Client

	// connectMu serializes EnsureConnected. mu guards conn and identity and
	// is never held while an identity is being obtained.
	connectMu sync.Mutex
	mu        sync.RWMutex
	conn      mqtt.Client
	identity  connstr.Identity
}

func NewClient(cfg Config, identities IdentitySource, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg.WithDefaults(),
		identities: identities,
		newClient:  mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.methods == nil {
		c.methods = NewMethodRegistry()
	}
	if c.tlsConfig == nil {
		c.tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return c
}

func (c *Client) Methods() *MethodRegistry {
	return c.methods
}

func (c *Client) MethodNames() []string {
	return c.methods.Names()
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnectionOpen()
}

func (c *Client) HostName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity.HostName
}

// EnsureConnected returns immediately when the connection is open. Otherwise
// it obtains a fresh identity, connects, subscribes and requests the twin.
func (c *Client) EnsureConnected(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.conn != nil && c.conn.IsConnectionOpen() {
		c.mu.Unlock()
		return nil
	}
	stale := c.conn
	c.conn = nil
	c.mu.Unlock()
	if stale != nil {
		stale.Disconnect(0)
	}

	id, err := c.identities.Identity(ctx)
	if err != nil {
		return fmt.Errorf("failed to get hub identity: %w", err)
	}

	broker := fmt.Sprintf("ssl://%s:%d", id.HostName, c.cfg.Port)
	tlsConfig := c.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = id.HostName
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(id.DeviceID).
		SetUsername(id.Username).
		SetPassword(id.Password).
		SetTLSConfig(tlsConfig).
		SetProtocolVersion(4).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetDefaultPublishHandler(c.handleMessage).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			slog.Warn("Hub connection lost", "host", id.HostName, "error", err)
		})

	slog.Info("Connecting to hub", "broker", broker, "device_id", id.DeviceID)
	conn := c.newClient(opts)
	if err := waitToken(ctx, conn.Connect(), c.cfg.ConnectTimeout); err != nil {
		// The connect may still complete in the background.
		conn.Disconnect(0)
		return fmt.Errorf("failed to connect to hub %s: %w", id.HostName, err)
	}

	filters := make(map[string]byte)
	for _, topic := range subscriptions(id.DeviceID) {
		filters[topic] = 0
	}
	if err := waitToken(ctx, conn.SubscribeMultiple(filters, c.handleMessage), c.cfg.PublishTimeout); err != nil {
		conn.Disconnect(disconnectQuiesce)
		return fmt.Errorf("failed to subscribe to hub topics: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.identity = id
	slog.Info("Connected to hub", "host", id.HostName, "device_id", id.DeviceID)

	if err := c.publishLocked(fmt.Sprintf(twinGetTopicFmt, uuid.NewString()), nil); err != nil {
		slog.Error("Failed to request device twin", "error", err)
	}
	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	c.conn.Disconnect(disconnectQuiesce)
	c.conn = nil
	slog.Info("Disconnected from hub")
}

// SendMeasurement publishes {"<name>": value} as a device to cloud message.
func (c *Client) SendMeasurement(name string, value float64) error {
	payload, err := json.Marshal(map[string]float64{name: value})
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.publishLocked(fmt.Sprintf(eventsTopicFmt, c.identity.DeviceID), payload)
}

// SendProperty reports {"<name>": value} to the twin. It returns the request
// id the hub echoes in its twin response.
func (c *Client) SendProperty(name, value string) (string, error) {
	payload, err := json.Marshal(map[string]string{name: value})
	if err != nil {
		return "", fmt.Errorf("failed to marshal property: %w", err)
	}

	rid := uuid.NewString()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.publishLocked(fmt.Sprintf(reportedTopicFmt, rid), payload); err != nil {
		return "", err
	}
	return rid, nil
}

// RequestTwin asks the hub for the full twin document. It returns the
// request id.
func (c *Client) RequestTwin() (string, error) {
	rid := uuid.NewString()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.publishLocked(fmt.Sprintf(twinGetTopicFmt, rid), nil); err != nil {
		return "", err
	}
	return rid, nil
}

// publishLocked requires c.mu to be held.
func (c *Client) publishLocked(topic string, payload []byte) error {
	if c.conn == nil || !c.conn.IsConnectionOpen() {
		return ErrNotConnected
	}

	slog.Debug("Publishing to hub", "topic", topic, "payload", string(payload))
	token := c.conn.Publish(topic, 0, false, payload)
	if err := waitToken(context.Background(), token, c.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	slog.Debug("Hub message received", "topic", topic, "size", len(msg.Payload()))

	if name, rid, ok := parseMethodTopic(topic); ok {
		c.handleMethod(client, name, rid, msg.Payload())
		return
	}

	if status, rid, ok := parseTwinResponseTopic(topic); ok {
		slog.Info("Twin response", "status", status, "rid", rid)
		if status == "200" && len(msg.Payload()) > 0 && c.onDesired != nil {
			c.onDesired(msg.Payload())
		}
		return
	}

	if _, _, ok := splitTopic(topic, desiredPatchPrefix); ok {
		slog.Info("Desired properties updated", "payload", string(msg.Payload()))
		if c.onDesired != nil {
			c.onDesired(msg.Payload())
		}
		return
	}

	slog.Info("Unhandled hub message", "topic", topic, "payload", string(msg.Payload()))
}

func (c *Client) handleMethod(client mqtt.Client, name, rid string, payload []byte) {
	slog.Info("Direct method received", "method", name, "rid", rid)

	status, response := c.Invoke(name, payload)
	topic := fmt.Sprintf(methodResponseTopicFmt, status, rid)

	token := client.Publish(topic, 0, false, response)
	if err := waitToken(context.Background(), token, c.cfg.PublishTimeout); err != nil {
		slog.Error("Failed to send direct method response", "method", name, "rid", rid, "error", err)
	}
}

// Invoke runs a registered direct method and returns the status code and
// payload sent back to the hub.
func (c *Client) Invoke(name string, payload []byte) (int, []byte) {
	handler, err := c.methods.Lookup(name)
	if err != nil {
		slog.Warn("Direct method not registered", "method", name)
		return http.StatusNotFound, errorPayload(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.MethodTimeout)
	defer cancel()

	response, err := handler(ctx, payload)
	if err != nil {
		slog.Error("Direct method failed", "method", name, "error", err)
		return http.StatusInternalServerError, errorPayload(err)
	}
	if len(response) == 0 {
		response = []byte("{}")
	}
	return http.StatusOK, response
}

func errorPayload(err error) []byte {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	return payload
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
