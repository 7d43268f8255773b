package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/config"
	"github.com/DaniloDobras/ois/logger"
)

// Client is the message bus client, backed by Kafka or MQTT. One long-lived
// connection is shared by every publisher in the process.
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	backend  string
	log      *zap.Logger
	kafkaW   *kafka.Writer
	mqttConn mqtt.Client
	// degraded is set after a failed Kafka write and cleared by the next
	// success; kafka-go reconnects on its own, so this only feeds health.
	degraded bool
}

func NewClient(cfg *config.MessagingConfig, log *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		backend: cfg.Backend,
		log:     logger.OrNop(log),
	}
}

func (c *Client) Backend() string { return c.backend }

// Connect establishes the connection. Call it once at startup; Publish
// reconnects lazily if the connection is missing later on.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	switch c.backend {
	case "kafka":
		return c.connectKafka(ctx)
	case "mqtt":
		return c.connectMQTT()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.backend)
	}
}

func (c *Client) connectKafka(ctx context.Context) error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// Verify at least one broker is reachable
	var conn *kafka.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, connErr = kafka.DialContext(dialCtx, "tcp", broker)
		cancel()
		if connErr == nil {
			c.log.Info("kafka connected", zap.String("broker", broker))
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}
	if c.cfg.EnsureTopics {
		c.ensureTopics(conn, c.cfg.OrderEventsTopic)
	}
	conn.Close()

	c.kafkaW = &kafka.Writer{
		Addr:     kafka.TCP(c.cfg.Kafka.Brokers...),
		Balancer: &kafka.Hash{},
		// every in-sync replica must have the record before the ack
		RequiredAcks:           kafka.RequireAll,
		Async:                  false,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           c.cfg.PublishTimeout,
		MaxAttempts:            3,
		AllowAutoTopicCreation: true,
		Transport: &kafka.Transport{
			ClientID: c.cfg.Kafka.ClientID,
		},
	}
	c.degraded = false
	return nil
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectTimeout(c.cfg.PublishTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.log.Info("mqtt connected", zap.String("broker", broker))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.cfg.PublishTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", c.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	c.mqttConn = client
	return nil
}

// ensureTopics creates Kafka topics if they don't already exist.
// Errors are logged but not fatal since the broker may have
// auto.create.topics.enable=true anyway.
func (c *Client) ensureTopics(conn *kafka.Conn, topics ...string) {
	controller, err := conn.Controller()
	if err != nil {
		c.log.Warn("cannot find controller for topic creation", zap.Error(err))
		return
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.Dial("tcp", controllerAddr)
	if err != nil {
		c.log.Warn("cannot connect to controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, t := range topics {
		configs[i] = kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	if err := controllerConn.CreateTopics(configs...); err != nil {
		c.log.Warn("topic auto-create", zap.Error(err))
		return
	}
	c.log.Info("ensured topics exist", zap.Strings("topics", topics))
}

// Publish delivers msg and waits for the broker ack, bounded by the
// configured publish timeout. A timeout counts as a failure.
func (c *Client) Publish(ctx context.Context, msg Message) error {
	if err := c.ensureConnected(ctx); err != nil {
		return &PublishError{Backend: c.backend, Topic: msg.Topic, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()

	c.mu.RLock()
	w, conn := c.kafkaW, c.mqttConn
	c.mu.RUnlock()

	var err error
	switch c.backend {
	case "kafka":
		err = w.WriteMessages(ctx, kafka.Message{
			Topic:   msg.Topic,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: kafkaHeaders(msg.Headers),
		})
		c.mu.Lock()
		c.degraded = err != nil
		c.mu.Unlock()
	case "mqtt":
		err = publishMQTT(ctx, conn, msg)
	}
	if err != nil {
		return &PublishError{
			Backend: c.backend,
			Topic:   msg.Topic,
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errAckTimeout),
			Err:     err,
		}
	}
	return nil
}

var errAckTimeout = errors.New("ack wait timed out")

// publishMQTT sends at QoS 1; the token completes on PUBACK. MQTT 3.1.1 has
// no record keys or headers, so both are dropped.
func publishMQTT(ctx context.Context, conn mqtt.Client, msg Message) error {
	token := conn.Publish(msg.Topic, 1, false, msg.Value)
	wait := time.Until(deadline(ctx))
	if !token.WaitTimeout(wait) {
		return errAckTimeout
	}
	return token.Error()
}

func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(10 * time.Second)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.RLock()
	ready := c.kafkaW != nil || c.mqttConn != nil
	c.mu.RUnlock()
	if ready {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kafkaW != nil || c.mqttConn != nil {
		return nil
	}
	if err := c.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	c.log.Info("messaging reconnected", zap.String("backend", c.backend))
	return nil
}

// IsConnected reports whether the last known state of the connection is good.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.kafkaW != nil:
		return !c.degraded
	case c.mqttConn != nil:
		return c.mqttConn.IsConnectionOpen()
	}
	return false
}

// Close flushes pending writes and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.kafkaW != nil {
		err = c.kafkaW.Close()
		c.kafkaW = nil
	}
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(250)
		c.mqttConn = nil
	}
	return err
}

// kafkaHeaders converts headers in key order so identical messages encode
// identically.
func kafkaHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return out
}
