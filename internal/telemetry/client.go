package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ride-hail-driver/internal/common/log"
	"ride-hail-driver/internal/general/config"
	"ride-hail-driver/internal/general/contracts"
)

// Client is a resilient RabbitMQ connector for the fleet telemetry
// backplane, with auto-reconnect and topology setup.
type Client struct {
	url    string
	logger *slog.Logger
	logCtx context.Context // detached from the caller's cancel

	// conn, pubChan and pubConfirms belong to the same AMQP session and are
	// swapped together on reconnect; readers must snapshot all three under mu
	mu          sync.RWMutex
	conn        *amqp.Connection
	pubChan     *amqp.Channel
	pubConfirms chan amqp.Confirmation

	pubMu sync.Mutex // serializes publishes so confirms pair one-to-one

	closed    chan struct{}
	reconnect chan struct{}
}

// Connect establishes the connection and starts a background watcher that
// reconnects on failures.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)

	client := &Client{
		url:       url,
		logger:    logger,
		logCtx:    context.WithoutCancel(ctx),
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}

	if err := client.connectOnce(); err != nil {
		return nil, err
	}

	go client.watch()

	return client, nil
}

// Close stops the watcher and closes AMQP resources.
func (client *Client) Close() {
	select {
	case <-client.closed:
	default:
		close(client.closed)
	}

	client.mu.Lock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
		client.pubChan = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()
}

// connectOnce dials, opens the publisher channel, declares topology and
// enables confirms.
func (client *Client) connectOnce() error {
	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("telemetry dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("telemetry open channel: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("telemetry declare topology: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("telemetry enable confirms: %w", err)
	}

	// the library closes the previous confirms channel with its amqp channel
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	client.mu.Lock()
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch
	client.pubConfirms = confirms
	client.mu.Unlock()

	// either the connection or the channel closing triggers a reconnect
	go func(conn *amqp.Connection, ch *amqp.Channel) {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-client.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}
		select {
		case client.reconnect <- struct{}{}:
		default:
		}
	}(conn, ch)

	log.Info(client.logCtx, client.logger, "telemetry_connected", "Telemetry backplane connected")

	return nil
}

// watch reconnects with exponential backoff after a drop.
func (client *Client) watch() {
	for {
		select {
		case <-client.closed:
			return
		case <-client.reconnect:
			backoff := time.Second
			for {
				select {
				case <-client.closed:
					return
				default:
				}

				if err := client.connectOnce(); err == nil {
					break
				}

				log.Info(client.logCtx, client.logger, "telemetry_reconnecting", "Telemetry reconnect failed; backing off",
					"backoff", backoff.String())
				select {
				case <-client.closed:
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		}
	}
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(contracts.ExchangeDriverTopic, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return ch.ExchangeDeclare(contracts.ExchangeLocationFanout, "fanout", true, false, false, false, nil)
}

// PublishMessage publishes a persistent JSON message and waits for the
// broker confirm within a bounded window.
func (client *Client) PublishMessage(exchange, routingKey string, body []byte) error {
	client.pubMu.Lock()
	defer client.pubMu.Unlock()

	client.mu.RLock()
	conn := client.conn
	ch := client.pubChan
	confirms := client.pubConfirms
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("telemetry: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("telemetry: publish channel is not open")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	); err != nil {
		return err
	}

	select {
	case c := <-confirms:
		if !c.Ack {
			return errors.New("telemetry: publish not acknowledged")
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
