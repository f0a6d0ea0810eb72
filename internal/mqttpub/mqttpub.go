// Package mqttpub publishes decoded transaction lines to an MQTT broker.
package mqttpub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	mqtt "github.com/soypat/natiu-mqtt"
	"github.com/soypat/spiwave/internal/slog"
)

var errClosed = errors.New("mqttpub: publisher closed")

type Config struct {
	Topic    string
	ClientID string
	// Timeout bounds every network exchange with the broker.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Publisher sends QoS0 messages over a single connection.
type Publisher struct {
	conn    net.Conn
	client  *mqtt.Client
	vars    mqtt.VariablesPublish
	timeout time.Duration
	log     *slog.Logger
}

// Dial connects to the broker at addr and performs the MQTT CONNECT exchange.
func Dial(ctx context.Context, addr string, cfg Config) (*Publisher, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mqttpub: dial %s: %w", addr, err)
	}
	p, err := New(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// New performs the MQTT CONNECT exchange over an established connection.
func New(conn net.Conn, cfg Config) (*Publisher, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqttpub: empty topic")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := &Publisher{
		conn:    conn,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		vars:    mqtt.VariablesPublish{TopicName: []byte(cfg.Topic)},
	}
	p.client = mqtt.NewClient(mqtt.ClientConfig{
		Decoder: mqtt.DecoderNoAlloc{UserBuffer: make([]byte, 1024)},
		OnPub: func(_ mqtt.Header, varPub mqtt.VariablesPublish, r io.Reader) error {
			p.debug("mqtt:ignored-publish", slog.String("topic", string(varPub.TopicName)))
			return nil
		},
	})
	var varconn mqtt.VariablesConnect
	varconn.SetDefaultMQTT([]byte(cfg.ClientID))
	conn.SetDeadline(time.Now().Add(p.timeout))
	if err := p.client.StartConnect(conn, &varconn); err != nil {
		return nil, fmt.Errorf("mqttpub: connect: %w", err)
	}
	for !p.client.IsConnected() {
		if err := p.client.HandleNext(); err != nil {
			return nil, fmt.Errorf("mqttpub: awaiting CONNACK: %w", err)
		}
	}
	p.debug("mqtt:connected", slog.String("topic", cfg.Topic))
	return p, nil
}

// Publish sends payload as a single message to the configured topic.
func (p *Publisher) Publish(payload []byte) error {
	if p.client == nil {
		return errClosed
	}
	flags, err := mqtt.NewPublishFlags(mqtt.QoS0, false, false)
	if err != nil {
		return err
	}
	p.conn.SetDeadline(time.Now().Add(p.timeout))
	p.vars.PacketIdentifier++
	if err = p.client.PublishPayload(flags, p.vars, payload); err != nil {
		return fmt.Errorf("mqttpub: publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker and closes the connection.
func (p *Publisher) Close() error {
	if p.client == nil {
		return errClosed
	}
	p.conn.SetDeadline(time.Now().Add(p.timeout))
	p.client.Disconnect(errClosed)
	p.client = nil
	if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (p *Publisher) debug(msg string, attrs ...any) {
	if p.log != nil {
		p.log.Debug(msg, attrs...)
	}
}
