// Package publisher emits scan lifecycle events to RabbitMQ as CloudEvents.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/henno/go-topology/internal/session"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeScanStarted      = "netmap.scan.started"
	TypeDeviceDiscovered = "netmap.device.discovered"
	TypeScanFinished     = "netmap.scan.finished"
)

const (
	eventSource    = "/netmap/scanner"
	queueSize      = 256
	publishTimeout = 5 * time.Second
)

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends CloudEvents to RabbitMQ. It implements session.Observer;
// events are queued and published from a single goroutine so observer
// callbacks never wait on the broker.
type Publisher struct {
	conn     *amqp.Connection
	channel  channel
	exchange string
	logger   *zap.SugaredLogger

	queue     chan outgoing
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

type outgoing struct {
	event      CloudEvent
	routingKey string
}

// CloudEvent is a CloudEvents 1.0 envelope.
type CloudEvent struct {
	SpecVersion     string `json:"specversion"`
	Type            string `json:"type"`
	Source          string `json:"source"`
	ID              string `json:"id"`
	Subject         string `json:"subject,omitempty"`
	Time            string `json:"time"`
	DataContentType string `json:"datacontenttype"`
	Data            any    `json:"data"`
}

// ScanEventData is the payload of scan started and finished events.
type ScanEventData struct {
	ScanID          string         `json:"scan_id"`
	Network         string         `json:"network"`
	CoreSwitch      string         `json:"core_switch"`
	Status          session.Status `json:"status"`
	DiscoveredCount int            `json:"discovered_count"`
	Error           string         `json:"error,omitempty"`
}

// DeviceEventData is the payload of device discovered events.
type DeviceEventData struct {
	ScanID    string `json:"scan_id"`
	IPAddress string `json:"ip_address"`
	Hostname  string `json:"hostname"`
	Type      string `json:"type"`
	Vendor    string `json:"vendor"`
}

// New creates a new Publisher connected to RabbitMQ and declares exchange
// as a durable topic exchange.
func New(url, exchange string, logger *zap.SugaredLogger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	p := newPublisher(ch, exchange, logger)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string, logger *zap.SugaredLogger) *Publisher {
	p := &Publisher{
		channel:  ch,
		exchange: exchange,
		logger:   logger,
		queue:    make(chan outgoing, queueSize),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

// Close flushes queued events and closes the RabbitMQ connection.
func (p *Publisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
		<-p.done

		_ = p.channel.Close()
		if p.conn != nil {
			err = p.conn.Close()
		}
	})
	return err
}

// ScanStarted implements session.Observer.
func (p *Publisher) ScanStarted(snap session.Snapshot) {
	p.enqueue(p.createEvent(TypeScanStarted, snap.ID, scanData(snap)), "scan.started")
}

// DeviceDiscovered implements session.Observer.
func (p *Publisher) DeviceDiscovered(scanID string, device session.Device) {
	p.enqueue(p.createEvent(TypeDeviceDiscovered, scanID, DeviceEventData{
		ScanID:    scanID,
		IPAddress: device.IPAddress,
		Hostname:  device.Hostname,
		Type:      device.Type,
		Vendor:    device.Vendor,
	}), "device.discovered")
}

// ScanFinished implements session.Observer.
func (p *Publisher) ScanFinished(snap session.Snapshot) {
	p.enqueue(p.createEvent(TypeScanFinished, snap.ID, scanData(snap)), "scan.finished")
}

func scanData(snap session.Snapshot) ScanEventData {
	return ScanEventData{
		ScanID:          snap.ID,
		Network:         snap.Network,
		CoreSwitch:      snap.CoreSwitch,
		Status:          snap.Status,
		DiscoveredCount: snap.DiscoveredCount,
		Error:           snap.Error,
	}
}

func (p *Publisher) createEvent(eventType, subject string, data any) CloudEvent {
	return CloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          eventSource,
		ID:              uuid.New().String(),
		Subject:         subject,
		Time:            time.Now().UTC().Format(time.RFC3339),
		DataContentType: "application/json",
		Data:            data,
	}
}

func (p *Publisher) enqueue(event CloudEvent, routingKey string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- outgoing{event: event, routingKey: routingKey}:
	default:
		p.logger.Warnw("Event queue full, dropping event", "type", event.Type, "id", event.ID)
	}
}

func (p *Publisher) loop() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.publish(msg.event, msg.routingKey); err != nil {
			p.logger.Warnw("Failed to publish event", "type", msg.event.Type, "error", err)
		}
	}
}

func (p *Publisher) publish(event CloudEvent, routingKey string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/cloudevents+json",
			Body:        body,
			MessageId:   event.ID,
			Timestamp:   time.Now(),
		},
	)

	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debugw("Event published",
		"type", event.Type,
		"id", event.ID,
		"routing_key", routingKey,
	)

	return nil
}
