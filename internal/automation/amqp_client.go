package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const DefaultExchange = "leadsync.workflows"

// ErrNacked means the broker refused a trigger message.
var ErrNacked = errors.New("broker did not confirm trigger")

type EnvelopeMeta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlationId"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

// Envelope is the message body published for one trigger.
type Envelope struct {
	Meta       EnvelopeMeta   `json:"meta"`
	WorkflowID string         `json:"workflowId"`
	Payload    map[string]any `json:"payload"`
}

type dialFunc func(url string) (*amqp091.Connection, error)

// AMQPClient publishes triggers to a topic exchange, one routing key per
// workflow. The connection is opened on first use and reopened after it drops.
type AMQPClient struct {
	url      string
	exchange string
	log      zerolog.Logger
	dial     dialFunc

	mu   sync.Mutex
	conn *amqp091.Connection
}

func NewAMQPClient(url, exchange string, opts Options) *AMQPClient {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &AMQPClient{
		url:      strings.TrimSpace(url),
		exchange: exchange,
		log:      opts.logger("amqp_automation"),
		dial:     amqp091.Dial,
	}
}

func (c *AMQPClient) Configured() bool {
	return !isPlaceholderURL(c.url)
}

func (c *AMQPClient) connection() (*amqp091.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

func (c *AMQPClient) Trigger(ctx context.Context, workflowID string, payload map[string]any) (leadsync.TriggerResult, error) {
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		return leadsync.TriggerResult{}, fmt.Errorf("%w: workflow id is required", leadsync.ErrInvalidInput)
	}
	if !c.Configured() {
		return leadsync.TriggerResult{Success: true, ExecutionID: simulatedExecutionID()}, nil
	}
	envelope := newEnvelope(workflowID, payload, time.Now())
	if err := c.publish(ctx, workflowID, envelope); err != nil {
		return leadsync.TriggerResult{Success: false, Error: err.Error()}, err
	}
	return leadsync.TriggerResult{Success: true, ExecutionID: envelope.Meta.ID}, nil
}

func (c *AMQPClient) publish(ctx context.Context, key string, envelope Envelope) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, c.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     envelope.Meta.ID,
			CorrelationId: envelope.Meta.CorrelationID,
			Timestamp:     envelope.Meta.Time,
			Type:          envelope.Meta.Type,
			Body:          body,
		},
	)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNacked
	}
	c.log.Info().Str("key", key).Str("exchange", c.exchange).Str("message_id", envelope.Meta.ID).Msg("published")
	return nil
}

func (c *AMQPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func newEnvelope(workflowID string, payload map[string]any, now time.Time) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return Envelope{
		Meta: EnvelopeMeta{
			ID:            uuid.NewString(),
			CorrelationID: uuid.NewString(),
			Time:          now.UTC(),
			Type:          "workflow.trigger",
		},
		WorkflowID: workflowID,
		Payload:    payload,
	}
}
