package queue

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gympulse/gympulse-api/pkg/config"
)

// Logical stream names. Producers and consumers agree on these; messages are
// JSON payloads appended with XADD and consumed through a consumer group.
const (
	StreamCheckin      = "checkin"
	StreamCheckinBatch = "checkin.batch"
	StreamReportDaily  = "report.daily"
	StreamModelTrain   = "model.train"
	StreamModelScore   = "model.score"
)

const bodyField = "body"

// Message is a single delivery handed to a consumer.
type Message struct {
	ID          string
	Stream      string
	Body        []byte
	Redelivered bool
}

// Publisher is the producer-facing side of the broker.
type Publisher interface {
	Publish(ctx context.Context, stream string, body []byte) error
}

// Broker wraps Redis Streams as a durable at-least-once queue. Entries survive
// broker restarts (subject to Redis persistence), unacknowledged deliveries
// stay in the group's pending list, and entries idle longer than ClaimMinIdle
// are reclaimed by the next fetching consumer.
type Broker struct {
	client       *redis.Client
	group        string
	consumer     string
	block        time.Duration
	claimMinIdle time.Duration
	maxLen       int64
	logger       *zap.Logger
}

// NewBroker builds a broker bound to one consumer-group identity.
func NewBroker(client *redis.Client, cfg config.QueueConfig, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	consumer := cfg.Consumer
	if consumer == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		consumer = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	group := cfg.Group
	if group == "" {
		group = "gympulse-workers"
	}
	block := cfg.BlockTimeout
	if block <= 0 {
		block = 5 * time.Second
	}
	claim := cfg.ClaimMinIdle
	if claim <= 0 {
		claim = time.Minute
	}
	return &Broker{
		client:       client,
		group:        group,
		consumer:     consumer,
		block:        block,
		claimMinIdle: claim,
		maxLen:       cfg.MaxLen,
		logger:       logger,
	}
}

// Publish appends the payload to the stream and returns once Redis has
// acknowledged the write. It never waits for consumer processing.
func (b *Broker) Publish(ctx context.Context, stream string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{bodyField: body},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// EnsureGroup creates the consumer group for a stream, starting from the
// beginning so messages published before the first worker came up are seen.
func (b *Broker) EnsureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, b.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", b.group, stream, err)
	}
	return nil
}

// Fetch returns the next message for this consumer, or nil when the block
// timeout elapsed with nothing to deliver. Stale pending entries abandoned by
// crashed consumers are reclaimed before new entries are read.
func (b *Broker) Fetch(ctx context.Context, stream string) (*Message, error) {
	claimed, _, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    b.group,
		Consumer: b.consumer,
		MinIdle:  b.claimMinIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && err != redis.Nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.logger.Warn("autoclaim failed", zap.String("stream", stream), zap.Error(err))
	}
	if len(claimed) > 0 {
		msg := toMessage(stream, claimed[0], true)
		return &msg, nil
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.group,
		Consumer: b.consumer,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    b.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return nil, nil
	}
	msg := toMessage(stream, res[0].Messages[0], false)
	return &msg, nil
}

// Ack confirms a delivery so it leaves the pending list. Called for processed
// and for deliberately discarded messages; never for ones that should retry.
func (b *Broker) Ack(ctx context.Context, stream, id string) error {
	if err := b.client.XAck(ctx, stream, b.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, id, err)
	}
	return nil
}

// Consumer returns the consumer identity used within the group.
func (b *Broker) Consumer() string {
	return b.consumer
}

func toMessage(stream string, m redis.XMessage, redelivered bool) Message {
	var body []byte
	if raw, ok := m.Values[bodyField]; ok {
		switch v := raw.(type) {
		case string:
			body = []byte(v)
		case []byte:
			body = v
		}
	}
	return Message{ID: m.ID, Stream: stream, Body: body, Redelivered: redelivered}
}
