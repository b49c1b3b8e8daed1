package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/repartos-backend/pkg/config"
	"github.com/angelmondragon/repartos-backend/pkg/db/models"
	"github.com/angelmondragon/repartos-backend/pkg/enums"
	"github.com/angelmondragon/repartos-backend/pkg/logger"
	"github.com/angelmondragon/repartos-backend/pkg/metrics"
	"github.com/angelmondragon/repartos-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxIdleBackoff     = 10 * time.Second
	maxJitter          = 250 * time.Millisecond
)

type txDB interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type eventStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// topicPublisher publishes with an ordering key. After a failed publish the key
// stays paused until ResumePublish is called.
type topicPublisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txDB
	PubSub      topicSource
	Events      eventStore
	DeadLetters deadLetters
	Registry    resolver
	Metrics     *metrics.OutboxMetrics
	// Publishers overrides topic lookup, mainly for tests.
	Publishers func(topic string) topicPublisher
}

// Relay drains outbox_events onto Pub/Sub. Events of one aggregate are
// published in the order they were written: once an order's event fails, the
// rest of that order's events wait for the next batch.
type Relay struct {
	logg        *logger.Logger
	db          txDB
	pubsub      topicSource
	events      eventStore
	dlq         deadLetters
	registry    resolver
	metrics     *metrics.OutboxMetrics
	publishers  func(topic string) topicPublisher
	batchSize   int
	maxAttempts int
	poll        time.Duration
	now         func() time.Time
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.PubSub == nil && p.Publishers == nil:
		return nil, errors.New("pubsub client is required")
	}

	r := &Relay{
		logg:        p.Logger,
		db:          p.DB,
		pubsub:      p.PubSub,
		events:      p.Events,
		dlq:         p.DeadLetters,
		registry:    p.Registry,
		metrics:     p.Metrics,
		publishers:  p.Publishers,
		batchSize:   positiveOr(p.Outbox.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, defaultMaxAttempts),
		poll:        time.Duration(positiveOr(p.Outbox.PollIntervalMS, int(defaultPoll/time.Millisecond))) * time.Millisecond,
		now:         time.Now,
	}
	if r.publishers == nil {
		r.publishers = orderedPublishers(p.PubSub)
	}
	return r, nil
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// orderedPublishers adapts the client's per-topic publishers, which already
// have message ordering enabled.
func orderedPublishers(src topicSource) func(string) topicPublisher {
	return func(topic string) topicPublisher {
		handle := src.Publisher(topic)
		if handle == nil {
			return nil
		}
		return gcpPublisher{handle}
	}
}

// Run polls until ctx is cancelled. A full batch is followed immediately by
// another; an empty one waits for the poll interval; a failed one backs off.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, "pubsub": r.pingPubSub} {
		if err := ping(ctx); err != nil {
			r.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.drain(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n >= r.batchSize:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := sleep(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

func (r *Relay) pingPubSub(ctx context.Context) error {
	if r.pubsub == nil {
		return nil
	}
	return r.pubsub.Ping(ctx)
}

// drain handles one locked batch and returns how many rows it fetched.
func (r *Relay) drain(ctx context.Context) (int, error) {
	var fetched int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		fetched = len(rows)

		held := map[uuid.UUID]bool{}
		for _, row := range rows {
			if held[row.AggregateID] {
				r.metrics.Event(string(row.EventType), metrics.RelayDeferred)
				continue
			}
			result, err := r.relay(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.Event(string(row.EventType), result)
			if result == metrics.RelayRetry {
				held[row.AggregateID] = true
			}
		}
		return nil
	})
	return fetched, err
}

// relay publishes one row and records the result on it. The returned error is
// reserved for bookkeeping failures, which abort the batch.
func (r *Relay) relay(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return metrics.RelayDeadLetter, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithField(ctx, "topic", resolved.Descriptor.Topic)

	pubErr := r.publish(ctx, row, resolved)
	switch {
	case pubErr == nil:
		if err := r.events.MarkPublishedTx(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.metrics.ObserveLag(r.now().Sub(row.CreatedAt).Seconds())
		r.logg.Info(ctx, "outbox event published")
		return metrics.RelayPublished, nil
	case registry.IsNonRetryable(pubErr):
		return metrics.RelayDeadLetter, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, pubErr)
	case row.AttemptCount+1 >= r.maxAttempts:
		return metrics.RelayDeadLetter, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("max publish attempts reached: %w", pubErr))
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", pubErr.Error()), "outbox publish failed, will retry")
	if err := r.events.MarkFailedTx(tx, row.ID, pubErr); err != nil {
		return "", fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return metrics.RelayRetry, nil
}

func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}
	key := row.AggregateID.String()
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   key,
			"occurred_at":    resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	res := pub.Publish(publishCtx, msg)
	if res == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for %s returned no result", topic))
	}
	if _, err := res.Get(publishCtx); err != nil {
		pub.ResumePublish(key)
		return err
	}
	return nil
}

// deadLetter copies the row to outbox_dlq and pins its attempt count so it is
// never fetched again.
func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": reason,
		"error":        cause.Error(),
	}), "outbox event moved to dlq")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.events.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func jitter() time.Duration {
	return rand.N(maxJitter)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
