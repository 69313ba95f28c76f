package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatbot/internal/codec"
)

// Event is a fact published on the bus. Kind names the event type and is
// what subscriptions match on.
type Event interface {
	Kind() string
}

// Handler applies one event to the state of a single process instance and
// returns the events that instance emits in response.
type Handler func(ctx context.Context, event Event) ([]Event, error)

// KeyFunc picks the process instance an event is routed to.
type KeyFunc func(event Event) string

// Envelope is the journaled form of a published event.
type Envelope struct {
	ID         string
	Kind       string
	Payload    []byte
	RecordedAt time.Time
}

// Delivery names a process instance a journaled event is owed to.
type Delivery struct {
	Process  string
	Instance string
}

// Pending is a journaled event one process instance has not handled yet.
type Pending struct {
	Envelope
	Delivery
}

// Journal records published events and which subscribers have handled
// them.
//
// Appending an event whose ID is already present must keep the existing
// delivery state. Pending returns undelivered entries oldest first; an
// empty instance selects every instance.
type Journal interface {
	Append(ctx context.Context, envelope Envelope, deliveries []Delivery) error
	Pending(ctx context.Context, instance string) ([]Pending, error)
	MarkDelivered(ctx context.Context, eventID, process string) error
	MarkFailed(ctx context.Context, eventID, process string, cause error) error
}

type subscription struct {
	process string
	key     KeyFunc
	handle  Handler
}

type decoder func(payload []byte) (Event, error)

// Bus delivers commands and events to keyed process instances.
//
// Each (process, key) pair handles one message at a time; different pairs
// run in parallel. Delivery happens on the caller's goroutine. An instance
// stays locked until the events it emitted have been delivered, so two
// messages for the same instance never have their consequences
// interleaved. Emitted events must not route back to the emitting
// instance.
//
// A handler that returns an error is redelivered the same event according
// to the retry policy, so handlers must tolerate duplicates. With a
// journal, an event that still fails stays pending: later events for the
// same instance queue behind it and Redeliver retries it.
type Bus struct {
	logger  *slog.Logger
	locks   *KeyedMutex
	retry   RetryConfig
	journal Journal

	mu            sync.RWMutex
	subscriptions map[string][]subscription
	decoders      map[string]decoder
}

// Option customizes a Bus.
type Option func(*Bus)

// WithRetry sets the redelivery policy for failing event handlers.
func WithRetry(config RetryConfig) Option {
	return func(b *Bus) { b.retry = config }
}

// WithJournal makes delivery durable through journal.
func WithJournal(journal Journal) Option {
	return func(b *Bus) { b.journal = journal }
}

// New creates a bus with no subscriptions.
func New(logger *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:        logger,
		locks:         NewKeyedMutex(),
		retry:         DefaultRetryConfig(),
		subscriptions: make(map[string][]subscription),
		decoders:      make(map[string]decoder),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe routes events of the given kind to process, keyed by key.
// Subscriptions for the same kind are delivered in registration order.
func (b *Bus) Subscribe(kind, process string, key KeyFunc, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriptions[kind] = append(b.subscriptions[kind], subscription{
		process: process,
		key:     key,
		handle:  handler,
	})
}

// Register lets b rebuild events of type E from their journaled payload.
// Events of a kind that was never registered cannot be redelivered after
// they leave memory.
func Register[E Event](b *Bus) {
	var zero E

	b.mu.Lock()
	defer b.mu.Unlock()

	b.decoders[zero.Kind()] = func(payload []byte) (Event, error) {
		var event E
		if err := codec.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		return event, nil
	}
}

// Execute runs a command against the instance of process identified by key
// and publishes whatever events it emits. The instance stays locked until
// publication finishes. Commands are not redelivered; a command error is
// returned as is.
func (b *Bus) Execute(ctx context.Context, process, key string, command func(ctx context.Context) ([]Event, error)) error {
	lockKey := instanceKey(process, key)

	b.locks.Lock(lockKey)
	defer b.locks.Unlock(lockKey)

	events, err := command(ctx)
	if err != nil {
		return err
	}
	return b.Publish(ctx, events...)
}

// Publish journals and delivers events in order. Handler failures that
// survive redelivery are joined into the returned error; they do not stop
// delivery to other subscribers.
func (b *Bus) Publish(ctx context.Context, events ...Event) error {
	var errs []error
	for _, event := range events {
		if err := b.publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Redeliver hands every pending journaled event to its subscriber, oldest
// first per instance. Instances busy with another delivery are skipped;
// whoever holds them drains their backlog before handling anything new.
func (b *Bus) Redeliver(ctx context.Context) error {
	if b.journal == nil {
		return nil
	}

	pending, err := b.journal.Pending(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to read pending deliveries: %w", err)
	}

	var instances []string
	seen := make(map[string]bool)
	for _, p := range pending {
		if !seen[p.Instance] {
			seen[p.Instance] = true
			instances = append(instances, p.Instance)
		}
	}

	var errs []error
	for _, instance := range instances {
		if !b.locks.TryLock(instance) {
			b.logger.Debug("Instance busy, leaving backlog to its holder", "instance", instance)
			continue
		}
		err := b.drain(ctx, instance, "", nil)
		b.locks.Unlock(instance)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if len(instances) > 0 {
		b.logger.Info("Redelivered pending events", "instances", len(instances), "failed", len(errs))
	}
	return errors.Join(errs...)
}

func (b *Bus) publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subscriptions := b.subscriptions[event.Kind()]
	b.mu.RUnlock()

	id, durable := b.record(ctx, event, subscriptions)

	if len(subscriptions) == 0 {
		b.logger.Debug("No subscribers for event", "kind", event.Kind())
		return nil
	}

	var errs []error
	for _, sub := range subscriptions {
		instance := instanceKey(sub.process, sub.key(event))

		b.locks.Lock(instance)
		var err error
		if durable {
			err = b.drain(ctx, instance, id, event)
		} else {
			err = b.deliver(ctx, sub, instance, event)
		}
		b.locks.Unlock(instance)

		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver handles event without the journal. The caller holds instance.
func (b *Bus) deliver(ctx context.Context, sub subscription, instance string, event Event) error {
	emitted, err := b.handle(ctx, sub, instance, event)
	if err != nil {
		return fmt.Errorf("%s failed to handle %s: %w", sub.process, event.Kind(), err)
	}
	return b.Publish(ctx, emitted...)
}

// drain handles the journaled backlog of instance in order, stopping at the
// first event that still fails. live is the in-memory form of the event
// with id liveID, if any. The caller holds instance.
func (b *Bus) drain(ctx context.Context, instance, liveID string, live Event) error {
	pending, err := b.journal.Pending(ctx, instance)
	if err != nil {
		return fmt.Errorf("failed to read pending deliveries for %s: %w", instance, err)
	}

	var errs []error
	for _, p := range pending {
		event := live
		if p.ID != liveID || live == nil {
			event, err = b.decode(p.Kind, p.Payload)
			if err != nil {
				b.markFailed(ctx, p, err)
				return errors.Join(append(errs, fmt.Errorf("failed to restore %s %s: %w", p.Kind, p.ID, err))...)
			}
		}

		sub, ok := b.subscription(p.Kind, p.Process)
		if !ok {
			b.logger.Warn("Dropping pending event without subscriber", "kind", p.Kind, "id", p.ID, "process", p.Process)
			b.markDelivered(ctx, p)
			continue
		}

		emitted, err := b.handle(ctx, sub, instance, event)
		if err != nil {
			b.markFailed(ctx, p, err)
			return errors.Join(append(errs, fmt.Errorf("%s failed to handle %s: %w", p.Process, p.Kind, err))...)
		}
		b.markDelivered(ctx, p)

		if err := b.Publish(ctx, emitted...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// handle runs the handler with redelivery.
func (b *Bus) handle(ctx context.Context, sub subscription, instance string, event Event) ([]Event, error) {
	var emitted []Event
	err := retry(ctx, b.retry, func() error {
		var err error
		emitted, err = sub.handle(ctx, event)
		return err
	}, func(attempt int, err error, wait time.Duration) {
		b.logger.Warn("Redelivering event",
			"kind", event.Kind(),
			"instance", instance,
			"attempt", attempt,
			"wait", wait.String(),
			"error", err)
	})
	return emitted, err
}

func (b *Bus) subscription(kind, process string) (subscription, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscriptions[kind] {
		if sub.process == process {
			return sub, true
		}
	}
	return subscription{}, false
}

func (b *Bus) decode(kind string, payload []byte) (Event, error) {
	b.mu.RLock()
	decode, ok := b.decoders[kind]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("event kind %s is not registered", kind)
	}
	return decode(payload)
}

// record journals event together with the deliveries it is owed. It
// reports false when the event could not be journaled; delivery then
// happens in memory only.
func (b *Bus) record(ctx context.Context, event Event, subscriptions []subscription) (string, bool) {
	if b.journal == nil {
		return "", false
	}

	id, payload, err := codec.ContentID(event.Kind(), event)
	if err != nil {
		b.logger.Error("Failed to encode event for journal", "kind", event.Kind(), "error", err)
		return "", false
	}

	deliveries := make([]Delivery, 0, len(subscriptions))
	for _, sub := range subscriptions {
		deliveries = append(deliveries, Delivery{
			Process:  sub.process,
			Instance: instanceKey(sub.process, sub.key(event)),
		})
	}

	envelope := Envelope{
		ID:         id,
		Kind:       event.Kind(),
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}
	if err := b.journal.Append(ctx, envelope, deliveries); err != nil {
		b.logger.Error("Failed to journal event, delivering without durability", "kind", event.Kind(), "id", id, "error", err)
		return "", false
	}
	return id, true
}

func (b *Bus) markDelivered(ctx context.Context, p Pending) {
	if err := b.journal.MarkDelivered(ctx, p.ID, p.Process); err != nil {
		b.logger.Error("Failed to mark event delivered", "kind", p.Kind, "id", p.ID, "process", p.Process, "error", err)
	}
}

func (b *Bus) markFailed(ctx context.Context, p Pending, cause error) {
	// The handler's ctx may be the reason it failed.
	if err := b.journal.MarkFailed(context.WithoutCancel(ctx), p.ID, p.Process, cause); err != nil {
		b.logger.Error("Failed to record delivery failure", "kind", p.Kind, "id", p.ID, "process", p.Process, "error", err)
	}
}

func instanceKey(process, key string) string {
	return process + "/" + key
}
