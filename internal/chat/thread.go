package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"chatbot/internal/bus"
)

// ProcessThread names the thread entity on the bus.
const ProcessThread = "thread"

// Thread is the authoritative record of a chat thread.
type Thread struct {
	ID       ThreadID
	SpaceID  SpaceID
	Resource ThreadResource
	Messages []MessageID
}

// Initialized reports whether the thread has learned its resource.
func (t *Thread) Initialized() bool {
	return t.Resource != ""
}

// HasMessage reports whether id was already recorded.
func (t *Thread) HasMessage(id MessageID) bool {
	return slices.Contains(t.Messages, id)
}

// ApplyThreadCreated initializes the thread. Once initialized, the resource
// never changes and further ThreadCreated events are dropped.
func (t *Thread) ApplyThreadCreated(e ThreadCreated) []bus.Event {
	if t.Initialized() {
		return nil
	}

	t.SpaceID = e.SpaceID
	t.Resource = e.Resource
	return []bus.Event{ThreadInitialized{
		ThreadID: t.ID,
		Resource: e.Resource,
		SpaceID:  e.SpaceID,
	}}
}

// ApplyMessageCreated appends the message id unless it is already present.
func (t *Thread) ApplyMessageCreated(e MessageCreated) []bus.Event {
	if t.HasMessage(e.MessageID) {
		return nil
	}

	if t.SpaceID == "" {
		t.SpaceID = e.SpaceID
	}
	t.Messages = append(t.Messages, e.MessageID)
	return []bus.Event{MessageAdded{
		MessageID: e.MessageID,
		ThreadID:  t.ID,
	}}
}

// Store persists thread records. LoadThread returns nil, nil for a thread
// that was never saved.
type Store interface {
	LoadThread(ctx context.Context, id ThreadID) (*Thread, error)
	SaveThread(ctx context.Context, thread *Thread) error
}

// ThreadProcess applies lifecycle events to stored threads.
type ThreadProcess struct {
	store  Store
	logger *slog.Logger
}

// NewThreadProcess creates a thread process backed by store
func NewThreadProcess(store Store, logger *slog.Logger) *ThreadProcess {
	return &ThreadProcess{store: store, logger: logger}
}

// Subscribe registers the process for ThreadCreated and MessageCreated.
func (p *ThreadProcess) Subscribe(b *bus.Bus) {
	bus.Register[ThreadCreated](b)
	bus.Register[MessageCreated](b)

	b.Subscribe(KindThreadCreated, ProcessThread, threadKey, func(ctx context.Context, event bus.Event) ([]bus.Event, error) {
		return p.HandleThreadCreated(ctx, event.(ThreadCreated))
	})
	b.Subscribe(KindMessageCreated, ProcessThread, threadKey, func(ctx context.Context, event bus.Event) ([]bus.Event, error) {
		return p.HandleMessageCreated(ctx, event.(MessageCreated))
	})
}

// HandleThreadCreated initializes the thread if it is not yet initialized.
func (p *ThreadProcess) HandleThreadCreated(ctx context.Context, e ThreadCreated) ([]bus.Event, error) {
	thread, err := p.load(ctx, e.ThreadID)
	if err != nil {
		return nil, err
	}

	events := thread.ApplyThreadCreated(e)
	if len(events) == 0 {
		p.logger.Debug("Thread already initialized", "thread", e.ThreadID, "resource", thread.Resource)
		return nil, nil
	}

	if err := p.store.SaveThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to save thread %s: %w", e.ThreadID, err)
	}

	p.logger.Info("Thread initialized", "thread", e.ThreadID, "resource", e.Resource, "space", e.SpaceID)
	return events, nil
}

// HandleMessageCreated records the message id once.
func (p *ThreadProcess) HandleMessageCreated(ctx context.Context, e MessageCreated) ([]bus.Event, error) {
	thread, err := p.load(ctx, e.ThreadID)
	if err != nil {
		return nil, err
	}

	events := thread.ApplyMessageCreated(e)
	if len(events) == 0 {
		p.logger.Debug("Message already recorded", "thread", e.ThreadID, "message", e.MessageID)
		return nil, nil
	}

	if err := p.store.SaveThread(ctx, thread); err != nil {
		return nil, fmt.Errorf("failed to save thread %s: %w", e.ThreadID, err)
	}

	p.logger.Info("Message added to thread", "thread", e.ThreadID, "message", e.MessageID, "count", len(thread.Messages))
	return events, nil
}

func (p *ThreadProcess) load(ctx context.Context, id ThreadID) (*Thread, error) {
	thread, err := p.store.LoadThread(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", id, err)
	}
	if thread == nil {
		thread = &Thread{ID: id}
	}
	return thread, nil
}

func threadKey(event bus.Event) string {
	switch e := event.(type) {
	case ThreadCreated:
		return string(e.ThreadID)
	case MessageCreated:
		return string(e.ThreadID)
	}
	return ""
}
