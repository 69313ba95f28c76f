// Package notify turns build transitions into chat thread messages.
//
// Each repository has one coordinator instance. The first notification for
// a repository opens a thread; every later one replies in it. Whether a
// thread exists is decided from the coordinator's own state only, so it
// never waits on the thread entity.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatbot/internal/build"
	"chatbot/internal/bus"
	"chatbot/internal/chat"
	"chatbot/internal/repository"
	"chatbot/pkg/templates"
)

// ProcessThreadNotification names the coordinator on the bus.
const ProcessThreadNotification = "thread-notification"

// State remembers the thread a repository's notifications go to.
type State struct {
	RepositoryID repository.ID
	Resource     chat.ThreadResource
	SpaceID      chat.SpaceID
}

// HasThread reports whether a thread was already opened.
func (s *State) HasThread() bool {
	return s.Resource != ""
}

// Store persists coordinator state. LoadNotificationState returns nil, nil
// when the repository has never been notified about.
type Store interface {
	LoadNotificationState(ctx context.Context, id repository.ID) (*State, error)
	SaveNotificationState(ctx context.Context, state *State) error
}

// Renderer produces message text from a named template.
type Renderer interface {
	Render(templateName string, data any) (string, error)
}

// Coordinator sends one chat message per failure or recovery.
type Coordinator struct {
	sender   chat.Sender
	store    Store
	renderer Renderer
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator
func NewCoordinator(sender chat.Sender, store Store, renderer Renderer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sender:   sender,
		store:    store,
		renderer: renderer,
		logger:   logger,
	}
}

// Subscribe registers the coordinator for BuildFailed and BuildRecovered.
// BuildStable is deliberately not subscribed.
func (c *Coordinator) Subscribe(b *bus.Bus) {
	bus.Register[build.BuildFailedEvent](b)
	bus.Register[build.BuildRecoveredEvent](b)

	b.Subscribe(string(build.BuildFailed), ProcessThreadNotification, repositoryKey, func(ctx context.Context, event bus.Event) ([]bus.Event, error) {
		e := event.(build.BuildFailedEvent)
		return c.HandleBuildFailed(ctx, e)
	})
	b.Subscribe(string(build.BuildRecovered), ProcessThreadNotification, repositoryKey, func(ctx context.Context, event bus.Event) ([]bus.Event, error) {
		e := event.(build.BuildRecoveredEvent)
		return c.HandleBuildRecovered(ctx, e)
	})
}

// HandleBuildFailed notifies the repository thread about a failed build.
func (c *Coordinator) HandleBuildFailed(ctx context.Context, e build.BuildFailedEvent) ([]bus.Event, error) {
	c.logger.Info("Build failed", "repository", e.RepositoryID, "build", e.Change.New.Build.Number)
	return c.notify(ctx, e.RepositoryID, e.Change.New, templates.BuildFailed)
}

// HandleBuildRecovered notifies the repository thread about a recovered build.
func (c *Coordinator) HandleBuildRecovered(ctx context.Context, e build.BuildRecoveredEvent) ([]bus.Event, error) {
	c.logger.Info("Build recovered", "repository", e.RepositoryID, "build", e.Change.New.Build.Number)
	return c.notify(ctx, e.RepositoryID, e.Change.New, templates.BuildRecovered)
}

func (c *Coordinator) notify(ctx context.Context, id repository.ID, state build.BuildState, templateName string) ([]bus.Event, error) {
	text, err := c.renderer.Render(templateName, messageData(id, state))
	if err != nil {
		return nil, fmt.Errorf("failed to render %s message for %s: %w", templateName, id, err)
	}

	current, err := c.store.LoadNotificationState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load notification state for %s: %w", id, err)
	}
	if current == nil {
		current = &State{RepositoryID: id}
	}

	// A thread lives in the space it was opened in.
	space := state.ChatSpace
	if current.HasThread() && current.SpaceID != "" && current.SpaceID != space {
		c.logger.Warn("Configured chat space differs from thread's space, replying in thread's space",
			"repository", id,
			"configured", space,
			"thread_space", current.SpaceID)
		space = current.SpaceID
	}
	sent, err := c.sender.Send(ctx, space, current.Resource, text)
	if err != nil {
		return nil, fmt.Errorf("failed to send message for %s: %w", id, err)
	}

	threadID := chat.ThreadIDOf(id)
	messageCreated := chat.MessageCreated{
		MessageID: sent.Message,
		ThreadID:  threadID,
		SpaceID:   space,
	}

	if current.HasThread() {
		c.logger.Info("Replied in thread", "repository", id, "thread", current.Resource, "message", sent.Message)
		return []bus.Event{messageCreated}, nil
	}

	current.Resource = sent.Thread
	current.SpaceID = space
	if err := c.store.SaveNotificationState(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to save notification state for %s: %w", id, err)
	}

	c.logger.Info("Opened thread", "repository", id, "thread", sent.Thread, "message", sent.Message)
	return []bus.Event{
		chat.ThreadCreated{
			ThreadID: threadID,
			Resource: sent.Thread,
			SpaceID:  space,
		},
		messageCreated,
	}, nil
}

func messageData(id repository.ID, state build.BuildState) templates.BuildData {
	report := state.Build

	sha := report.Commit.SHA
	if len(sha) > 7 {
		sha = sha[:7]
	}

	summary, _, _ := strings.Cut(report.Commit.Message, "\n")

	url := report.Commit.CompareURL
	if url == "" {
		url = report.WebURL
	}

	return templates.BuildData{
		Repository: string(id),
		Number:     report.Number,
		Status:     report.Status,
		Author:     report.Commit.Author,
		ShortSHA:   sha,
		Summary:    strings.TrimSpace(summary),
		URL:        url,
	}
}

func repositoryKey(event bus.Event) string {
	switch e := event.(type) {
	case build.BuildFailedEvent:
		return string(e.RepositoryID)
	case build.BuildRecoveredEvent:
		return string(e.RepositoryID)
	}
	return ""
}
