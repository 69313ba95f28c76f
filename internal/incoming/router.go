package incoming

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chatbot/internal/bus"
	"chatbot/internal/chat"
)

// Router dispatches raw chat events.
type Router struct {
	logger *slog.Logger
}

// NewRouter creates a router
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// Route converts a raw event into its canonical event. Card clicks and
// unknown types yield nil; they are logged, not treated as errors.
func (r *Router) Route(event *ChatEvent) bus.Event {
	switch event.Type {
	case TypeMessage:
		r.logger.Info("New user message received", "space", event.Space.Name)
		return toMessageReceived(event)

	case TypeAddedToSpace:
		r.logger.Info("ChatBot added to space",
			"space", event.Space.Name,
			"display_name", event.Space.DisplayName,
		)
		return BotAddedToSpace{
			SpaceID:   chat.SpaceID(event.Space.Name),
			SpaceName: event.Space.DisplayName,
			AddedBy:   event.User.DisplayName,
		}

	case TypeRemovedFromSpace:
		r.logger.Info("ChatBot removed from space",
			"space", event.Space.Name,
			"display_name", event.Space.DisplayName,
		)
		return BotRemovedFromSpace{
			SpaceID:   chat.SpaceID(event.Space.Name),
			SpaceName: event.Space.DisplayName,
		}

	case TypeCardClicked:
		r.logger.Debug("Skipping card clicks")
		return nil

	default:
		r.logger.Error("Unsupported chat event type received", "type", event.Type)
		return nil
	}
}

// Dispatch routes the event and publishes the result. It returns the
// canonical event, or nil when the raw event was dropped.
func (r *Router) Dispatch(ctx context.Context, b *bus.Bus, event *ChatEvent) (bus.Event, error) {
	routed := r.Route(event)
	if routed == nil {
		return nil, nil
	}
	if err := b.Publish(ctx, routed); err != nil {
		return routed, fmt.Errorf("failed to publish %s: %w", routed.Kind(), err)
	}
	return routed, nil
}

func toMessageReceived(event *ChatEvent) MessageReceived {
	received := MessageReceived{
		SpaceID: chat.SpaceID(event.Space.Name),
		Sender:  event.User.DisplayName,
	}
	if event.Message != nil {
		received.MessageID = chat.MessageID(event.Message.Name)
		received.Resource = chat.ThreadResource(event.Message.Thread.Name)
		received.Text = strings.TrimSpace(event.Message.ArgumentText)
		if received.Text == "" {
			received.Text = strings.TrimSpace(event.Message.Text)
		}
		if event.Message.Sender.DisplayName != "" {
			received.Sender = event.Message.Sender.DisplayName
		}
	}
	return received
}
