// Package incoming turns raw Google Chat webhook events into the bot's
// canonical space and message events.
package incoming

import (
	"encoding/json"
	"fmt"
	"io"

	"chatbot/internal/chat"
)

// Raw event types sent by Google Chat
const (
	TypeMessage          = "MESSAGE"
	TypeAddedToSpace     = "ADDED_TO_SPACE"
	TypeRemovedFromSpace = "REMOVED_FROM_SPACE"
	TypeCardClicked      = "CARD_CLICKED"
)

// Canonical event kinds
const (
	KindBotAddedToSpace     = "BotAddedToSpace"
	KindBotRemovedFromSpace = "BotRemovedFromSpace"
	KindMessageReceived     = "MessageReceived"
)

// ChatEvent is the webhook payload Google Chat posts to the bot.
type ChatEvent struct {
	Type      string   `json:"type"`
	EventTime string   `json:"eventTime"`
	Space     Space    `json:"space"`
	Message   *Message `json:"message,omitempty"`
	User      User     `json:"user"`
}

// Space is the chat space an event happened in.
type Space struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Type        string `json:"type"`
}

// Message is a user message addressed to the bot.
type Message struct {
	Name         string `json:"name"`
	Text         string `json:"text"`
	ArgumentText string `json:"argumentText"`
	Thread       struct {
		Name string `json:"name"`
	} `json:"thread"`
	Sender User `json:"sender"`
}

// User is a chat member.
type User struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Decode reads one webhook payload.
func Decode(r io.Reader) (*ChatEvent, error) {
	var event ChatEvent
	if err := json.NewDecoder(r).Decode(&event); err != nil {
		return nil, fmt.Errorf("invalid chat event: %w", err)
	}
	return &event, nil
}

// BotAddedToSpace reports the bot joining a space.
type BotAddedToSpace struct {
	SpaceID   chat.SpaceID
	SpaceName string
	AddedBy   string
}

func (BotAddedToSpace) Kind() string { return KindBotAddedToSpace }

// BotRemovedFromSpace reports the bot leaving a space.
type BotRemovedFromSpace struct {
	SpaceID   chat.SpaceID
	SpaceName string
}

func (BotRemovedFromSpace) Kind() string { return KindBotRemovedFromSpace }

// MessageReceived reports a user message sent to the bot.
type MessageReceived struct {
	SpaceID   chat.SpaceID
	MessageID chat.MessageID
	Resource  chat.ThreadResource
	Sender    string
	Text      string
}

func (MessageReceived) Kind() string { return KindMessageReceived }
