package googlechat

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"
	gchat "google.golang.org/api/chat/v1"
	"google.golang.org/api/option"

	"chatbot/internal/chat"
)

const (
	// botScope lets a service account post as a chat app.
	botScope = "https://www.googleapis.com/auth/chat.bot"

	// replyOrStartThread makes a reply to a vanished thread start a new
	// one instead of failing.
	replyOrStartThread = "REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"
)

// Options configures a Sender.
type Options struct {
	// Credentials is a service-account key in JSON. Nil leaves
	// authentication to ClientOptions.
	Credentials []byte

	// BotName is sent as the application name.
	BotName string

	// MessagesPerSecond throttles sends. Zero disables throttling.
	MessagesPerSecond float64

	// Endpoint overrides the Chat API root.
	Endpoint string

	ClientOptions []option.ClientOption
}

// Sender posts messages through the Google Chat API.
type Sender struct {
	service *gchat.Service
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewSender creates a Google Chat sender.
func NewSender(ctx context.Context, opts Options, logger *slog.Logger) (*Sender, error) {
	clientOptions := []option.ClientOption{option.WithScopes(botScope)}
	if opts.Credentials != nil {
		clientOptions = append(clientOptions, option.WithCredentialsJSON(opts.Credentials))
	}
	if opts.BotName != "" {
		clientOptions = append(clientOptions, option.WithUserAgent(opts.BotName))
	}
	if opts.Endpoint != "" {
		clientOptions = append(clientOptions, option.WithEndpoint(opts.Endpoint))
	}
	clientOptions = append(clientOptions, opts.ClientOptions...)

	service, err := gchat.NewService(ctx, clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat service: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), 1)
	}

	return &Sender{
		service: service,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Send posts text into space. With an empty resource a new thread is
// started; otherwise the message replies in the given thread.
func (s *Sender) Send(ctx context.Context, space chat.SpaceID, resource chat.ThreadResource, text string) (chat.SentMessage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return chat.SentMessage{}, fmt.Errorf("send throttled: %w", err)
	}

	message := &gchat.Message{Text: text}
	call := s.service.Spaces.Messages.Create(string(space), message)
	if resource != "" {
		message.Thread = &gchat.Thread{Name: string(resource)}
		call = call.MessageReplyOption(replyOrStartThread)
	}

	sent, err := call.Context(ctx).Do()
	if err != nil {
		return chat.SentMessage{}, fmt.Errorf("failed to post message to %s: %w", space, err)
	}

	if sent.Name == "" || sent.Thread == nil || sent.Thread.Name == "" {
		return chat.SentMessage{}, fmt.Errorf("chat API returned an incomplete message for %s", space)
	}

	s.logger.Debug("Message posted",
		"space", space,
		"message", sent.Name,
		"thread", sent.Thread.Name,
	)

	return chat.SentMessage{
		Message: chat.MessageID(sent.Name),
		Thread:  chat.ThreadResource(sent.Thread.Name),
	}, nil
}
