// Package chatbot wires the build tracker, notification coordinator and
// thread entity onto one bus and runs repository check batches.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"chatbot/internal/build"
	"chatbot/internal/bus"
	"chatbot/internal/chat"
	"chatbot/internal/incoming"
	"chatbot/internal/notify"
	"chatbot/internal/repository"
	"chatbot/internal/store"
	"chatbot/pkg/templates"
)

// Store is the durable state every process of the bot persists into.
type Store interface {
	build.Store
	notify.Store
	chat.Store
	bus.Journal
	RecordCheck(ctx context.Context, record *store.CheckRecord) (int64, error)
}

// Options tunes a Bot.
type Options struct {
	// Concurrency bounds how many repositories a batch checks at once.
	Concurrency int

	// Retry is the redelivery policy of the bus. Zero uses the bus default.
	Retry bus.RetryConfig

	BotName string
}

// Bot is the running system.
type Bot struct {
	registry    *repository.Registry
	bus         *bus.Bus
	tracker     *build.Tracker
	router      *incoming.Router
	renderer    notify.Renderer
	store       Store
	concurrency int
	botName     string
	logger      *slog.Logger
}

// Summary reports one check batch.
type Summary struct {
	RunID    string            `json:"run_id"`
	Checked  int               `json:"checked"`
	Notified []string          `json:"notified,omitempty"`
	Rejected []string          `json:"rejected"`
	Failed   map[string]string `json:"failed"`

	// RedeliveryError is set when events left over from earlier batches
	// still could not be delivered.
	RedeliveryError string `json:"redelivery_error,omitempty"`
}

// New creates a bot and subscribes its processes.
func New(registry *repository.Registry, ci build.CI, sender chat.Sender, st Store, renderer notify.Renderer, opts Options, logger *slog.Logger) *Bot {
	busOptions := []bus.Option{bus.WithJournal(st)}
	if opts.Retry.MaxAttempts > 0 {
		busOptions = append(busOptions, bus.WithRetry(opts.Retry))
	}
	b := bus.New(logger, busOptions...)

	notify.NewCoordinator(sender, st, renderer, logger).Subscribe(b)
	chat.NewThreadProcess(st, logger).Subscribe(b)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = repository.DefaultConcurrency
	}
	botName := opts.BotName
	if botName == "" {
		botName = repository.DefaultBotName
	}

	return &Bot{
		registry:    registry,
		bus:         b,
		tracker:     build.NewTracker(ci, st, logger),
		router:      incoming.NewRouter(logger),
		renderer:    renderer,
		store:       st,
		concurrency: concurrency,
		botName:     botName,
		logger:      logger,
	}
}

// CheckRepositories checks the given repositories, or every registered one
// when ids is empty. Events left undelivered by earlier batches are
// redelivered first. Checks run concurrently and one failure never stops
// the others. Failures are joined into the returned error; NoBuildsFound
// rejections are listed in the summary only.
func (b *Bot) CheckRepositories(ctx context.Context, ids ...repository.ID) (*Summary, error) {
	if len(ids) == 0 {
		ids = b.registry.List()
	}

	summary := &Summary{
		RunID:    uuid.NewString(),
		Checked:  len(ids),
		Rejected: []string{},
		Failed:   make(map[string]string),
	}

	start := time.Now()
	b.logger.Info("Checking repositories", "run_id", summary.RunID, "count", len(ids))

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(b.concurrency)

	if err := b.bus.Redeliver(ctx); err != nil {
		b.logger.Warn("Pending events still undelivered", "run_id", summary.RunID, "error", err)
		summary.RedeliveryError = err.Error()
		errs = append(errs, fmt.Errorf("redelivery failed: %w", err))
	}

	for _, id := range ids {
		g.Go(func() error {
			outcome, err := b.checkRepository(ctx, summary.RunID, id)

			mu.Lock()
			defer mu.Unlock()

			var rejected *build.NoBuildsFoundError
			switch {
			case errors.As(err, &rejected):
				summary.Rejected = append(summary.Rejected, string(id))
			case err != nil:
				summary.Failed[string(id)] = err.Error()
				errs = append(errs, fmt.Errorf("check of %s failed: %w", id, err))
			case outcome.Kind == build.BuildFailed || outcome.Kind == build.BuildRecovered:
				summary.Notified = append(summary.Notified, string(id))
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(summary.Notified)
	sort.Strings(summary.Rejected)

	b.logger.Info("Repository check finished",
		"run_id", summary.RunID,
		"checked", summary.Checked,
		"notified", len(summary.Notified),
		"rejected", len(summary.Rejected),
		"failed", len(summary.Failed),
		"duration_ms", time.Since(start).Milliseconds())

	return summary, errors.Join(errs...)
}

func (b *Bot) checkRepository(ctx context.Context, runID string, id repository.ID) (build.Outcome, error) {
	repo, err := b.registry.Get(id)
	if err != nil {
		return build.Outcome{}, err
	}

	outcome, err := b.tracker.Execute(ctx, b.bus, build.CheckBuild{
		RepositoryID:   repo.ID,
		OrganizationID: repo.Organization,
		ChatSpace:      chat.SpaceID(repo.ChatSpace),
	})

	b.recordCheck(ctx, runID, id, outcome, err)
	return outcome, err
}

// recordCheck appends the check to the history. History is informational;
// a failure to record is logged and does not fail the check.
func (b *Bot) recordCheck(ctx context.Context, runID string, id repository.ID, outcome build.Outcome, checkErr error) {
	record := &store.CheckRecord{
		RunID:        runID,
		RepositoryID: string(id),
		Outcome:      string(outcome.Kind),
	}

	if outcome.Kind != build.NoBuildsFound && outcome.Kind != "" {
		number := outcome.Change.New.Build.Number
		state := string(outcome.Change.New.State)
		record.BuildNumber = &number
		record.BuildState = &state
	}

	var rejected *build.NoBuildsFoundError
	if checkErr != nil && !errors.As(checkErr, &rejected) {
		if record.Outcome == "" {
			record.Outcome = store.OutcomeFailed
		}
		message := checkErr.Error()
		record.ErrorMessage = &message
	}

	if _, err := b.store.RecordCheck(ctx, record); err != nil {
		b.logger.Error("Failed to record check", "repository", id, "run_id", runID, "error", err)
	}
}

// HandleChatEvent routes an inbound chat event and returns the text to reply
// with. Only a bot added to a space gets a reply.
func (b *Bot) HandleChatEvent(ctx context.Context, event *incoming.ChatEvent) (string, error) {
	routed, err := b.router.Dispatch(ctx, b.bus, event)
	if err != nil {
		return "", err
	}

	added, ok := routed.(incoming.BotAddedToSpace)
	if !ok {
		return "", nil
	}

	text, err := b.renderer.Render(templates.BotAdded, templates.GreetingData{
		SpaceName: added.SpaceName,
		BotName:   b.botName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render greeting: %w", err)
	}
	return text, nil
}
