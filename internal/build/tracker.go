package build

import (
	"context"
	"fmt"
	"log/slog"

	"chatbot/internal/bus"
	"chatbot/internal/chat"
	"chatbot/internal/repository"
)

// ProcessRepositoryBuild names the tracker on the bus.
const ProcessRepositoryBuild = "repository-build"

// CI lists the most recent finished builds of a repository, newest first.
type CI interface {
	ListBuilds(ctx context.Context, slug string) ([]Report, error)
}

// Record is the last known build state of a repository.
type Record struct {
	RepositoryID repository.ID
	LastState    *BuildState
}

// Store persists build records. LoadRecord returns nil, nil for a
// repository that was never checked.
type Store interface {
	LoadRecord(ctx context.Context, id repository.ID) (*Record, error)
	SaveRecord(ctx context.Context, record *Record) error
}

// CheckBuild asks the tracker to check a repository's latest build.
type CheckBuild struct {
	RepositoryID   repository.ID
	OrganizationID repository.OrganizationID
	ChatSpace      chat.SpaceID
}

// Tracker owns the build record of every repository.
type Tracker struct {
	ci     CI
	store  Store
	logger *slog.Logger
}

// NewTracker creates a tracker querying ci and persisting into store
func NewTracker(ci CI, store Store, logger *slog.Logger) *Tracker {
	return &Tracker{ci: ci, store: store, logger: logger}
}

// CheckBuild fetches the latest build, classifies it against the recorded
// state and records it. The new state is saved even when nothing changed.
// An empty CI response rejects the check with *NoBuildsFoundError and
// leaves the record untouched.
func (t *Tracker) CheckBuild(ctx context.Context, cmd CheckBuild) (Outcome, error) {
	builds, err := t.ci.ListBuilds(ctx, string(cmd.RepositoryID))
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to query builds for %s: %w", cmd.RepositoryID, err)
	}

	if len(builds) == 0 {
		t.logger.Info("No builds found", "repository", cmd.RepositoryID)
		return Outcome{Kind: NoBuildsFound}, &NoBuildsFoundError{RepositoryID: cmd.RepositoryID}
	}

	current := StateOf(builds[0], cmd.ChatSpace)

	record, err := t.store.LoadRecord(ctx, cmd.RepositoryID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load build record for %s: %w", cmd.RepositoryID, err)
	}
	if record == nil {
		record = &Record{RepositoryID: cmd.RepositoryID}
	}

	outcome := Classify(record.LastState, current)

	record.LastState = &current
	if err := t.store.SaveRecord(ctx, record); err != nil {
		return Outcome{}, fmt.Errorf("failed to save build record for %s: %w", cmd.RepositoryID, err)
	}

	t.logger.Info("Build checked",
		"repository", cmd.RepositoryID,
		"build", current.Build.Number,
		"state", current.State,
		"outcome", outcome.Kind)

	return outcome, nil
}

// Execute runs CheckBuild serialized per repository on b and publishes the
// resulting transition event.
func (t *Tracker) Execute(ctx context.Context, b *bus.Bus, cmd CheckBuild) (Outcome, error) {
	var outcome Outcome
	err := b.Execute(ctx, ProcessRepositoryBuild, string(cmd.RepositoryID), func(ctx context.Context) ([]bus.Event, error) {
		var err error
		outcome, err = t.CheckBuild(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return outcome.Events(cmd.RepositoryID), nil
	})
	return outcome, err
}
