package build

import (
	"fmt"

	"chatbot/internal/bus"
	"chatbot/internal/repository"
)

// BuildFailedEvent is emitted when a repository's build starts failing.
type BuildFailedEvent struct {
	RepositoryID repository.ID
	Change       Change
}

func (BuildFailedEvent) Kind() string { return string(BuildFailed) }

// BuildRecoveredEvent is emitted when a failing build passes again.
type BuildRecoveredEvent struct {
	RepositoryID repository.ID
	Change       Change
}

func (BuildRecoveredEvent) Kind() string { return string(BuildRecovered) }

// BuildStableEvent is emitted when a build keeps passing.
type BuildStableEvent struct {
	RepositoryID repository.ID
	Change       Change
}

func (BuildStableEvent) Kind() string { return string(BuildStable) }

// Events returns the events a check with this outcome emits: none for
// NoChange and NoBuildsFound, one otherwise.
func (o Outcome) Events(id repository.ID) []bus.Event {
	switch o.Kind {
	case BuildFailed:
		return []bus.Event{BuildFailedEvent{RepositoryID: id, Change: o.Change}}
	case BuildRecovered:
		return []bus.Event{BuildRecoveredEvent{RepositoryID: id, Change: o.Change}}
	case BuildStable:
		return []bus.Event{BuildStableEvent{RepositoryID: id, Change: o.Change}}
	}
	return nil
}

// NoBuildsFoundError rejects a check for a repository with no builds.
// It is an expected outcome, not a fault.
type NoBuildsFoundError struct {
	RepositoryID repository.ID
}

func (e *NoBuildsFoundError) Error() string {
	return fmt.Sprintf("no builds found for repository '%s'", e.RepositoryID)
}
