// Package build classifies CI build reports into state transitions and
// tracks the last known build state of every repository.
package build

import (
	"chatbot/internal/chat"
)

// Build statuses reported by CI backends
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusErrored = "errored"
)

// Commit is the commit a build ran against.
type Commit struct {
	SHA         string
	Author      string
	Message     string
	CompareURL  string
	CommittedAt string
}

// Report is one finished build as returned by a CI backend.
type Report struct {
	RepositorySlug string
	ID             int64
	Number         string
	Status         string
	PreviousStatus string
	WebURL         string
	Commit         Commit
}

// State is the normalized status of a build.
type State string

const (
	Passing State = "PASSING"
	Failing State = "FAILING"
)

// BuildState is a normalized report tagged with the chat space that
// receives notifications about it.
type BuildState struct {
	State     State
	Build     Report
	ChatSpace chat.SpaceID
}

// StateOf normalizes report. Only "passed" counts as passing; every other
// terminal status is a failure.
func StateOf(report Report, space chat.SpaceID) BuildState {
	state := Failing
	if report.Status == StatusPassed {
		state = Passing
	}
	return BuildState{
		State:     state,
		Build:     report,
		ChatSpace: space,
	}
}
