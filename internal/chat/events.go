package chat

// Event kinds
const (
	KindThreadCreated     = "ThreadCreated"
	KindMessageCreated    = "MessageCreated"
	KindThreadInitialized = "ThreadInitialized"
	KindMessageAdded      = "MessageAdded"
)

// ThreadCreated reports that a notification opened a new thread.
type ThreadCreated struct {
	ThreadID ThreadID
	Resource ThreadResource
	SpaceID  SpaceID
}

func (ThreadCreated) Kind() string { return KindThreadCreated }

// MessageCreated reports that a notification message was posted.
type MessageCreated struct {
	MessageID MessageID
	ThreadID  ThreadID
	SpaceID   SpaceID
}

func (MessageCreated) Kind() string { return KindMessageCreated }

// ThreadInitialized is emitted once, when a thread learns its resource.
type ThreadInitialized struct {
	ThreadID ThreadID
	Resource ThreadResource
	SpaceID  SpaceID
}

func (ThreadInitialized) Kind() string { return KindThreadInitialized }

// MessageAdded is emitted when a message id is appended to a thread.
type MessageAdded struct {
	MessageID MessageID
	ThreadID  ThreadID
}

func (MessageAdded) Kind() string { return KindMessageAdded }
