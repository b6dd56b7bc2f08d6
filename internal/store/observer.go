package store

import "time"

// Operation names a committed mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpMove   Operation = "move"
	OpDelete Operation = "delete"
)

// Event describes one committed mutation of one object. A cascading
// delete emits one event per removed or rewritten object.
type Event struct {
	Root       string
	ObjectID   string
	Kind       string
	Op         Operation
	FromStatus string
	ToStatus   string
	Path       string
	At         time.Time
}

// Observer is notified after a mutation has been committed and verified.
// It's an optional dependency: the store works fine without observers.
// Implementations must not block and must not fail the write.
type Observer interface {
	OnCommit(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnCommit calls f(ev).
func (f ObserverFunc) OnCommit(ev Event) { f(ev) }
