package port

// Event is a plain post-commit record handed to the external notifier.
type Event struct {
	Recipient string
	Type      string
	Payload   map[string]any
}

// Notifier receives events after the mutating transaction has committed.
// Implementations must never block the caller; failures are theirs to log.
type Notifier interface {
	Enqueue(e Event)
}
