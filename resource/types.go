package resource

// Handle is an opaque reference to a value in a table.
// Handle 0 is reserved and always invalid.
//
// The low 32 bits hold the slot index plus one, the high 32 bits hold the
// slot generation. A handle whose slot has been reused no longer resolves.
type Handle uint64

// Index returns the slot part of the handle.
func (h Handle) Index() uint32 { return uint32(h) }

// Generation returns the reuse counter of the handle.
func (h Handle) Generation() uint32 { return uint32(h >> 32) }

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

// Event types for lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a lifecycle event.
type Event struct {
	Handle Handle
	Type   EventType
}

// Observer receives notifications about lifecycle events.
// Observers are called with no table lock held.
type Observer interface {
	OnResourceEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

func (f ObserverFunc) OnResourceEvent(e Event) { f(e) }

// Dropper is optionally implemented by values that need cleanup when they
// leave the table.
type Dropper interface {
	Drop()
}
