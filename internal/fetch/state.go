package fetch

import "fmt"

// State is where a tile is in its fetch lifecycle.
type State int

const (
	Pending State = iota
	Fetching
	Backoff
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Backoff:
		return "backoff"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event drives a Status from one State to the next.
type Event int

const (
	EventDispatch  Event = iota // a worker picked the tile up
	EventSuccess                // payload fetched and validated
	EventTransient              // retryable error
	EventPermanent              // definitive error or invalid payload
	EventWake                   // backoff delay elapsed
	EventCancel                 // context canceled
)

// Status is the state of one tile plus the number of network attempts made.
// In Backoff, Attempt is the n of Backoff(n).
type Status struct {
	State   State
	Attempt int
}

// Terminal reports whether no further events apply.
func (s Status) Terminal() bool {
	return s.State == Succeeded || s.State == Failed
}

// Next applies ev. maxRetries is the number of retries allowed after the
// first attempt. ok is false when ev does not apply to the current state.
func (s Status) Next(ev Event, maxRetries int) (next Status, ok bool) {
	if s.Terminal() {
		return s, false
	}
	if ev == EventCancel {
		return Status{State: Failed, Attempt: s.Attempt}, true
	}

	switch s.State {
	case Pending:
		if ev == EventDispatch {
			return Status{State: Fetching, Attempt: 1}, true
		}
	case Fetching:
		switch ev {
		case EventSuccess:
			return Status{State: Succeeded, Attempt: s.Attempt}, true
		case EventPermanent:
			return Status{State: Failed, Attempt: s.Attempt}, true
		case EventTransient:
			if s.Attempt <= maxRetries {
				return Status{State: Backoff, Attempt: s.Attempt}, true
			}
			return Status{State: Failed, Attempt: s.Attempt}, true
		}
	case Backoff:
		if ev == EventWake {
			return Status{State: Fetching, Attempt: s.Attempt + 1}, true
		}
	}
	return s, false
}

func eventFor(c Class) Event {
	switch c {
	case ClassOK:
		return EventSuccess
	case ClassPermanent:
		return EventPermanent
	case ClassCanceled:
		return EventCancel
	}
	return EventTransient
}
