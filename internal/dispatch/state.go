package dispatch

import "fmt"

// State is the loop's lifecycle position.
type State int32

const (
	StateAwaitingQuorum State = iota
	StateSelecting
	StatePlaying
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingQuorum:
		return "awaiting_quorum"
	case StateSelecting:
		return "selecting"
	case StatePlaying:
		return "playing"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
