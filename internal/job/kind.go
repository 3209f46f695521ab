package job

import (
	"fmt"
	"time"
)

// Kind classifies jobs for the scheduler.
type Kind int

const (
	// CalcJob renders frame data.
	CalcJob Kind = iota
	// LoadJob pulls source media into buffers.
	LoadJob
	// MetaJob plans further jobs, e.g. the next chunk of a stream.
	MetaJob
	// DummyJob does nothing. Emitted by the NOP ticket.
	DummyJob
)

func (k Kind) String() string {
	switch k {
	case CalcJob:
		return "CALC"
	case LoadJob:
		return "LOAD"
	case MetaJob:
		return "META"
	case DummyJob:
		return "DUMMY"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps "CALC", "LOAD", "META" and "DUMMY" back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := CalcJob; k <= DummyJob; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown job kind %q", s)
}

// InvocationKey identifies one invocation instance: the ticket's seed plus
// the frame and channel the job targets.
type InvocationKey struct {
	Seed        uint64
	FrameNumber int64
	Channel     uint
}

func (k InvocationKey) String() string {
	return fmt.Sprintf("%016x/#%d/ch%d", k.Seed, k.FrameNumber, k.Channel)
}

// Parameter is handed to the functor on invocation and failure.
type Parameter struct {
	NominalTime time.Duration
	Key         InvocationKey
}
