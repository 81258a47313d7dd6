// Package session tracks recent tool invocations for one agent
// session and derives a working phase from them, which is what
// resolves verbosity="auto" into a concrete level.
package session

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
)

// DefaultRingSize is how many recent tool calls the state keeps.
const DefaultRingSize = 20

// Kind classifies a tool call for phase detection.
type Kind string

const (
	KindRead   Kind = "read"
	KindSearch Kind = "search"
	KindEdit   Kind = "edit"
	KindMemory Kind = "memory"
)

// Phase is the inferred working mode of the session.
type Phase string

const (
	PhaseExploration    Phase = "exploration"
	PhaseImplementation Phase = "implementation"
	PhaseFocusedWork    Phase = "focused_work"
)

// Verbosity is the response detail level a tool call requests or
// resolves to.
type Verbosity string

const (
	VerbosityMinimal  Verbosity = "minimal"
	VerbosityNormal   Verbosity = "normal"
	VerbosityDetailed Verbosity = "detailed"
	VerbosityAuto     Verbosity = "auto"
)

// ToolCall is one recorded invocation.
type ToolCall struct {
	ID   string
	Tool string
	Kind Kind
	// File is the affected file for reads and edits, "" otherwise.
	File string
	At   time.Time
}

// Signals are the derived counts the phase rules consume.
type Signals struct {
	Edits            int
	Searches         int
	Reads            int
	DistinctFiles    int
	RepeatedFileHits int
	// MaxSameFileOps is the highest number of recent operations
	// touching a single file, used by the focused_work rule.
	MaxSameFileOps int
	Total          int
}

// State is the per-session invocation ring. All methods are safe for
// concurrent use; operations are constant time in the ring size.
type State struct {
	mu    sync.Mutex
	id    string
	calls []ToolCall
	size  int
}

// New returns an empty State with the default ring size.
func New() *State {
	return NewWithSize(DefaultRingSize)
}

// NewWithSize returns an empty State keeping the last size calls.
func NewWithSize(size int) *State {
	if size < 1 {
		size = DefaultRingSize
	}
	id, _ := uuid.NewV4()
	return &State{id: id.String(), size: size}
}

// ID returns the session identifier.
func (s *State) ID() string { return s.id }

// Record appends a tool invocation, evicting the oldest entry once
// the ring is full.
func (s *State) Record(tool string, kind Kind, file string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	callID, _ := uuid.NewV4()
	s.calls = append(s.calls, ToolCall{
		ID:   callID.String(),
		Tool: tool,
		Kind: kind,
		File: file,
		At:   time.Now(),
	})
	if len(s.calls) > s.size {
		s.calls = s.calls[len(s.calls)-s.size:]
	}
}

// Recent returns a copy of the recorded calls, oldest first.
func (s *State) Recent() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// Signals computes the derived counts over the current ring.
func (s *State) Signals() Signals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signalsLocked()
}

func (s *State) signalsLocked() Signals {
	sig := Signals{Total: len(s.calls)}
	fileHits := make(map[string]int)
	for _, c := range s.calls {
		switch c.Kind {
		case KindEdit:
			sig.Edits++
		case KindSearch:
			sig.Searches++
		case KindRead:
			sig.Reads++
		}
		if c.File != "" {
			fileHits[c.File]++
		}
	}
	sig.DistinctFiles = len(fileHits)
	for _, n := range fileHits {
		if n > 1 {
			sig.RepeatedFileHits++
		}
		if n > sig.MaxSameFileOps {
			sig.MaxSameFileOps = n
		}
	}
	return sig
}

// Phase infers the current working phase and returns the rule that
// produced it, so callers can echo both in response metadata.
func (s *State) Phase() (Phase, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sig := s.signalsLocked()
	switch {
	case sig.Total < 3:
		return PhaseExploration, "fewer than 3 recorded calls, defaulting to exploration"
	case sig.MaxSameFileOps >= 5:
		return PhaseFocusedWork, "5 or more recent operations touch the same file"
	case sig.Edits > sig.Searches:
		return PhaseImplementation, "edits outnumber searches"
	case sig.Searches+sig.Reads >= 3*sig.Edits:
		return PhaseExploration, "searches and reads at least 3x edits"
	default:
		return PhaseImplementation, "mixed activity, defaulting to implementation"
	}
}

// ResolveVerbosity maps a requested verbosity to a concrete level.
// Explicit levels pass through unchanged; "auto" follows the phase.
func (s *State) ResolveVerbosity(requested Verbosity) (Verbosity, string) {
	if requested != VerbosityAuto && requested != "" {
		return requested, "explicitly requested"
	}

	phase, rule := s.Phase()
	switch phase {
	case PhaseFocusedWork:
		return VerbosityDetailed, "focused_work phase: " + rule
	case PhaseImplementation:
		return VerbosityNormal, "implementation phase: " + rule
	default:
		return VerbosityMinimal, "exploration phase: " + rule
	}
}
