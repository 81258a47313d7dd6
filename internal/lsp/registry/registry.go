// Package registry implements the Language Backend Registry: a pure
// lookup from a language tag to the descriptor needed to launch and
// drive that language's LSP backend.
package registry

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/ternarybob/serena/internal/errs"
)

// DefaultTimeout is the per-request timeout a descriptor should use
// when it has no stronger opinion. It is never applied implicitly:
// Register refuses a zero RequestTimeout outright, so a caller
// constructing a descriptor must name this (or another value)
// explicitly.
const DefaultTimeout = 240 * time.Second

// BackendDescriptor is everything the LSP Transport and SLS need to
// launch and talk to one language's backend.
type BackendDescriptor struct {
	LanguageTag string

	// Commands is tried in order; the first name found on PATH wins.
	// Letting a language have more than one candidate (e.g. python's
	// pyright then pylsp) avoids hard-failing a whole language when
	// the preferred implementation isn't installed.
	Commands []string
	Args     []string

	FileExtensions []string
	InitOptions    map[string]any
	TraceLevel     string
	RequestTimeout time.Duration

	// SupportsLSP is false for languages with no useful language
	// server (e.g. plain-text formats); SLS is skipped entirely for
	// them and Resolve is never called.
	SupportsLSP bool
}

// BackendUnavailable reports that none of a descriptor's candidate
// executables could be found on PATH.
type BackendUnavailable struct {
	LanguageTag string
	Tried       []string
}

func (e *BackendUnavailable) Error() string {
	return fmt.Sprintf("no LSP backend available for %q: tried %v, none found on PATH", e.LanguageTag, e.Tried)
}

// ResolvedBackend is a BackendDescriptor with its executable path
// resolved, ready to hand to the LSP Transport.
type ResolvedBackend struct {
	LanguageTag    string
	Executable     string
	Args           []string
	InitOptions    map[string]any
	TraceLevel     string
	RequestTimeout time.Duration
}

// Registry maps language tags to backend descriptors.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]*BackendDescriptor
	lookPath    func(string) (string, error)
}

// New returns a Registry pre-populated with the descriptors covering
// the languages this service ships defaults for.
func New() *Registry {
	r := &Registry{
		descriptors: make(map[string]*BackendDescriptor),
		lookPath:    exec.LookPath,
	}
	for _, d := range defaultDescriptors() {
		// Defaults are constructed correctly by this package; a
		// failure here is a programming error, not a runtime one.
		if err := r.Register(d); err != nil {
			panic(fmt.Sprintf("registry: invalid default descriptor %q: %v", d.LanguageTag, err))
		}
	}
	return r
}

func defaultDescriptors() []*BackendDescriptor {
	return []*BackendDescriptor{
		{
			LanguageTag:    "go",
			Commands:       []string{"gopls"},
			Args:           []string{"serve"},
			FileExtensions: []string{".go"},
			TraceLevel:     "off",
			RequestTimeout: DefaultTimeout,
			SupportsLSP:    true,
		},
		{
			LanguageTag:    "python",
			Commands:       []string{"pyright-langserver", "pylsp"},
			Args:           []string{"--stdio"},
			FileExtensions: []string{".py", ".pyi"},
			TraceLevel:     "off",
			RequestTimeout: DefaultTimeout,
			SupportsLSP:    true,
		},
		{
			LanguageTag:    "markdown",
			FileExtensions: []string{".md", ".markdown"},
			SupportsLSP:    false,
		},
	}
}

// Register adds or replaces the descriptor for a language tag. A
// descriptor that supports LSP but carries a zero RequestTimeout is
// rejected: every outbound request must have a finite timeout, and a
// misconfigured backend with none must be refused rather than allowed
// to hang forever.
func (r *Registry) Register(d *BackendDescriptor) error {
	if d.LanguageTag == "" {
		return errs.NewValidationError("LanguageTag", "must not be empty")
	}
	if d.SupportsLSP && d.RequestTimeout <= 0 {
		return errs.NewValidationError("RequestTimeout", "must be > 0 for a backend that supports LSP")
	}
	if d.SupportsLSP && len(d.Commands) == 0 {
		return errs.NewValidationError("Commands", "must list at least one candidate executable for a backend that supports LSP")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.LanguageTag] = d
	return nil
}

// Get returns the descriptor registered for a language tag.
func (r *Registry) Get(languageTag string) (*BackendDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.descriptors[languageTag]
	if !ok {
		return nil, errs.NewNotFoundError("language backend", languageTag)
	}
	return d, nil
}

// Languages returns every registered language tag.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.descriptors))
	for tag := range r.descriptors {
		tags = append(tags, tag)
	}
	return tags
}

// Resolve finds the first available executable for a language's
// descriptor and returns a ResolvedBackend ready for the Transport.
// Calling Resolve for a descriptor with SupportsLSP=false is a
// programming error the caller should have avoided by checking
// SupportsLSP first; it returns BackendUnavailable rather than
// panicking.
func (r *Registry) Resolve(languageTag string) (*ResolvedBackend, error) {
	d, err := r.Get(languageTag)
	if err != nil {
		return nil, err
	}
	if !d.SupportsLSP {
		return nil, &BackendUnavailable{LanguageTag: languageTag, Tried: nil}
	}

	for _, cmd := range d.Commands {
		if path, err := r.lookPath(cmd); err == nil {
			return &ResolvedBackend{
				LanguageTag:    d.LanguageTag,
				Executable:     path,
				Args:           d.Args,
				InitOptions:    d.InitOptions,
				TraceLevel:     d.TraceLevel,
				RequestTimeout: d.RequestTimeout,
			}, nil
		}
	}
	return nil, &BackendUnavailable{LanguageTag: languageTag, Tried: d.Commands}
}
