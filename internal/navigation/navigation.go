// Package navigation abstracts "go to another view" for the portal and CLI.
package navigation

import "sync"

// Well-known views.
const (
	LoginPath = "/auth/login"
	HomePath  = "/dashboard"
)

// Mode distinguishes a client-side route change from a full reload that
// discards any view state.
type Mode int

const (
	Soft Mode = iota
	Hard
)

func (m Mode) String() string {
	if m == Hard {
		return "hard"
	}
	return "soft"
}

// Navigator moves the user to another view.
type Navigator interface {
	Navigate(path string, mode Mode)
}

// Func adapts a function to Navigator.
type Func func(path string, mode Mode)

func (f Func) Navigate(path string, mode Mode) { f(path, mode) }

// Event is one recorded navigation.
type Event struct {
	Path string
	Mode Mode
}

// Recorder remembers navigations until they are consumed. The portal uses it
// to turn a hard navigation raised deep inside an API call into a redirect.
type Recorder struct {
	mu      sync.Mutex
	history []Event
	pending *Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Navigate(path string, mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev := Event{Path: path, Mode: mode}
	r.history = append(r.history, ev)
	if mode == Hard {
		r.pending = &ev
	}
}

// TakePending returns and clears the last unconsumed hard navigation.
func (r *Recorder) TakePending() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Event{}, false
	}
	ev := *r.pending
	r.pending = nil
	return ev, true
}

// History returns every navigation seen so far.
func (r *Recorder) History() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.history...)
}
