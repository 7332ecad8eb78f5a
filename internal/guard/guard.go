// Package guard decides whether a view that depends on the session may be
// shown, must redirect, or must wait for the session to be hydrated.
package guard

import (
	"github.com/zhouzirui/z-pay/client/internal/navigation"
	"github.com/zhouzirui/z-pay/client/internal/session"
)

// Phase is the guard lifecycle: Mounting → Hydrating → Decided.
type Phase int

const (
	Mounting Phase = iota
	Hydrating
	Decided
)

func (p Phase) String() string {
	switch p {
	case Mounting:
		return "mounting"
	case Hydrating:
		return "hydrating"
	default:
		return "decided"
	}
}

// Requirement is what a guarded view expects of the session.
type Requirement int

const (
	// RequireAuth views redirect anonymous users to the login view.
	RequireAuth Requirement = iota
	// RequireAnonymous views (landing, login) redirect signed-in users home.
	RequireAnonymous
)

// Action is what the view should do right now.
type Action int

const (
	ShowPlaceholder Action = iota
	Redirect
	Render
)

// Decision is the outcome of one evaluation. Target is set for Redirect.
type Decision struct {
	Action Action
	Target string
}

// SessionView is the read side of the session store.
type SessionView interface {
	Snapshot() session.State
}

// Guard is evaluated on every render of one view. It is not safe for
// concurrent use; each view instance owns its guard.
type Guard struct {
	requirement Requirement
	sessions    SessionView
	navigator   navigation.Navigator
	loginPath   string
	homePath    string

	phase Phase
	last  Decision
}

// Option configures a Guard.
type Option func(*Guard)

// WithPaths overrides the login and home views.
func WithPaths(login, home string) Option {
	return func(g *Guard) {
		if login != "" {
			g.loginPath = login
		}
		if home != "" {
			g.homePath = home
		}
	}
}

// New returns a guard in the Mounting phase. nav receives soft navigations
// when the decision becomes a redirect; it may be nil.
func New(req Requirement, sessions SessionView, nav navigation.Navigator, opts ...Option) *Guard {
	g := &Guard{
		requirement: req,
		sessions:    sessions,
		navigator:   nav,
		loginPath:   navigation.LoginPath,
		homePath:    navigation.HomePath,
		last:        Decision{Action: ShowPlaceholder},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Phase returns the current phase.
func (g *Guard) Phase() Phase {
	return g.phase
}

// Mounted records that the view rendered once. Until then nothing but the
// placeholder is shown.
func (g *Guard) Mounted() {
	if g.phase == Mounting {
		g.phase = Hydrating
	}
}

// Evaluate returns what to show. Before the session is hydrated it is always
// the placeholder, so a default empty session never triggers a redirect.
func (g *Guard) Evaluate() Decision {
	if g.phase == Mounting {
		return g.record(Decision{Action: ShowPlaceholder})
	}

	state := g.sessions.Snapshot()
	if g.phase == Hydrating {
		if !state.IsHydrated {
			return g.record(Decision{Action: ShowPlaceholder})
		}
		g.phase = Decided
	}

	switch {
	case g.requirement == RequireAuth && !state.IsAuthenticated:
		return g.record(Decision{Action: Redirect, Target: g.loginPath})
	case g.requirement == RequireAnonymous && state.IsAuthenticated:
		return g.record(Decision{Action: Redirect, Target: g.homePath})
	default:
		return g.record(Decision{Action: Render})
	}
}

// record navigates once per transition into a redirect.
func (g *Guard) record(d Decision) Decision {
	if d.Action == Redirect && d != g.last && g.navigator != nil {
		g.navigator.Navigate(d.Target, navigation.Soft)
	}
	g.last = d
	return d
}
