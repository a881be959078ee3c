// Package governor gates every remote provider call behind per-provider
// call and error limits (the kill switch).
package governor

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Provider identifies a remote dependency whose usage is metered.
type Provider string

const (
	ProviderExtraction Provider = "extraction"
	ProviderRewrite    Provider = "rewrite"
)

// Providers returns every metered provider.
func Providers() []Provider {
	return []Provider{ProviderExtraction, ProviderRewrite}
}

// TripScope controls which providers a breached limit disables.
type TripScope string

const (
	// TripScopeAll disables every provider when any limit is reached.
	TripScopeAll TripScope = "all"
	// TripScopeSingle disables only the provider whose limit was reached.
	TripScopeSingle TripScope = "single"
)

// LockMessage is reported while the kill switch is tripped.
const LockMessage = "KILL SWITCH: Max API calls/errors reached. App locked."

var (
	// ErrDisabled is returned when a provider is switched off by
	// configuration, validation, or a previous trip.
	ErrDisabled = eris.New("calls are disabled by kill switch")
	// ErrCallLimit is returned when a provider reached its call limit.
	ErrCallLimit = eris.New("call limit reached")
	// ErrErrorLimit is returned when a provider reached its error limit.
	ErrErrorLimit = eris.New("error limit reached")
)

// Limits are the thresholds for one provider.
type Limits struct {
	MaxCalls  int
	MaxErrors int
}

// FlagStore persists the enabled flag of each provider across restarts.
type FlagStore interface {
	GetProviderFlags(ctx context.Context) (map[string]bool, error)
	SetProviderFlags(ctx context.Context, flags map[string]bool) error
}

// Config configures a Governor.
type Config struct {
	Limits map[Provider]Limits
	Scope  TripScope
	// Allow is the configured on/off switch per provider.
	Allow map[Provider]bool
	// Issues reports validation problems that block a provider, such as a
	// missing credential. Nil means no problems.
	Issues func(Provider) []string
	// Store persists trip and reset flags. Optional.
	Store FlagStore
}

type counters struct {
	calls   int
	errors  int
	enabled bool
}

// Governor meters provider calls. It is safe for concurrent use.
type Governor struct {
	cfg Config

	mu      sync.Mutex
	state   map[Provider]*counters
	tripped string
}

// New creates a Governor with every provider enabled and zeroed counters.
func New(cfg Config) *Governor {
	if cfg.Scope == "" {
		cfg.Scope = TripScopeAll
	}
	g := &Governor{
		cfg:   cfg,
		state: make(map[Provider]*counters, len(Providers())),
	}
	for _, p := range Providers() {
		g.state[p] = &counters{enabled: true}
	}
	return g
}

// Load restores persisted enabled flags. A provider disabled by an earlier
// trip stays disabled until Reset.
func (g *Governor) Load(ctx context.Context) error {
	if g.cfg.Store == nil {
		return nil
	}
	flags, err := g.cfg.Store.GetProviderFlags(ctx)
	if err != nil {
		return eris.Wrap(err, "governor: load provider flags")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for name, enabled := range flags {
		if c, ok := g.state[Provider(name)]; ok {
			c.enabled = enabled
			if !enabled && g.tripped == "" {
				g.tripped = LockMessage
			}
		}
	}
	return nil
}

// Ticket is permission for exactly one remote call.
type Ticket struct {
	g        *Governor
	provider Provider
	once     sync.Once
}

// Done records the outcome of the call. A non-nil err counts toward the
// provider's error limit. Only the first call has any effect.
func (t *Ticket) Done(err error) {
	t.once.Do(func() {
		if err == nil {
			return
		}
		t.g.mu.Lock()
		t.g.state[t.provider].errors++
		t.g.mu.Unlock()
	})
}

// Authorize admits one call to p, or explains why it is refused. The call
// counter is incremented before returning a ticket. Reaching a limit trips
// the kill switch according to the configured scope.
func (g *Governor) Authorize(ctx context.Context, p Provider) (*Ticket, error) {
	g.mu.Lock()

	c, ok := g.state[p]
	if !ok {
		g.mu.Unlock()
		return nil, eris.Errorf("governor: unknown provider %q", p)
	}
	if !g.allowedLocked(p) {
		g.mu.Unlock()
		return nil, eris.Wrapf(ErrDisabled, "%s", p)
	}

	lim := g.cfg.Limits[p]
	var breach error
	switch {
	case c.calls >= lim.MaxCalls:
		breach = ErrCallLimit
	case c.errors >= lim.MaxErrors:
		breach = ErrErrorLimit
	}
	if breach != nil {
		flags := g.tripLocked(p)
		g.mu.Unlock()

		zap.L().Error("kill switch activated",
			zap.String("provider", string(p)),
			zap.String("reason", breach.Error()),
			zap.String("scope", string(g.cfg.Scope)),
		)
		g.persist(ctx, flags)
		return nil, eris.Wrapf(breach, "kill switch: %s", p)
	}

	c.calls++
	g.mu.Unlock()
	return &Ticket{g: g, provider: p}, nil
}

// tripLocked disables providers per scope and returns the flags to persist.
func (g *Governor) tripLocked(p Provider) map[string]bool {
	g.tripped = LockMessage
	for name, c := range g.state {
		if g.cfg.Scope == TripScopeAll || name == p {
			c.enabled = false
		}
	}
	return g.flagsLocked()
}

func (g *Governor) flagsLocked() map[string]bool {
	flags := make(map[string]bool, len(g.state))
	for name, c := range g.state {
		flags[string(name)] = c.enabled
	}
	return flags
}

func (g *Governor) persist(ctx context.Context, flags map[string]bool) {
	if g.cfg.Store == nil {
		return
	}
	if err := g.cfg.Store.SetProviderFlags(ctx, flags); err != nil {
		zap.L().Warn("governor: failed to persist provider flags", zap.Error(err))
	}
}

// Reset zeroes every counter and re-enables every provider. Providers with
// validation issues stay blocked until the issues are fixed.
func (g *Governor) Reset(ctx context.Context) error {
	g.mu.Lock()
	for _, c := range g.state {
		c.calls = 0
		c.errors = 0
		c.enabled = true
	}
	g.tripped = ""
	flags := g.flagsLocked()
	g.mu.Unlock()

	zap.L().Info("usage counters reset")

	if g.cfg.Store == nil {
		return nil
	}
	if err := g.cfg.Store.SetProviderFlags(ctx, flags); err != nil {
		return eris.Wrap(err, "governor: persist reset flags")
	}
	return nil
}

func (g *Governor) allowedLocked(p Provider) bool {
	c, ok := g.state[p]
	if !ok || !c.enabled || !g.cfg.Allow[p] {
		return false
	}
	return len(g.issues(p)) == 0
}

func (g *Governor) issues(p Provider) []string {
	if g.cfg.Issues == nil {
		return nil
	}
	return g.cfg.Issues(p)
}

// ProviderUsage is the metered state of one provider.
type ProviderUsage struct {
	Provider  Provider `json:"provider"`
	Calls     int      `json:"calls"`
	Errors    int      `json:"errors"`
	MaxCalls  int      `json:"max_calls"`
	MaxErrors int      `json:"max_errors"`
	Enabled   bool     `json:"enabled"`
	Allowed   bool     `json:"allowed"`
}

// Snapshot is a point-in-time view of the governor.
type Snapshot struct {
	Providers []ProviderUsage `json:"providers"`
	Scope     TripScope       `json:"scope"`
	Tripped   bool            `json:"tripped"`
	Issues    []string        `json:"issues,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Locked reports whether the application should refuse to start runs.
func (s Snapshot) Locked() bool {
	return s.Tripped || len(s.Issues) > 0
}

// Usage returns the entry for p.
func (s Snapshot) Usage(p Provider) ProviderUsage {
	for _, u := range s.Providers {
		if u.Provider == p {
			return u
		}
	}
	return ProviderUsage{Provider: p}
}

// Snapshot returns the current counters and lock state.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{Scope: g.cfg.Scope, Tripped: g.tripped != ""}
	seen := make(map[string]bool)
	for _, p := range Providers() {
		c := g.state[p]
		lim := g.cfg.Limits[p]
		snap.Providers = append(snap.Providers, ProviderUsage{
			Provider:  p,
			Calls:     c.calls,
			Errors:    c.errors,
			MaxCalls:  lim.MaxCalls,
			MaxErrors: lim.MaxErrors,
			Enabled:   c.enabled,
			Allowed:   g.allowedLocked(p),
		})
		for _, issue := range g.issues(p) {
			if !seen[issue] {
				seen[issue] = true
				snap.Issues = append(snap.Issues, issue)
			}
		}
	}
	sort.Strings(snap.Issues)

	switch {
	case snap.Tripped:
		snap.Message = g.tripped
	case len(snap.Issues) > 0:
		snap.Message = strings.Join(snap.Issues, " ")
	}
	return snap
}
