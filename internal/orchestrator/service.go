package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/platform/metrics"
	"scrobble-orchestrator/internal/play"
)

// Defaults applied by NewEngine to zero Config fields.
const (
	DefaultStaleAfter    = 3 * time.Minute
	DefaultOrphanAfter   = 15 * time.Minute
	DefaultOrphanGrace   = 5 * time.Minute
	DefaultDedupWindow   = 2 * time.Minute
	DefaultSeekTolerance = 3 * time.Second
	DefaultSweepInterval = 30 * time.Second
)

// Config holds the engine policies.
type Config struct {
	// MatchThreshold is the sameness score (0-100) for "same listen".
	MatchThreshold float64
	// StaleAfter is the silence after which an unfinished play is stale and
	// flushed if it already qualifies.
	StaleAfter time.Duration
	// OrphanAfter is the silence after which a player is considered gone.
	OrphanAfter time.Duration
	// OrphanGrace is how long an orphaned player is kept before removal.
	OrphanGrace time.Duration
	// DedupWindow bounds how recently a player must have been updated for an
	// event from an unseen platform to be taken as a duplicate of its play.
	DedupWindow time.Duration
	// SeekTolerance is the slack allowed between position movement and
	// elapsed time before a jump is treated as a seek.
	SeekTolerance time.Duration
	// Completion decides whether a listen counts.
	Completion CompletionPolicy
	// HoldUntilStop keeps a qualifying play open until a stop, track change,
	// staleness or drain instead of completing it as soon as it qualifies.
	HoldUntilStop bool
	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 100 {
		c.MatchThreshold = play.DefaultMatchThreshold
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.OrphanAfter <= 0 {
		c.OrphanAfter = DefaultOrphanAfter
	}
	if c.OrphanAfter < c.StaleAfter {
		c.OrphanAfter = c.StaleAfter
	}
	if c.OrphanGrace <= 0 {
		c.OrphanGrace = DefaultOrphanGrace
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.SeekTolerance <= 0 {
		c.SeekTolerance = DefaultSeekTolerance
	}
	if c.Completion == (CompletionPolicy{}) {
		c.Completion = DefaultCompletionPolicy
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Engine routes events to players, suppresses cross-source duplicates and
// finalizes completed listens. It is safe for concurrent use: events for one
// platform are serialized by the player lock, different platforms proceed in
// parallel.
type Engine struct {
	cfg      Config
	registry *Registry
	matcher  play.Matcher
	decider  *Decider
	emitter  Emitter
	log      *slog.Logger
	metrics  *metrics.Metrics

	sourcesMu sync.RWMutex
	sources   map[string]*SourceHandle
}

// NewEngine returns an Engine using registry and emitting finalized listens
// to emitter. Metrics and emitter may be nil.
func NewEngine(cfg Config, registry *Registry, emitter Emitter, log *slog.Logger, m *metrics.Metrics) *Engine {
	cfg = cfg.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	return &Engine{
		cfg:      cfg,
		registry: registry,
		matcher:  play.NewMatcher(cfg.MatchThreshold),
		decider:  NewDecider(cfg.Completion),
		emitter:  emitter,
		log:      logger.Component(log, "engine"),
		metrics:  m,
		sources:  make(map[string]*SourceHandle),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// RegisterSource adds a source and returns its handle.
func (e *Engine) RegisterSource(sc SourceConfig) (*SourceHandle, error) {
	name := strings.TrimSpace(sc.Name)
	if name == "" {
		return nil, ErrInvalidSourceName
	}
	kind, err := ParseSourceKind(string(sc.Kind))
	if err != nil {
		return nil, err
	}

	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()
	if _, ok := e.sources[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSource, name)
	}
	h := &SourceHandle{
		id:     SourceIdentity{Name: name, Kind: kind},
		filter: NewFilter(sc.Filter),
		engine: e,
	}
	e.sources[name] = h

	log := e.log.With(slog.String("source", name), slog.String("kind", string(kind)))
	if h.filter.Unrestricted() {
		log.Warn("source registered with no user, library or server filters; every play will be tracked")
	} else {
		log.Info("source registered",
			slog.Any("users", h.filter.Users),
			slog.Any("libraries", h.filter.Libraries),
			slog.Any("servers", h.filter.Servers))
	}
	return h, nil
}

// Source returns the handle registered under name.
func (e *Engine) Source(name string) (*SourceHandle, bool) {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	h, ok := e.sources[name]
	return h, ok
}

// Sources returns the identities of every registered source.
func (e *Engine) Sources() []SourceIdentity {
	e.sourcesMu.RLock()
	defer e.sourcesMu.RUnlock()
	out := make([]SourceIdentity, 0, len(e.sources))
	for _, h := range e.sources {
		out = append(out, h.id)
	}
	return out
}

// Ingest runs ev through the filter gate, discovery/dedup and the player
// state machine. Listens finalized on the way are emitted and returned.
func (e *Engine) Ingest(ev play.Event) Result {
	now := e.cfg.Now()
	res := e.ingest(ev, now)
	for _, l := range res.Listens {
		e.emit(l)
	}
	e.record(ev, res)
	return res
}

func (e *Engine) ingest(ev play.Event, now time.Time) Result {
	pid := ev.PlatformID()

	h, ok := e.Source(ev.Source)
	if !ok {
		return Result{Outcome: OutcomeFiltered, Reason: ReasonUnknownSource, PlatformID: pid}
	}

	if err := ev.Validate(); err != nil {
		reason := ReasonMissingArtist
		switch {
		case errors.Is(err, play.ErrMissingTrack):
			reason = ReasonMissingTrack
		case errors.Is(err, play.ErrFieldTooLong):
			reason = ReasonFieldTooLong
		}
		e.logFilter(h.filter.LogPolicy, "event rejected", ev, reason, err.Error())
		return Result{Outcome: OutcomeRejected, Reason: reason, PlatformID: pid}
	}

	ev.Kind = ev.Kind.Normalize()
	verdict := h.filter.Check(ev)
	for _, notice := range verdict.Notices {
		e.logFilter(h.filter.LogPolicy, "filter metadata missing", ev, ReasonNone, notice)
	}
	if !verdict.Accepted {
		e.logFilter(h.filter.LogPolicy, "event filtered", ev, verdict.Reason, verdict.Detail)
		return Result{Outcome: OutcomeFiltered, Reason: verdict.Reason, PlatformID: pid}
	}

	if ev.PlayedAt.IsZero() {
		ev.PlayedAt = now
	}
	tracked := play.NewTracked(ev)

	for {
		r := e.registry.Resolve(pid, ev.Source, tracked, now, e.cfg.DedupWindow, e.matcher.Same)
		if r.duplicateOf != nil {
			return Result{
				Outcome:    OutcomeDuplicate,
				Reason:     ReasonCrossSource,
				PlatformID: pid,
				MatchedID:  r.duplicateOf.platformID,
			}
		}

		p := r.player
		p.mu.Lock()
		if p.removed {
			// dropped by a sweep or drain between Resolve and Lock
			p.mu.Unlock()
			continue
		}
		res := e.apply(p, ev, tracked, r.created, now)
		p.mu.Unlock()
		return res
	}
}

// apply advances p's state machine with ev. Caller must hold p.mu.
func (e *Engine) apply(p *Player, ev play.Event, tracked play.Tracked, created bool, now time.Time) Result {
	res := Result{PlatformID: p.platformID}
	p.playerLastUpdatedAt = now

	switch {
	case created:
		res.Outcome = OutcomeCreated
		p.progress(ev, now, e.cfg.SeekTolerance)

	case !e.matcher.Same(p.play, tracked):
		if l, ok := e.finalize(p, now); ok {
			res.Listens = append(res.Listens, l)
		}
		res.Outcome = OutcomeTrackChanged
		res.Reason = ReasonTrackChange
		p.begin(tracked, now)
		p.progress(ev, now, e.cfg.SeekTolerance)

	case p.restarted(ev):
		res.Outcome = OutcomeRepeat
		p.begin(tracked, now)
		p.progress(ev, now, e.cfg.SeekTolerance)

	case p.status.Calculated == StatusCompleted:
		p.play = p.play.Merge(tracked)
		p.progress(ev, now, e.cfg.SeekTolerance)
		res.Outcome = OutcomeProgress
		res.Reason = ReasonAlreadyCompleted
		res.Status = p.status.Calculated
		return res

	default:
		p.play = p.play.Merge(tracked)
		p.progress(ev, now, e.cfg.SeekTolerance)
		p.status.Calculated = StatusInProgress
		res.Outcome = OutcomeProgress
	}

	reason := ReasonNone
	switch {
	case ev.Kind == play.KindScrobble:
		p.confirmed = true
		reason = ReasonScrobble
	case ev.Kind == play.KindStop:
		reason = ReasonStop
	case !e.cfg.HoldUntilStop && e.decider.qualifies(p):
		reason = ReasonThreshold
	}
	if reason != ReasonNone {
		if l, ok := e.finalize(p, now); ok {
			res.Listens = append(res.Listens, l)
		}
		if res.Outcome == OutcomeProgress || res.Outcome == OutcomeCreated {
			res.Outcome = OutcomeCompleted
			res.Reason = reason
		}
	}
	res.Status = p.status.Calculated
	return res
}

// Sweep applies time-based transitions at now: unfinished plays silent for
// StaleAfter become stale and are finalized if they already qualify; players
// silent for OrphanAfter are orphaned; orphans older than OrphanGrace are
// removed. It returns the listens finalized by the sweep.
func (e *Engine) Sweep(now time.Time) []play.Listen {
	var (
		listens []play.Listen
		remove  []play.PlatformID
		views   []PlayerView
	)
	for _, p := range e.registry.Snapshot() {
		p.mu.Lock()
		if p.removed {
			p.mu.Unlock()
			continue
		}
		idle := now.Sub(p.lastUpdatedAt)

		if !p.finalized && p.status.Calculated != StatusCompleted && idle > e.cfg.StaleAfter && !p.status.Stale {
			p.status.Stale = true
			if e.decider.qualifies(p) {
				if l, ok := e.finalize(p, now); ok {
					listens = append(listens, l)
				}
			}
		}
		if idle > e.cfg.OrphanAfter && !p.status.Orphaned {
			p.status.Orphaned = true
			p.orphanedAt = now
		}
		if p.status.Orphaned && now.Sub(p.orphanedAt) > e.cfg.OrphanGrace {
			remove = append(remove, p.platformID)
		} else {
			views = append(views, p.view())
		}
		p.mu.Unlock()
	}

	if len(remove) > 0 {
		e.registry.Remove(remove...)
		e.log.Debug("orphaned players removed", slog.Int("count", len(remove)))
	}
	for _, l := range listens {
		e.log.Info("listen finalized",
			slog.String("platform_id", string(l.PlatformID)),
			slog.String("reason", string(ReasonStale)),
			slog.String("play", l.Track),
			slog.Float64("listened", l.ListenedFor))
		e.emit(l)
		e.countFinalized()
	}
	counts := countByStatus(views)
	if e.metrics != nil {
		e.metrics.SetActivePlayers(len(views))
	}
	e.log.Debug("sweep complete",
		slog.Int("players", len(views)),
		slog.Int("in_progress", counts[StatusInProgress]),
		slog.Int("completed", counts[StatusCompleted]))
	return listens
}

// Run sweeps on every interval tick until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(e.cfg.Now())
		}
	}
}

// Drain handles a source shutdown: every unfinished play of the source that
// already qualifies is finalized, everything else is discarded, and the
// source's players are removed.
func (e *Engine) Drain(source string) []play.Listen {
	now := e.cfg.Now()
	var (
		listens []play.Listen
		ids     []play.PlatformID
	)
	for _, p := range e.registry.BySource(source) {
		p.mu.Lock()
		if !p.removed {
			if !p.finalized && p.status.Calculated != StatusCompleted && e.decider.qualifies(p) {
				if l, ok := e.finalize(p, now); ok {
					listens = append(listens, l)
				}
			}
			p.status.Orphaned = true
			p.orphanedAt = now
			ids = append(ids, p.platformID)
		}
		p.mu.Unlock()
	}
	e.registry.Remove(ids...)

	for _, l := range listens {
		e.log.Info("listen finalized",
			slog.String("platform_id", string(l.PlatformID)),
			slog.String("reason", string(ReasonDrain)),
			slog.String("play", l.Track),
			slog.Float64("listened", l.ListenedFor))
		e.emit(l)
		e.countFinalized()
	}
	e.log.Info("source drained",
		slog.String("source", source),
		slog.Int("players", len(ids)),
		slog.Int("finalized", len(listens)))
	return listens
}

// DrainAll drains every registered source.
func (e *Engine) DrainAll() []play.Listen {
	var out []play.Listen
	for _, id := range e.Sources() {
		out = append(out, e.Drain(id.Name)...)
	}
	return out
}

// Players returns a snapshot of every tracked player.
func (e *Engine) Players() []PlayerView {
	players := e.registry.Snapshot()
	views := make([]PlayerView, 0, len(players))
	for _, p := range players {
		p.mu.Lock()
		if !p.removed {
			views = append(views, p.view())
		}
		p.mu.Unlock()
	}
	return views
}

// SourceStatuses reports every registered source with its discovered listen
// count and the status of its players, ordered by name.
func (e *Engine) SourceStatuses() []SourceStatus {
	e.sourcesMu.RLock()
	handles := make([]*SourceHandle, 0, len(e.sources))
	for _, h := range e.sources {
		handles = append(handles, h)
	}
	e.sourcesMu.RUnlock()
	return sourceStatuses(handles, e.Players())
}

// finalize runs the decider for p and accounts for plays too short to count.
// Caller must hold p.mu.
func (e *Engine) finalize(p *Player, now time.Time) (play.Listen, bool) {
	if p.finalized || p.play.IsZero() {
		return play.Listen{}, false
	}
	l, ok := e.decider.Finalize(p, now)
	if !ok {
		e.log.Debug("play discarded, listened too short",
			slog.String("platform_id", string(p.platformID)),
			slog.String("play", p.play.String()),
			slog.Float64("listened", p.listened),
			slog.Float64("duration", p.play.Duration))
		if e.metrics != nil {
			e.metrics.IncDiscarded()
		}
		return l, false
	}
	if h, found := e.Source(p.source); found {
		h.discovered.Add(1)
	}
	return l, true
}

func (e *Engine) emit(l play.Listen) {
	if e.emitter != nil {
		e.emitter.Emit(l)
	}
}

func (e *Engine) countFinalized() {
	if e.metrics != nil {
		e.metrics.IncFinalized()
	}
}

// record logs the decision for ev and updates metrics.
func (e *Engine) record(ev play.Event, res Result) {
	if e.metrics != nil {
		e.metrics.IncEvent(string(res.Outcome))
		if res.Outcome == OutcomeDuplicate {
			e.metrics.IncDuplicates()
		}
	}
	for range res.Listens {
		e.countFinalized()
	}
	if !res.Accepted() {
		return
	}

	attrs := []any{
		slog.String("platform_id", string(res.PlatformID)),
		slog.String("source", ev.Source),
		slog.String("outcome", string(res.Outcome)),
		slog.String("play", strings.Join(ev.Artists, ", ")+" - "+ev.Track),
	}
	if res.Reason != ReasonNone {
		attrs = append(attrs, slog.String("reason", string(res.Reason)))
	}
	if res.MatchedID != "" {
		attrs = append(attrs, slog.String("matched_platform_id", string(res.MatchedID)))
	}
	switch res.Outcome {
	case OutcomeProgress:
		e.log.Debug("play progress", attrs...)
	default:
		e.log.Info("play updated", attrs...)
	}
	for _, l := range res.Listens {
		e.log.Info("listen finalized",
			slog.String("platform_id", string(l.PlatformID)),
			slog.String("listen_id", l.ID),
			slog.String("play", strings.Join(l.Artists, ", ")+" - "+l.Track),
			slog.Float64("listened", l.ListenedFor))
	}
}

// logFilter reports a rejected or partially filtered event at the level the
// source's policy selects.
func (e *Engine) logFilter(policy FilterLogPolicy, msg string, ev play.Event, reason Reason, detail string) {
	level, ok := policy.Level()
	if !ok {
		return
	}
	attrs := []slog.Attr{
		slog.String("platform_id", string(ev.PlatformID())),
		slog.String("source", ev.Source),
		slog.String("detail", detail),
		slog.Any("artists", ev.Artists),
		slog.String("track", ev.Track),
	}
	if reason != ReasonNone {
		attrs = append(attrs, slog.String("reason", string(reason)))
	}
	e.log.LogAttrs(context.Background(), level, msg, attrs...)
}
