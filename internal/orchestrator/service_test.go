package orchestrator

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/play"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type collector struct {
	mu      sync.Mutex
	listens []play.Listen
}

func (c *collector) Emit(l play.Listen) {
	c.mu.Lock()
	c.listens = append(c.listens, l)
	c.mu.Unlock()
}

func (c *collector) all() []play.Listen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]play.Listen(nil), c.listens...)
}

func newTestEngine(t *testing.T, cfg Config, sources ...SourceConfig) (*Engine, *fakeClock, *collector) {
	t.Helper()
	clk := &fakeClock{now: t0}
	cfg.Now = clk.Now
	out := &collector{}
	e := NewEngine(cfg, NewRegistry(), out, logger.Discard(), nil)
	if len(sources) == 0 {
		sources = []SourceConfig{
			{SourceIdentity: SourceIdentity{Name: "plex", Kind: SourcePlex}},
			{SourceIdentity: SourceIdentity{Name: "jellyfin", Kind: SourceJellyfin}},
		}
	}
	for _, sc := range sources {
		if _, err := e.RegisterSource(sc); err != nil {
			t.Fatalf("RegisterSource(%s): %v", sc.Name, err)
		}
	}
	return e, clk, out
}

func event(source, device string, kind play.Kind, pos float64) play.Event {
	return play.Event{
		Artists:  []string{"Air"},
		Track:    "La Femme d'Argent",
		Duration: play.Seconds(200),
		Position: play.Seconds(pos),
		Source:   source,
		DeviceID: device,
		Kind:     kind,
	}
}

// playUntil reports positions from, from+10, ... up to to, ten seconds apart,
// and returns the last result.
func playUntil(e *Engine, clk *fakeClock, source, device string, from, to float64) Result {
	var res Result
	for pos := from; pos <= to; pos += 10 {
		if pos > from {
			clk.Advance(10 * time.Second)
		}
		res = e.Ingest(event(source, device, play.KindPlaying, pos))
	}
	return res
}

func TestNewEngine_defaults(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	cfg := e.Config()
	if cfg.MatchThreshold != play.DefaultMatchThreshold {
		t.Errorf("MatchThreshold: got %v", cfg.MatchThreshold)
	}
	if cfg.StaleAfter != DefaultStaleAfter || cfg.OrphanGrace != DefaultOrphanGrace || cfg.DedupWindow != DefaultDedupWindow {
		t.Errorf("unexpected durations: %+v", cfg)
	}
	if cfg.Completion != DefaultCompletionPolicy {
		t.Errorf("Completion: got %+v", cfg.Completion)
	}
}

func TestEngine_RegisterSource_errors(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	if _, err := e.RegisterSource(SourceConfig{SourceIdentity: SourceIdentity{Name: "plex", Kind: SourcePlex}}); !errors.Is(err, ErrDuplicateSource) {
		t.Errorf("expected ErrDuplicateSource, got %v", err)
	}
	if _, err := e.RegisterSource(SourceConfig{SourceIdentity: SourceIdentity{Name: "x", Kind: "winamp"}}); !errors.Is(err, ErrUnknownSourceKind) {
		t.Errorf("expected ErrUnknownSourceKind, got %v", err)
	}
	if _, err := e.RegisterSource(SourceConfig{SourceIdentity: SourceIdentity{Name: "  ", Kind: SourceKodi}}); !errors.Is(err, ErrInvalidSourceName) {
		t.Errorf("expected ErrInvalidSourceName, got %v", err)
	}
	if n := len(e.Sources()); n != 2 {
		t.Errorf("expected 2 sources, got %d", n)
	}
}

func TestEngine_progress_updates_stay_in_progress(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{})

	res := e.Ingest(event("plex", "kitchen", play.KindPlaying, 0))
	if res.Outcome != OutcomeCreated || res.Status != StatusNew {
		t.Fatalf("first event: got %s/%s", res.Outcome, res.Status)
	}
	for _, pos := range []float64{10, 20} {
		clk.Advance(10 * time.Second)
		res = e.Ingest(event("plex", "kitchen", play.KindPlaying, pos))
		if res.Outcome != OutcomeProgress || res.Status != StatusInProgress {
			t.Fatalf("update at %v: got %s/%s", pos, res.Outcome, res.Status)
		}
	}
	if n := len(out.all()); n != 0 {
		t.Errorf("expected no listens, got %d", n)
	}

	views := e.Players()
	if len(views) != 1 {
		t.Fatalf("expected 1 player, got %d", len(views))
	}
	if views[0].ListenedDuration != 20 {
		t.Errorf("expected 20s listened, got %v", views[0].ListenedDuration)
	}
	if views[0].Position == nil || *views[0].Position != 20 {
		t.Errorf("expected position 20, got %v", views[0].Position)
	}
}

func TestEngine_stop_finalizes_once(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{HoldUntilStop: true})

	playUntil(e, clk, "plex", "kitchen", 0, 110)
	if n := len(out.all()); n != 0 {
		t.Fatalf("held play should not be finalized before stop, got %d listens", n)
	}

	clk.Advance(time.Second)
	res := e.Ingest(event("plex", "kitchen", play.KindStop, 111))
	if res.Outcome != OutcomeCompleted || res.Reason != ReasonStop {
		t.Fatalf("stop: got %s/%s", res.Outcome, res.Reason)
	}
	listens := out.all()
	if len(listens) != 1 {
		t.Fatalf("expected 1 listen, got %d", len(listens))
	}
	l := listens[0]
	if l.ID == "" || l.Track != "La Femme d'Argent" || l.PlatformID != "plex-kitchen" {
		t.Errorf("unexpected listen: %+v", l)
	}
	if l.ListenedFor != 111 {
		t.Errorf("expected 111s listened, got %v", l.ListenedFor)
	}

	clk.Advance(time.Second)
	e.Ingest(event("plex", "kitchen", play.KindStop, 111))
	if n := len(out.all()); n != 1 {
		t.Errorf("a repeated stop must not finalize again, got %d listens", n)
	}
}

func TestEngine_threshold_completes(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{})

	res := playUntil(e, clk, "plex", "kitchen", 0, 90)
	if res.Status != StatusInProgress {
		t.Fatalf("90s of 200s should be in progress, got %s", res.Status)
	}
	clk.Advance(10 * time.Second)
	res = e.Ingest(event("plex", "kitchen", play.KindPlaying, 100))
	if res.Outcome != OutcomeCompleted || res.Reason != ReasonThreshold {
		t.Fatalf("expected completion at 50%%, got %s/%s", res.Outcome, res.Reason)
	}
	if len(res.Listens) != 1 {
		t.Fatalf("result should carry the listen, got %d", len(res.Listens))
	}

	res = playUntil(e, clk, "plex", "kitchen", 110, 150)
	if res.Reason != ReasonAlreadyCompleted {
		t.Errorf("expected already_completed, got %s", res.Reason)
	}
	if n := len(out.all()); n != 1 {
		t.Errorf("expected exactly 1 listen, got %d", n)
	}
}

func TestEngine_track_change_finalizes_previous(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{HoldUntilStop: true})

	playUntil(e, clk, "plex", "kitchen", 0, 120)

	clk.Advance(5 * time.Second)
	next := play.Event{
		Artists:  []string{"Boards of Canada"},
		Track:    "Roygbiv",
		Duration: play.Seconds(151),
		Position: play.Seconds(0),
		Source:   "plex",
		DeviceID: "kitchen",
		Kind:     play.KindPlaying,
	}
	res := e.Ingest(next)
	if res.Outcome != OutcomeTrackChanged {
		t.Fatalf("expected track change, got %s", res.Outcome)
	}
	listens := out.all()
	if len(listens) != 1 || listens[0].Track != "La Femme d'Argent" {
		t.Fatalf("expected the previous track to be finalized, got %+v", listens)
	}

	views := e.Players()
	if len(views) != 1 || views[0].Play.Track != "Roygbiv" || views[0].ListenedDuration != 0 {
		t.Errorf("player should follow the new track from zero: %+v", views)
	}
}

func TestEngine_track_change_discards_short_play(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{})

	playUntil(e, clk, "plex", "kitchen", 0, 30)
	clk.Advance(5 * time.Second)
	ev := event("plex", "kitchen", play.KindPlaying, 0)
	ev.Track = "Sexy Boy"
	res := e.Ingest(ev)
	if res.Outcome != OutcomeTrackChanged {
		t.Fatalf("expected track change, got %s", res.Outcome)
	}
	if n := len(out.all()); n != 0 {
		t.Errorf("30s of 200s must not be finalized, got %d listens", n)
	}
}

func TestEngine_cross_source_duplicate_single_listen(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{HoldUntilStop: true})

	for pos := 0.0; pos <= 150; pos += 10 {
		if pos > 0 {
			clk.Advance(10 * time.Second)
		}
		if res := e.Ingest(event("plex", "kitchen", play.KindPlaying, pos)); !res.Accepted() {
			t.Fatalf("plex event rejected: %+v", res)
		}
		res := e.Ingest(event("jellyfin", "phone", play.KindPlaying, pos))
		if res.Outcome != OutcomeDuplicate || res.MatchedID != "plex-kitchen" {
			t.Fatalf("jellyfin event at %v: got %s matched %q", pos, res.Outcome, res.MatchedID)
		}
	}
	e.Ingest(event("jellyfin", "phone", play.KindStop, 150))
	e.Ingest(event("plex", "kitchen", play.KindStop, 150))

	if n := len(out.all()); n != 1 {
		t.Errorf("expected exactly 1 listen, got %d", n)
	}
	if n := len(e.Players()); n != 1 {
		t.Errorf("expected 1 player, got %d", n)
	}
}

func TestEngine_concurrent_sources_one_player(t *testing.T) {
	sources := []SourceConfig{
		{SourceIdentity: SourceIdentity{Name: "plex", Kind: SourcePlex}},
		{SourceIdentity: SourceIdentity{Name: "jellyfin", Kind: SourceJellyfin}},
		{SourceIdentity: SourceIdentity{Name: "kodi", Kind: SourceKodi}},
		{SourceIdentity: SourceIdentity{Name: "mpris", Kind: SourceMPRIS}},
	}
	e, _, _ := newTestEngine(t, Config{}, sources...)

	var wg sync.WaitGroup
	for _, sc := range sources {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			e.Ingest(event(name, "default", play.KindPlaying, 0))
		}(sc.Name)
	}
	wg.Wait()

	if n := len(e.Players()); n != 1 {
		t.Errorf("expected one player for the same listen, got %d", n)
	}
}

func TestEngine_stale_flush_respects_policy(t *testing.T) {
	cases := []struct {
		name     string
		listened float64
		want     int
	}{
		{"below half", 90, 0},
		{"half reached", 100, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, clk, out := newTestEngine(t, Config{HoldUntilStop: true})
			playUntil(e, clk, "plex", "kitchen", 0, tc.listened)

			clk.Advance(DefaultStaleAfter + time.Second)
			flushed := e.Sweep(clk.Now())
			if len(flushed) != tc.want || len(out.all()) != tc.want {
				t.Fatalf("expected %d listens, sweep returned %d, emitted %d", tc.want, len(flushed), len(out.all()))
			}
			views := e.Players()
			if len(views) != 1 || !views[0].Status.Stale {
				t.Errorf("player should be kept and marked stale: %+v", views)
			}

			clk.Advance(DefaultStaleAfter)
			if again := e.Sweep(clk.Now()); len(again) != 0 {
				t.Errorf("a second sweep must not finalize again, got %d", len(again))
			}
		})
	}
}

func TestEngine_stale_player_resumes(t *testing.T) {
	e, clk, _ := newTestEngine(t, Config{HoldUntilStop: true})
	playUntil(e, clk, "plex", "kitchen", 0, 40)

	clk.Advance(DefaultStaleAfter + time.Second)
	e.Sweep(clk.Now())

	res := e.Ingest(event("plex", "kitchen", play.KindPlaying, 41))
	if res.Outcome != OutcomeProgress {
		t.Fatalf("expected progress, got %s", res.Outcome)
	}
	if views := e.Players(); views[0].Status.Stale {
		t.Error("a new event should clear the stale flag")
	}
}

func TestEngine_orphaned_players_removed(t *testing.T) {
	e, clk, _ := newTestEngine(t, Config{})
	e.Ingest(event("plex", "kitchen", play.KindPlaying, 0))

	clk.Advance(DefaultOrphanAfter + time.Second)
	e.Sweep(clk.Now())
	views := e.Players()
	if len(views) != 1 || !views[0].Status.Orphaned {
		t.Fatalf("player should be orphaned but kept: %+v", views)
	}

	clk.Advance(DefaultOrphanGrace + time.Second)
	e.Sweep(clk.Now())
	if n := len(e.Players()); n != 0 {
		t.Errorf("orphan should be removed after the grace period, got %d players", n)
	}

	res := e.Ingest(event("plex", "kitchen", play.KindPlaying, 0))
	if res.Outcome != OutcomeCreated {
		t.Errorf("a removed platform should start over, got %s", res.Outcome)
	}
}

func TestEngine_filter_gate(t *testing.T) {
	src := SourceConfig{
		SourceIdentity: SourceIdentity{Name: "plex", Kind: SourcePlex},
		Filter: Filter{
			Kinds: []play.Kind{play.KindPlaying, play.KindStop},
			Users: []string{"Alice"},
		},
	}
	e, _, _ := newTestEngine(t, Config{}, src)

	withUser := func(device, user string, kind play.Kind) play.Event {
		ev := event("plex", device, kind, 0)
		if user != "" {
			ev.Meta = map[string]string{play.MetaUser: user}
		}
		return ev
	}

	cases := []struct {
		name    string
		ev      play.Event
		outcome Outcome
		reason  Reason
	}{
		{"allowed user", withUser("a", "alice", play.KindPlaying), OutcomeCreated, ReasonNone},
		{"other user", withUser("b", "bob", play.KindPlaying), OutcomeFiltered, ReasonUser},
		// passes the gate, then matches device a's play: one listen per source
		{"no user metadata", withUser("c", "", play.KindPlaying), OutcomeDuplicate, ReasonCrossSource},
		{"kind not countable", withUser("d", "alice", play.KindPaused), OutcomeFiltered, ReasonKind},
		{"media type", func() play.Event { ev := withUser("e", "alice", play.KindPlaying); ev.MediaType = "episode"; return ev }(), OutcomeFiltered, ReasonMediaType},
		{"unknown source", func() play.Event { ev := withUser("f", "alice", play.KindPlaying); ev.Source = "spotify"; return ev }(), OutcomeFiltered, ReasonUnknownSource},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.Ingest(tc.ev)
			if res.Outcome != tc.outcome || res.Reason != tc.reason {
				t.Errorf("got %s/%q, want %s/%q", res.Outcome, res.Reason, tc.outcome, tc.reason)
			}
		})
	}
	if n := len(e.Players()); n != 1 {
		t.Errorf("only the allowed event should create a player, got %d", n)
	}
}

func TestEngine_malformed_events_rejected(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})

	noTrack := event("plex", "kitchen", play.KindPlaying, 0)
	noTrack.Track = "  "
	noArtist := event("plex", "kitchen", play.KindPlaying, 0)
	noArtist.Artists = []string{"", " "}

	if res := e.Ingest(noTrack); res.Outcome != OutcomeRejected || res.Reason != ReasonMissingTrack {
		t.Errorf("missing track: got %s/%s", res.Outcome, res.Reason)
	}
	if res := e.Ingest(noArtist); res.Outcome != OutcomeRejected || res.Reason != ReasonMissingArtist {
		t.Errorf("missing artist: got %s/%s", res.Outcome, res.Reason)
	}

	longTrack := event("plex", "kitchen", play.KindPlaying, 0)
	longTrack.Track = strings.Repeat("la ", play.MaxTrackRunes)
	longArtist := event("plex", "kitchen", play.KindPlaying, 0)
	longArtist.Artists = []string{strings.Repeat("x", play.MaxArtistRunes+1)}
	for name, ev := range map[string]play.Event{"track": longTrack, "artist": longArtist} {
		if res := e.Ingest(ev); res.Outcome != OutcomeRejected || res.Reason != ReasonFieldTooLong {
			t.Errorf("over-long %s: got %s/%s", name, res.Outcome, res.Reason)
		}
	}
	if n := len(e.Players()); n != 0 {
		t.Errorf("rejected events must not create players, got %d", n)
	}
}

func TestEngine_unknown_kind_filtered_by_default(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{})

	for _, pos := range []float64{0, 100, 200} {
		res := e.Ingest(event("plex", "kitchen", "library.new", pos))
		if res.Outcome != OutcomeFiltered || res.Reason != ReasonKind {
			t.Fatalf("kind library.new at %v: got %s/%s", pos, res.Outcome, res.Reason)
		}
		clk.Advance(100 * time.Second)
	}
	if res := e.Ingest(event("plex", "kitchen", "", 0)); res.Outcome != OutcomeFiltered || res.Reason != ReasonKind {
		t.Errorf("empty kind: got %s/%s", res.Outcome, res.Reason)
	}
	if n := len(out.all()); n != 0 {
		t.Errorf("unknown kinds must never finalize a listen, got %d", n)
	}
	if n := len(e.Players()); n != 0 {
		t.Errorf("unknown kinds must not create players, got %d", n)
	}

	if res := e.Ingest(event("plex", "kitchen", "PLAYING", 0)); res.Outcome != OutcomeCreated {
		t.Errorf("kinds compare case-insensitively, got %s/%s", res.Outcome, res.Reason)
	}
}

func TestEngine_source_scrobble_counts(t *testing.T) {
	e, _, out := newTestEngine(t, Config{})

	ev := event("plex", "kitchen", play.KindScrobble, 0)
	ev.Position = nil
	res := e.Ingest(ev)
	if res.Outcome != OutcomeCompleted || res.Reason != ReasonScrobble {
		t.Fatalf("expected source scrobble completion, got %s/%s", res.Outcome, res.Reason)
	}
	listens := out.all()
	if len(listens) != 1 || listens[0].ListenedFor != 200 {
		t.Errorf("confirmed scrobble without progress should count the full duration: %+v", listens)
	}
}

func TestEngine_seek_not_counted(t *testing.T) {
	e, clk, _ := newTestEngine(t, Config{HoldUntilStop: true})

	playUntil(e, clk, "plex", "kitchen", 0, 20)
	clk.Advance(10 * time.Second)
	e.Ingest(event("plex", "kitchen", play.KindPlaying, 150))
	clk.Advance(10 * time.Second)
	e.Ingest(event("plex", "kitchen", play.KindPlaying, 20))

	if got := e.Players()[0].ListenedDuration; got != 20 {
		t.Errorf("seeks should add nothing, got %vs listened", got)
	}
}

func TestEngine_repeat_starts_new_play(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{})

	playUntil(e, clk, "plex", "kitchen", 0, 100)
	if n := len(out.all()); n != 1 {
		t.Fatalf("expected first listen, got %d", n)
	}

	clk.Advance(10 * time.Second)
	res := e.Ingest(event("plex", "kitchen", play.KindPlaying, 5))
	if res.Outcome != OutcomeRepeat {
		t.Fatalf("expected repeat, got %s", res.Outcome)
	}
	playUntil(e, clk, "plex", "kitchen", 5, 105)

	listens := out.all()
	if len(listens) != 2 {
		t.Fatalf("expected 2 listens, got %d", len(listens))
	}
	if listens[0].ID == listens[1].ID {
		t.Error("each play must have its own listen id")
	}
}

func TestEngine_Drain(t *testing.T) {
	e, clk, out := newTestEngine(t, Config{HoldUntilStop: true})

	playUntil(e, clk, "plex", "kitchen", 0, 120)
	short := event("plex", "car", play.KindPlaying, 0)
	short.Track = "Kelly Watch the Stars"
	e.Ingest(short)
	other := event("jellyfin", "tv", play.KindPlaying, 0)
	other.Track = "Playground Love"
	e.Ingest(other)

	h, ok := e.Source("plex")
	if !ok {
		t.Fatal("plex source missing")
	}
	listens := h.Shutdown()
	if len(listens) != 1 || listens[0].PlatformID != "plex-kitchen" {
		t.Fatalf("expected only the qualifying play to be finalized, got %+v", listens)
	}
	if n := len(out.all()); n != 1 {
		t.Errorf("drained listen should be emitted, got %d", n)
	}
	views := e.Players()
	if len(views) != 1 || views[0].Source != "jellyfin" {
		t.Errorf("only jellyfin players should remain: %+v", views)
	}
}

func TestSourceHandle_Ingest_stamps_source(t *testing.T) {
	e, _, _ := newTestEngine(t, Config{})
	h, _ := e.Source("jellyfin")

	ev := event("spoofed", "phone", play.KindPlaying, 0)
	res := h.Ingest(ev)
	if res.Outcome != OutcomeCreated || res.PlatformID != "jellyfin-phone" {
		t.Errorf("expected a jellyfin player, got %s %q", res.Outcome, res.PlatformID)
	}
}
