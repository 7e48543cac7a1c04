package orchestrator

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"scrobble-orchestrator/internal/play"
)

// FilterLogPolicy controls how filter failures are logged.
type FilterLogPolicy string

const (
	FilterLogOff   FilterLogPolicy = "off"
	FilterLogWarn  FilterLogPolicy = "warn"
	FilterLogDebug FilterLogPolicy = "debug"
)

// ParseFilterLogPolicy reads a log_filter_failure setting: false, "warn" or
// "debug". A nil value means the default (warn). Any other value disables
// filter logging and returns an error so the caller can report it.
func ParseFilterLogPolicy(v any) (FilterLogPolicy, error) {
	switch val := v.(type) {
	case nil:
		return FilterLogWarn, nil
	case bool:
		if !val {
			return FilterLogOff, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "warn":
			return FilterLogWarn, nil
		case "debug":
			return FilterLogDebug, nil
		case "false":
			return FilterLogOff, nil
		}
	}
	return FilterLogOff, fmt.Errorf("log_filter_failure value %v is not valid, filter failures will not be logged", v)
}

// Level returns the slog level for the policy and false when logging is off.
func (p FilterLogPolicy) Level() (slog.Level, bool) {
	switch p {
	case FilterLogWarn:
		return slog.LevelWarn, true
	case FilterLogDebug:
		return slog.LevelDebug, true
	default:
		return 0, false
	}
}

// Filter is the gate an event passes before reaching the state machine.
// Empty Kinds accepts the kinds the state machine knows and a configured list
// can only narrow them; empty MediaTypes accepts only tracks; empty allow-lists
// are unrestricted. Allow-list values compare case-insensitively.
type Filter struct {
	Kinds      []play.Kind
	MediaTypes []string
	Users      []string
	Libraries  []string
	Servers    []string
	LogPolicy  FilterLogPolicy
}

// NewFilter returns f with allow-lists lower-cased and trimmed.
func NewFilter(f Filter) Filter {
	out := Filter{
		Users:     lowerAll(f.Users),
		Libraries: lowerAll(f.Libraries),
		Servers:   lowerAll(f.Servers),
		LogPolicy: f.LogPolicy,
	}
	for _, k := range f.Kinds {
		out.Kinds = append(out.Kinds, k.Normalize())
	}
	if len(out.Kinds) == 0 {
		out.Kinds = slices.Clone(play.KnownKinds)
	}
	out.MediaTypes = lowerAll(f.MediaTypes)
	if len(out.MediaTypes) == 0 {
		out.MediaTypes = []string{play.MediaTrack}
	}
	if out.LogPolicy == "" {
		out.LogPolicy = FilterLogWarn
	}
	return out
}

func lowerAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Unrestricted reports whether no user, library or server allow-list is set.
func (f Filter) Unrestricted() bool {
	return len(f.Users) == 0 && len(f.Libraries) == 0 && len(f.Servers) == 0
}

// Verdict is the outcome of Check. Notices lists allow-lists the event carried
// no metadata for; those are reported but do not reject.
type Verdict struct {
	Accepted bool
	Reason   Reason
	Detail   string
	Notices  []string
}

// Check runs the gate for ev.
func (f Filter) Check(ev play.Event) Verdict {
	kind := ev.Kind.Normalize()
	if !kind.Known() || (len(f.Kinds) > 0 && !slices.Contains(f.Kinds, kind)) {
		return Verdict{Reason: ReasonKind, Detail: fmt.Sprintf("event kind %q is not countable", ev.Kind)}
	}
	mediaType := strings.ToLower(strings.TrimSpace(ev.MediaType))
	if mediaType == "" {
		mediaType = play.MediaTrack
	}
	if !slices.Contains(f.MediaTypes, mediaType) {
		return Verdict{Reason: ReasonMediaType, Detail: fmt.Sprintf("media type %q is not countable", ev.MediaType)}
	}

	v := Verdict{Accepted: true}
	allowLists := []struct {
		key     string
		allowed []string
		reason  Reason
	}{
		{play.MetaUser, f.Users, ReasonUser},
		{play.MetaLibrary, f.Libraries, ReasonLibrary},
		{play.MetaServer, f.Servers, ReasonServer},
	}
	for _, al := range allowLists {
		if len(al.allowed) == 0 {
			continue
		}
		value, ok := ev.MetaValue(al.key)
		if !ok {
			v.Notices = append(v.Notices, fmt.Sprintf("allowed %ss are configured but the event has no %s", al.key, al.key))
			continue
		}
		if !slices.Contains(al.allowed, strings.ToLower(strings.TrimSpace(value))) {
			return Verdict{
				Reason:  al.reason,
				Detail:  fmt.Sprintf("expected %s to be one of %s, found %q", al.key, quoteAll(al.allowed), strings.ToLower(value)),
				Notices: v.Notices,
			}
		}
	}
	return v
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, " or ")
}
