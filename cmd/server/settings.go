package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scrobble-orchestrator/internal/delivery"
	"scrobble-orchestrator/internal/orchestrator"
	"scrobble-orchestrator/internal/platform/config"
	"scrobble-orchestrator/internal/play"
)

// settings is the process configuration read from the environment.
type settings struct {
	Port      string
	LogLevel  string
	LogFormat string

	Engine        orchestrator.Config
	SweepInterval time.Duration

	Pipeline   orchestrator.PipelineOptions
	IngestRate float64

	LedgerPath  string
	SourcesFile string
}

func loadSettings() (settings, error) {
	_ = config.Load()

	policy, err := orchestrator.ParseBackpressurePolicy(config.GetEnv("INGEST_POLICY", string(orchestrator.PolicyBlock)))
	if err != nil {
		return settings{}, err
	}

	return settings{
		Port:      config.GetEnv("PORT", "8080"),
		LogLevel:  config.GetEnv("LOG_LEVEL", "info"),
		LogFormat: config.GetEnv("LOG_FORMAT", "json"),
		Engine: orchestrator.Config{
			MatchThreshold: config.GetEnvFloat("MATCH_THRESHOLD", play.DefaultMatchThreshold),
			StaleAfter:     config.GetEnvDuration("STALE_AFTER", orchestrator.DefaultStaleAfter),
			OrphanAfter:    config.GetEnvDuration("ORPHAN_AFTER", orchestrator.DefaultOrphanAfter),
			OrphanGrace:    config.GetEnvDuration("ORPHAN_GRACE", orchestrator.DefaultOrphanGrace),
			DedupWindow:    config.GetEnvDuration("DEDUP_WINDOW", orchestrator.DefaultDedupWindow),
			Completion: orchestrator.CompletionPolicy{
				MinSeconds: config.GetEnvFloat("COMPLETION_SECONDS", orchestrator.DefaultCompletionPolicy.MinSeconds),
				Percent:    config.GetEnvFloat("COMPLETION_PERCENT", orchestrator.DefaultCompletionPolicy.Percent),
			},
			HoldUntilStop: config.GetEnvBool("HOLD_UNTIL_STOP", false),
		},
		SweepInterval: config.GetEnvDuration("SWEEP_INTERVAL", orchestrator.DefaultSweepInterval),
		Pipeline: orchestrator.PipelineOptions{
			Workers:   config.GetEnvInt("INGEST_WORKERS", 4),
			QueueSize: config.GetEnvInt("INGEST_QUEUE_SIZE", 64),
			Policy:    policy,
		},
		IngestRate:  config.GetEnvFloat("INGEST_RATE", 0),
		LedgerPath:  config.GetEnv("LEDGER_PATH", "data/ledger.db"),
		SourcesFile: config.GetEnv("SOURCES_FILE", ""),
	}, nil
}

// sourceConfigs converts the sources file entries into engine source
// registrations. An invalid log_filter_failure value is reported and
// disables filter logging for that source.
func sourceConfigs(file config.File, log *slog.Logger) []orchestrator.SourceConfig {
	out := make([]orchestrator.SourceConfig, 0, len(file.Sources))
	for _, s := range file.Sources {
		policy, err := orchestrator.ParseFilterLogPolicy(s.LogFilterFailure)
		if err != nil {
			log.Warn("invalid source option", slog.String("source", s.Name), slog.String("error", err.Error()))
		}
		kinds := make([]play.Kind, 0, len(s.Kinds))
		for _, k := range s.Kinds {
			kinds = append(kinds, play.Kind(k))
		}
		out = append(out, orchestrator.SourceConfig{
			SourceIdentity: orchestrator.SourceIdentity{Name: s.Name, Kind: orchestrator.SourceKind(s.Kind)},
			Filter: orchestrator.Filter{
				Kinds:      kinds,
				MediaTypes: s.MediaTypes,
				Users:      s.Users,
				Libraries:  s.Libraries,
				Servers:    s.Servers,
				LogPolicy:  policy,
			},
		})
	}
	return out
}

// buildClients creates the configured clients, or a single log client when
// none is configured.
func buildClients(file config.File, log *slog.Logger) ([]delivery.Client, error) {
	if len(file.Clients) == 0 {
		return []delivery.Client{delivery.NewLogClient("log", log)}, nil
	}
	var (
		clients []delivery.Client
		errs    []error
	)
	seen := make(map[string]bool, len(file.Clients))
	for _, c := range file.Clients {
		if seen[c.Name] {
			errs = append(errs, fmt.Errorf("client %q declared twice", c.Name))
			continue
		}
		seen[c.Name] = true
		client, err := delivery.NewClient(c.Name, c.Kind, c.URL, log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, errors.Join(errs...)
}
