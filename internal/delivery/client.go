// Package delivery hands finalized listens to scrobble clients. Every
// (listen, client) pair is claimed in a ledger before it is submitted, so a
// listen reaches each client at most once.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/play"
)

// ClientKind is the closed set of client variants.
type ClientKind string

const (
	ClientLog     ClientKind = "log"
	ClientWebhook ClientKind = "webhook"
)

var (
	// ErrUnknownClientKind is returned for a kind outside ClientKind.
	ErrUnknownClientKind = errors.New("unknown client kind")

	// ErrMissingURL is returned for a webhook client without a URL.
	ErrMissingURL = errors.New("webhook client requires a url")
)

// ParseClientKind validates s.
func ParseClientKind(s string) (ClientKind, error) {
	switch k := ClientKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ClientLog, ClientWebhook:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownClientKind, s)
}

// Identity names a client.
type Identity struct {
	Name string     `json:"name"`
	Kind ClientKind `json:"kind"`
}

// Client submits listens to one scrobble destination.
type Client interface {
	Identity() Identity
	Submit(ctx context.Context, l play.Listen) error
}

// NewClient builds the client for kind.
func NewClient(name, kind, url string, log *slog.Logger) (Client, error) {
	k, err := ParseClientKind(kind)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = string(k)
	}
	switch k {
	case ClientWebhook:
		if strings.TrimSpace(url) == "" {
			return nil, fmt.Errorf("client %q: %w", name, ErrMissingURL)
		}
		return NewWebhookClient(name, url, nil), nil
	default:
		return NewLogClient(name, log), nil
	}
}

// LogClient writes listens to the log. It is the default client and the one
// used when no destination is configured.
type LogClient struct {
	name string
	log  *slog.Logger
}

// NewLogClient returns a LogClient named name.
func NewLogClient(name string, log *slog.Logger) *LogClient {
	return &LogClient{name: name, log: logger.Component(log, "client").With(slog.String("client", name))}
}

// Identity implements Client.
func (c *LogClient) Identity() Identity {
	return Identity{Name: c.name, Kind: ClientLog}
}

// Submit implements Client.
func (c *LogClient) Submit(_ context.Context, l play.Listen) error {
	c.log.Info("scrobbled",
		slog.String("listen_id", l.ID),
		slog.String("artists", strings.Join(l.Artists, ", ")),
		slog.String("track", l.Track),
		slog.String("album", l.Album),
		slog.Time("played_at", l.PlayedAt),
		slog.Float64("listened", l.ListenedFor),
		slog.String("source", l.Source))
	return nil
}

const defaultWebhookTimeout = 10 * time.Second

// WebhookClient POSTs each listen as JSON to a URL. Any 2xx status is a
// success.
type WebhookClient struct {
	name string
	url  string
	http *http.Client
}

// NewWebhookClient returns a WebhookClient. A nil httpClient uses one with a
// ten second timeout.
func NewWebhookClient(name, url string, httpClient *http.Client) *WebhookClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookClient{name: name, url: url, http: httpClient}
}

// Identity implements Client.
func (c *WebhookClient) Identity() Identity {
	return Identity{Name: c.name, Kind: ClientWebhook}
}
