package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrobble-orchestrator/internal/platform/logger"
	"scrobble-orchestrator/internal/play"
)

var finalizedAt = time.Date(2024, 5, 1, 21, 0, 0, 0, time.UTC)

func listen(id string, offset time.Duration) play.Listen {
	return play.Listen{
		ID:          id,
		Artists:     []string{"Air"},
		Track:       "Talisman",
		Duration:    256,
		PlayedAt:    finalizedAt.Add(offset - 5*time.Minute),
		ListenedFor: 200,
		Source:      "plex",
		PlatformID:  "plex-kitchen",
		FinalizedAt: finalizedAt.Add(offset),
	}
}

type fakeClient struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (c *fakeClient) Identity() Identity { return Identity{Name: c.name, Kind: ClientLog} }

func (c *fakeClient) Submit(_ context.Context, l play.Listen) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, l.ID)
	return c.err
}

func (c *fakeClient) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func openSQLite(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := OpenSQLiteLedger(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": openSQLite(t),
	}
}

func TestLedger_Claim_once(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := ledger.Claim(ctx, "l1", "log")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = ledger.Claim(ctx, "l1", "log")
			require.NoError(t, err)
			assert.False(t, ok, "a pair is claimed at most once")

			ok, err = ledger.Claim(ctx, "l1", "webhook")
			require.NoError(t, err)
			assert.True(t, ok, "claims are per client")

			require.NoError(t, ledger.MarkResult(ctx, "l1", "log", ResultFailed, "boom"))
			ok, err = ledger.Claim(ctx, "l1", "log")
			require.NoError(t, err)
			assert.False(t, ok, "a failed delivery is not claimable again")
		})
	}
}

func TestLedger_Record_and_Recent(t *testing.T) {
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, ledger.Record(ctx, listen("a", 0)))
			require.NoError(t, ledger.Record(ctx, listen("b", time.Minute)))
			require.NoError(t, ledger.Record(ctx, listen("c", 2*time.Minute)))
			require.NoError(t, ledger.Record(ctx, listen("a", 0)), "recording twice is a no-op")

			recent, err := ledger.Recent(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "c", recent[0].ID)
			assert.Equal(t, "b", recent[1].ID)

			all, err := ledger.Recent(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"Air"}, all[2].Artists)
			assert.Equal(t, play.PlatformID("plex-kitchen"), all[2].PlatformID)
			assert.True(t, all[2].FinalizedAt.Equal(finalizedAt))
		})
	}
}

func TestSQLiteLedger_Result(t *testing.T) {
	ledger := openSQLite(t)
	ctx := context.Background()

	_, ok, err := ledger.Result(ctx, "l1", "log")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ledger.Claim(ctx, "l1", "log")
	require.NoError(t, err)
	require.NoError(t, ledger.MarkResult(ctx, "l1", "log", ResultOK, ""))

	result, ok, err := ledger.Result(ctx, "l1", "log")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ResultOK, result)
}

func TestDispatcher_delivers_at_most_once(t *testing.T) {
	ledger := NewMemoryLedger()
	good := &fakeClient{name: "good"}
	bad := &fakeClient{name: "bad", err: errors.New("unavailable")}
	d := NewDispatcher(ledger, []Client{good, bad}, DispatcherOptions{}, logger.Discard(), nil)

	d.Emit(listen("l1", 0))
	d.Emit(listen("l1", 0))
	d.Emit(listen("l2", time.Minute))
	d.Close()

	assert.Equal(t, []string{"l1", "l2"}, good.ids())
	assert.Equal(t, []string{"l1", "l2"}, bad.ids(), "failed deliveries are not retried")

	result, ok := ledger.Result("l1", "good")
	assert.True(t, ok)
	assert.Equal(t, ResultOK, result)
	result, _ = ledger.Result("l1", "bad")
	assert.Equal(t, ResultFailed, result)

	recent, err := ledger.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDispatcher_Emit_after_Close(t *testing.T) {
	client := &fakeClient{name: "log"}
	d := NewDispatcher(NewMemoryLedger(), []Client{client}, DispatcherOptions{QueueSize: 1}, logger.Discard(), nil)
	d.Close()
	d.Close()

	d.Emit(listen("late", 0))
	assert.Equal(t, []string{"late"}, client.ids())
}

func TestDispatcher_with_sqlite_ledger(t *testing.T) {
	ledger := openSQLite(t)
	client := &fakeClient{name: "log"}
	d := NewDispatcher(ledger, []Client{client}, DispatcherOptions{}, logger.Discard(), nil)

	d.Deliver(context.Background(), listen("l1", 0))
	d.Deliver(context.Background(), listen("l1", 0))
	d.Close()

	assert.Equal(t, []string{"l1"}, client.ids())
}

func TestParseClientKind(t *testing.T) {
	k, err := ParseClientKind(" Webhook ")
	require.NoError(t, err)
	assert.Equal(t, ClientWebhook, k)

	_, err = ParseClientKind("lastfm")
	assert.ErrorIs(t, err, ErrUnknownClientKind)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("", "log", "", logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "log", Kind: ClientLog}, c.Identity())
	assert.NoError(t, c.Submit(context.Background(), listen("l1", 0)))

	_, err = NewClient("hook", "webhook", "", logger.Discard())
	assert.ErrorIs(t, err, ErrMissingURL)

	c, err = NewClient("hook", "webhook", "http://localhost:9/listens", logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, ClientWebhook, c.Identity().Kind)
}

func TestWebhookClient_Submit(t *testing.T) {
	var (
		got     play.Listen
		idemKey string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewWebhookClient("hook", srv.URL, srv.Client())
	require.NoError(t, c.Submit(context.Background(), listen("l1", 0)))
	assert.Equal(t, "l1", got.ID)
	assert.Equal(t, "Talisman", got.Track)
	assert.Equal(t, "l1", idemKey)
}

func TestWebhookClient_Submit_error_status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewWebhookClient("hook", srv.URL, srv.Client())
	err := c.Submit(context.Background(), listen("l1", 0))
	assert.Error(t, err)
}
