package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"scrobble-orchestrator/internal/play"
)

// Submit implements Client.
func (c *WebhookClient) Submit(ctx context.Context, l play.Listen) error {
	body, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode listen: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", l.ID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post listen: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post listen: unexpected status %s", resp.Status)
	}
	return nil
}
