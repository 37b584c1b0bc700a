package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mr1hm/gnss-integrity-monitor/internal/models"
)

const maxBodyBytes = 20 << 20

// FailureRecorder is told about every failed upstream fetch.
type FailureRecorder interface {
	UpstreamFailure(source string)
}

type nopRecorder struct{}

func (nopRecorder) UpstreamFailure(string) {}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// getJSON performs a GET and decodes the body into v. Decode failures and
// oversized bodies are reported as models.ErrMalformedResponse.
func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("error reading resp.Body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return fmt.Errorf("%w: response exceeds %d byte limit", models.ErrMalformedResponse, maxBodyBytes)
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: error decoding resp.Body: %v", models.ErrMalformedResponse, err)
	}
	return nil
}
