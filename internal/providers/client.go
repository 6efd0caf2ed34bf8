package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// httpClient is shared by every adapter. Individual calls carry their own
// context; the client timeout is a backstop against hung connections.
var httpClient = &http.Client{Timeout: 30 * time.Second}

type providerError struct {
	provider string
	status   int
	body     string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.provider, e.status, e.body)
}

// doJSON issues a request with a JSON body (nil for none) and decodes a JSON
// response into out (nil to discard). Non-2xx statuses become providerError.
func doJSON(ctx context.Context, provider, method, url string, headers map[string]string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &providerError{provider: provider, status: resp.StatusCode, body: string(snippet)}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// containsNew reports whether current holds any element absent from previous.
// This is the presence-set trigger law shared by follower and achievement
// style actions.
func containsNew(current, previous []string) bool {
	seen := make(map[string]struct{}, len(previous))
	for _, value := range previous {
		seen[value] = struct{}{}
	}
	for _, value := range current {
		if _, ok := seen[value]; !ok {
			return true
		}
	}
	return false
}
