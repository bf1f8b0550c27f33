// Package httpclient provides basic http functions
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxErrorBody is how much of a failed response body is kept in StatusError
const maxErrorBody = 512

// StatusError is returned when a remote service answers with a non 2xx status
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// New returns http.Client with timeout applied to every request
func New(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// GetBytes retrieves the body of rawURL using a simple GET request.
// Responses outside of the 2xx range are returned as *StatusError
func GetBytes(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = withoutQuery(req)
		}
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{URL: withoutQuery(req), StatusCode: resp.StatusCode, Body: string(body)}
	}

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetJSON performs GET request on rawURL and decodes the json body into v
func GetJSON(ctx context.Context, client *http.Client, rawURL string, v interface{}) error {
	body, err := GetBytes(ctx, client, rawURL)
	if err != nil {
		return err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("malformed response payload: %w", err)
	}
	return nil
}

// withoutQuery returns the request url with its query removed, query strings may carry access tokens
func withoutQuery(req *http.Request) string {
	u := *req.URL
	u.RawQuery = ""
	return u.Redacted()
}
