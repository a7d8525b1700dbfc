package cloudevent

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// UserAgent identifies callback deliveries to receivers.
	UserAgent = "simgateway-callback/1.0"

	// SignatureHeader carries "sha256=<hex HMAC of the body>" when a key is set.
	SignatureHeader = "X-Signature-256"

	contentType    = "application/cloudevents+json"
	maxErrorDetail = 256
)

// Sender posts events with a shared, pooled HTTP client.
type Sender struct {
	client *http.Client
}

// NewSender creates a Sender whose requests time out after timeout.
func NewSender(timeout time.Duration) *Sender {
	return &Sender{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Send validates event and POSTs it to url, signing the body with
// signingKey when one is given. Any non-2xx answer is an *HTTPError.
func (s *Sender) Send(ctx context.Context, url string, event *CloudEvent, signingKey string) error {
	if err := event.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req.Header, event)
	if signingKey != "" {
		req.Header.Set(SignatureHeader, Signature(body, signingKey))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDetail))
	return &HTTPError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
}

// setHeaders mirrors the context attributes as ce-* headers so receivers can
// route without parsing the body.
func setHeaders(h http.Header, event *CloudEvent) {
	h.Set("Content-Type", contentType)
	h.Set("User-Agent", UserAgent)
	h.Set("Ce-Specversion", event.SpecVersion)
	h.Set("Ce-Type", event.Type)
	h.Set("Ce-Source", event.Source)
	h.Set("Ce-Id", event.ID)
	h.Set("Ce-Time", event.Time.Format(time.RFC3339))
	if event.Subject != "" {
		h.Set("Ce-Subject", event.Subject)
	}
}

// Signature returns the SignatureHeader value for body.
func Signature(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature matches body under key, in constant time.
func Verify(body []byte, key, signature string) bool {
	return hmac.Equal([]byte(Signature(body, key)), []byte(signature))
}

// HTTPError is a non-2xx answer. Detail holds the start of the body.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Detail)
}

// IsClientError returns true for 4xx errors.
func IsClientError(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 400 && he.StatusCode < 500
	}
	return false
}

// Retryable reports whether redelivering could succeed: transport failures,
// 5xx, 408 Request Timeout and 429 Too Many Requests.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		return true
	}
	switch he.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return he.StatusCode >= 500
}
