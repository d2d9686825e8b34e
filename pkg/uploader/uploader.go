// Package uploader ships locally aggregated usage counters to the collector.
// Uploads are consent-gated and rate-limited: the background loop sends at
// most once per consent.UploadInterval, and only when the user's standing
// answer is "yes". Counters are cleared locally only after the collector
// acknowledged them.
package uploader

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/usagebeacon/beacon/pkg/api"
	"github.com/usagebeacon/beacon/pkg/consent"
	"github.com/usagebeacon/beacon/pkg/counter"
	"github.com/usagebeacon/beacon/pkg/httpclient"
)

const (
	// DefaultEndpoint is where counters go unless BEACON_ENDPOINT overrides it.
	DefaultEndpoint = "https://collect.usagebeacon.dev/api/events"
	// DefaultHeader carries the API key.
	DefaultHeader = "x-api-key"
	// DefaultCheckInterval is how often the background loop re-evaluates
	// whether an upload is due.
	DefaultCheckInterval = 6 * time.Hour
	// requestTimeout bounds a single upload request.
	requestTimeout = 10 * time.Second
)

// ErrUploadRefused is returned by UploadNow when the user's standing answer
// to the upload prompt is "no".
var ErrUploadRefused = errors.New("upload refused by consent policy")

// HTTPClient interface for making HTTP requests (allows mocking in tests)
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Uploader sends pending counters to the collector.
type Uploader struct {
	logger        *slog.Logger
	store         counter.Store
	policy        *consent.Policy
	httpClient    HTTPClient
	endpoint      string
	apiKey        string
	header        string
	installUUID   string
	version       string
	checkInterval time.Duration
	now           func() time.Time
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(client HTTPClient) Option {
	return func(u *Uploader) {
		u.httpClient = client
	}
}

// WithEndpoint overrides the collector endpoint.
func WithEndpoint(endpoint string) Option {
	return func(u *Uploader) {
		u.endpoint = endpoint
	}
}

// WithCheckInterval overrides how often Run re-evaluates upload due-ness.
func WithCheckInterval(interval time.Duration) Option {
	return func(u *Uploader) {
		u.checkInterval = interval
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) {
		u.now = now
	}
}

// New creates an uploader for the given store and consent policy.
// Endpoint, API key and header name come from BEACON_ENDPOINT, BEACON_API_KEY
// and BEACON_HEADER, with defaults for the first two.
func New(logger *slog.Logger, store counter.Store, policy *consent.Policy, installUUID, version string, opts ...Option) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}

	u := &Uploader{
		logger:        logger,
		store:         store,
		policy:        policy,
		httpClient:    httpclient.New(),
		endpoint:      cmp.Or(os.Getenv("BEACON_ENDPOINT"), DefaultEndpoint),
		apiKey:        os.Getenv("BEACON_API_KEY"),
		header:        cmp.Or(os.Getenv("BEACON_HEADER"), DefaultHeader),
		installUUID:   installUUID,
		version:       version,
		checkInterval: DefaultCheckInterval,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Run periodically uploads when one is due, until ctx is cancelled. An upload
// is due when the user's standing answer is "yes" and at least
// consent.UploadInterval passed since the last successful one.
func (u *Uploader) Run(ctx context.Context) {
	ticker := time.NewTicker(u.checkInterval)
	defer ticker.Stop()

	// Check once at startup so a long-stopped host catches up immediately.
	u.maybeUpload(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.maybeUpload(ctx)
		}
	}
}

func (u *Uploader) maybeUpload(ctx context.Context) {
	if !u.policy.UploadDue(u.now()) {
		u.logger.Debug("Upload not due")
		return
	}

	if err := u.upload(ctx); err != nil {
		// Counters are kept; the next due check retries.
		u.logger.Warn("Usage upload failed", "error", err)
	}
}

// UploadNow uploads pending counters immediately, bypassing the interval
// check. The user invoking it counts as answering the upload prompt, so only
// a standing "no" blocks it.
func (u *Uploader) UploadNow(ctx context.Context) error {
	if u.policy.GetUpload() == consent.UploadNo {
		return ErrUploadRefused
	}
	return u.upload(ctx)
}

func (u *Uploader) upload(ctx context.Context) error {
	counts, err := u.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("failed to read pending counters: %w", err)
	}
	if len(counts) == 0 {
		u.logger.Debug("No usage counters to upload")
		u.policy.MarkUploaded(u.now())
		if err := u.policy.Save(); err != nil {
			u.logger.Warn("Failed to save consent policy", "error", err)
		}
		return nil
	}

	batch := makeBatch(counts, u.installUUID, u.version)

	if err := u.send(ctx, batch); err != nil {
		return err
	}

	// Acknowledged: the counters are the collector's problem now.
	if err := u.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear uploaded counters: %w", err)
	}
	u.policy.MarkUploaded(u.now())
	if err := u.policy.Save(); err != nil {
		u.logger.Warn("Failed to save consent policy", "error", err)
	}

	u.logger.Info("Uploaded usage counters", "records", len(batch.Records))
	return nil
}

func makeBatch(counts []counter.Count, installUUID, version string) api.Batch {
	records := make([]api.UsageRecord, 0, len(counts))
	for _, c := range counts {
		records = append(records, api.UsageRecord{
			Component: c.Component,
			Event:     c.Event,
			Day:       c.Day,
			Times:     c.Times,
		})
	}
	return api.Batch{
		Records:     records,
		Source:      "beacon",
		InstallUUID: installUUID,
		Version:     version,
	}
}

func (u *Uploader) send(ctx context.Context, batch api.Batch) error {
	jsonData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal upload batch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if u.apiKey != "" && u.header != "" {
		req.Header.Set(u.header, u.apiKey)
	}

	u.logger.Debug("Uploading usage counters",
		"endpoint", u.endpoint,
		"records", len(batch.Records),
		"payload_size", len(jsonData),
	)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("HTTP request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
