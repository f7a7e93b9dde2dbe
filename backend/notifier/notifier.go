// Package notifier is the indexer side of the relay. It posts notifications
// with a bounded timeout and never retries: a lost notification is logged and
// dropped, clients catch up on their next query.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

const (
	DefaultTimeout = 2 * time.Second

	notifyPath = "/api/notify"
)

var (
	ErrRejected = errors.New("notification rejected by relay")
)

type Config struct {
	Logger *zerolog.Logger
	// BaseURL of the relay, e.g. http://localhost:8080.
	BaseURL string
	Timeout time.Duration
	// HTTPClient defaults to a fresh client.
	HTTPClient *http.Client
}

type Client struct {
	logger  zerolog.Logger
	url     string
	timeout time.Duration
	hc      *http.Client
}

func New(cfg Config) *Client {
	c := &Client{
		logger:  cfg.Logger.With().Str("component", "notifier").Logger(),
		url:     strings.TrimSuffix(cfg.BaseURL, "/") + notifyPath,
		timeout: cfg.Timeout,
		hc:      cfg.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.hc == nil {
		c.hc = &http.Client{}
	}
	return c
}

// Send posts n once and reports the outcome.
func (c *Client) Send(ctx context.Context, n model.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(&n)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

// Notify sends n and discards any failure after logging it.
func (c *Client) Notify(ctx context.Context, n model.Notification) {
	if err := c.Send(ctx, n); err != nil {
		c.logger.Warn().
			Err(err).
			Str("eventType", string(n.EventType)).
			Str("gameId", n.GameID).
			Msg("notification dropped")
		return
	}
	c.logger.Debug().
		Str("eventType", string(n.EventType)).
		Str("gameId", n.GameID).
		Msg("notification sent")
}

// NotifyAsync runs Notify without blocking the caller.
func (c *Client) NotifyAsync(n model.Notification) {
	go c.Notify(context.Background(), n)
}
