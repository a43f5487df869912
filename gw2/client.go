// Package gw2 talks to the Guild Wars 2 trading post endpoints of the public
// API. Every failure to obtain a complete answer is reported as
// tptracker.ErrUpstreamUnavailable.
package gw2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	rlog "github.com/tptracker/tptracker/log"
	"github.com/tptracker/tptracker/normalize"
	"github.com/tptracker/tptracker/tptracker"
)

const (
	DefaultBaseURL = "https://api.guildwars2.com/v2"
	DefaultTimeout = 10 * time.Second

	pageSize = 200
	maxPages = 25
)

// Snapshot is the raw answer of a buys/sells endpoint pair.
type Snapshot struct {
	Buys  []tptracker.RawRecord
	Sells []tptracker.RawRecord
}

// Delivery is the content of the trading post delivery box.
type Delivery struct {
	Coins int64
	Items []normalize.DeliveryItem
}

// Client is a minimal trading post client. It is safe for concurrent use.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	logger        *slog.Logger
	beforeRequest RequestHook
}

// RequestHook runs before every HTTP request the client sends, so a paged
// list calls it once per page. A non-nil error aborts the request.
type RequestHook func(ctx context.Context, path string) error

// Option configures a Client.
type Option func(*Client)

// WithRequestHook installs hook in front of every request.
func WithRequestHook(hook RequestHook) Option {
	return func(c *Client) {
		c.beforeRequest = hook
	}
}

// WithBaseURL points the client at a different API root.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request. Values <= 0 keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithGroup("gw2")
	return c
}

// CurrentOrders returns the open buy and sell orders of the account.
func (c *Client) CurrentOrders(ctx context.Context, apiKey string) (Snapshot, error) {
	return c.pair(ctx, apiKey, "commerce/transactions/current")
}

// CompletedHistory returns the recently completed buy and sell transactions
// of the account.
func (c *Client) CompletedHistory(ctx context.Context, apiKey string) (Snapshot, error) {
	return c.pair(ctx, apiKey, "commerce/transactions/history")
}

// Delivery returns the coins and items waiting for pickup.
func (c *Client) Delivery(ctx context.Context, apiKey string) (Delivery, error) {
	var body struct {
		Coins json.Number           `json:"coins"`
		Items []tptracker.RawRecord `json:"items"`
	}
	if _, err := c.get(ctx, apiKey, "commerce/delivery", nil, &body); err != nil {
		return Delivery{}, err
	}

	var coins int64
	if body.Coins != "" {
		n, err := body.Coins.Int64()
		if err != nil {
			return Delivery{}, fmt.Errorf("%w: delivery coins: %v", tptracker.ErrInconsistentSnapshot, err)
		}
		coins = n
	}

	items, err := normalize.DeliveryItems(body.Items)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{Coins: coins, Items: items}, nil
}

func (c *Client) pair(ctx context.Context, apiKey, base string) (Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		records, err := c.list(gctx, apiKey, base+"/buys")
		snap.Buys = records
		return err
	})
	g.Go(func() error {
		records, err := c.list(gctx, apiKey, base+"/sells")
		snap.Sells = records
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// list follows the X-Page-Total header until every page has been read.
func (c *Client) list(ctx context.Context, apiKey, path string) ([]tptracker.RawRecord, error) {
	var out []tptracker.RawRecord
	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(pageSize))

		var records []tptracker.RawRecord
		header, err := c.get(ctx, apiKey, path, query, &records)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)

		total, err := strconv.Atoi(header.Get("X-Page-Total"))
		if err != nil || page+1 >= total {
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: more than %d pages", tptracker.ErrUpstreamUnavailable, path, maxPages)
}

func (c *Client) get(ctx context.Context, apiKey, path string, query url.Values, dst any) (http.Header, error) {
	if c.beforeRequest != nil {
		if err := c.beforeRequest(ctx, path); err != nil {
			return nil, fmt.Errorf("%w: GET %s: %w", tptracker.ErrUpstreamUnavailable, path, err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		rlog.WithContext(ctx, c.logger).Warn("request failed", slog.String("path", path), slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: GET %s: %w", tptracker.ErrUpstreamUnavailable, path, err)
	}
	defer resp.Body.Close()

	rlog.WithContext(ctx, c.logger).Debug("request completed",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: GET %s: %w", tptracker.ErrUpstreamUnavailable, path, statusError(resp))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: read %s: %w", tptracker.ErrUpstreamUnavailable, path, err)
		}
		return nil, fmt.Errorf("%w: decode %s: %v", tptracker.ErrInconsistentSnapshot, path, err)
	}
	return resp.Header, nil
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Text)
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var payload struct {
		Text string `json:"text"`
	}
	text := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Text != "" {
		text = payload.Text
	}
	return &StatusError{Code: resp.StatusCode, Text: text}
}
