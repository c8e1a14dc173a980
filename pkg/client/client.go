// Package client provides a Go client for the raffle API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a raffle API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new raffle client
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Status is the raffle snapshot
type Status struct {
	Address          string  `json:"address"`
	State            string  `json:"state"`
	EntranceFee      string  `json:"entranceFee"`
	EntranceFeeEther string  `json:"entranceFeeEther"`
	Interval         int64   `json:"interval"`
	Players          int     `json:"players"`
	Balance          string  `json:"balance"`
	RecentWinner     string  `json:"recentWinner"`
	LastTimestamp    int64   `json:"lastTimestamp"`
	PendingRequestID *uint64 `json:"pendingRequestId"`
	Round            uint64  `json:"round"`
	SubscriptionID   uint64  `json:"subscriptionId"`
	KeyHash          string  `json:"keyHash"`
	CallbackGasLimit uint32  `json:"callbackGasLimit"`
}

// Upkeep is the upkeep predicate and its inputs
type Upkeep struct {
	UpkeepNeeded   bool   `json:"upkeepNeeded"`
	IsOpen         bool   `json:"isOpen"`
	TimePassed     bool   `json:"timePassed"`
	HasPlayers     bool   `json:"hasPlayers"`
	HasBalance     bool   `json:"hasBalance"`
	State          string `json:"state"`
	Players        int    `json:"players"`
	Balance        string `json:"balance"`
	ElapsedSeconds int64  `json:"elapsedSeconds"`
}

// Entry is the receipt of a successful entrance
type Entry struct {
	Player string `json:"player"`
	Amount string `json:"amount"`
	Round  uint64 `json:"round"`
	Index  int    `json:"index"`
}

// PerformResult is returned when upkeep closes a round
type PerformResult struct {
	RequestID uint64 `json:"requestId"`
	State     string `json:"state"`
}

// Players lists the current round's players
type Players struct {
	Players []string `json:"players"`
	Count   int      `json:"count"`
}

// Winner is a finalized round
type Winner struct {
	Round      uint64    `json:"round"`
	RequestID  uint64    `json:"requestId"`
	Winner     string    `json:"winner"`
	Prize      string    `json:"prize"`
	Players    int       `json:"players"`
	RandomWord string    `json:"randomWord"`
	ClosedAt   time.Time `json:"closedAt"`
}

// WinnersResponse is a page of winners
type WinnersResponse struct {
	Data       []Winner   `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Event is an entry of the raffle's event log
type Event struct {
	Seq            int64     `json:"seq,omitempty"`
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Round          uint64    `json:"round"`
	Player         string    `json:"player,omitempty"`
	Amount         string    `json:"amount,omitempty"`
	RequestID      uint64    `json:"requestId,omitempty"`
	SubscriptionID uint64    `json:"subscriptionId,omitempty"`
	Consumer       string    `json:"consumer,omitempty"`
	Winner         string    `json:"winner,omitempty"`
	RandomWord     string    `json:"randomWord,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// EventsResponse is a page of events
type EventsResponse struct {
	Data       []Event    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Request is a pending randomness request
type Request struct {
	ID               uint64    `json:"id"`
	SubscriptionID   uint64    `json:"subscriptionId"`
	Consumer         string    `json:"consumer"`
	KeyHash          string    `json:"keyHash"`
	CallbackGasLimit uint32    `json:"callbackGasLimit"`
	NumWords         uint32    `json:"numWords"`
	RequestedAt      time.Time `json:"requestedAt"`
}

// Subscription is a coordinator subscription
type Subscription struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Balance   string   `json:"balance"`
	Requests  uint64   `json:"requests"`
	Consumers []string `json:"consumers"`
}

// Balance is an account balance
type Balance struct {
	Address      string `json:"address"`
	Balance      string `json:"balance"`
	BalanceEther string `json:"balanceEther"`
}

// Version is the server's build and network
type Version struct {
	Version string `json:"version"`
	Network string `json:"network"`
	ChainID int64  `json:"chainId"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ListOptions selects a page
type ListOptions struct {
	Limit  int
	Cursor string
	// Type and Round filter events
	Type  string
	Round uint64
}

func (o ListOptions) query() string {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Cursor != "" {
		q.Set("cursor", o.Cursor)
	}
	if o.Type != "" {
		q.Set("type", o.Type)
	}
	if o.Round > 0 {
		q.Set("round", strconv.FormatUint(o.Round, 10))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Status returns the raffle snapshot
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.get(ctx, "/api/v1/raffle", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Players lists the current round's players
func (c *Client) Players(ctx context.Context) (*Players, error) {
	var resp Players
	if err := c.get(ctx, "/api/v1/raffle/players", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Player returns the player at index
func (c *Client) Player(ctx context.Context, index int) (string, error) {
	var resp struct {
		Player string `json:"player"`
	}
	if err := c.get(ctx, "/api/v1/raffle/players/"+strconv.Itoa(index), &resp); err != nil {
		return "", err
	}
	return resp.Player, nil
}

// Enter enters player with amount, e.g. "0.01ether" or a wei integer
func (c *Client) Enter(ctx context.Context, player, amount string) (*Entry, error) {
	var resp Entry
	body := map[string]string{"player": player, "amount": amount}
	if err := c.post(ctx, "/api/v1/raffle/entries", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckUpkeep evaluates the upkeep predicate
func (c *Client) CheckUpkeep(ctx context.Context) (*Upkeep, error) {
	var resp Upkeep
	if err := c.get(ctx, "/api/v1/raffle/upkeep", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PerformUpkeep closes the round and requests randomness
func (c *Client) PerformUpkeep(ctx context.Context) (*PerformResult, error) {
	var resp PerformResult
	if err := c.post(ctx, "/api/v1/raffle/upkeep", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Winners lists finalized rounds, newest first
func (c *Client) Winners(ctx context.Context, opts ListOptions) (*WinnersResponse, error) {
	var resp WinnersResponse
	if err := c.get(ctx, "/api/v1/raffle/winners"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events lists the event log, newest first
func (c *Client) Events(ctx context.Context, opts ListOptions) (*EventsResponse, error) {
	var resp EventsResponse
	if err := c.get(ctx, "/api/v1/raffle/events"+opts.query(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PendingRequests lists unfulfilled randomness requests
func (c *Client) PendingRequests(ctx context.Context) ([]Request, error) {
	var resp struct {
		Data []Request `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/vrf/requests", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Subscription returns a coordinator subscription
func (c *Client) Subscription(ctx context.Context, id uint64) (*Subscription, error) {
	var resp Subscription
	if err := c.get(ctx, "/api/v1/vrf/subscriptions/"+strconv.FormatUint(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fulfill delivers randomness for a pending request. Nil words lets the
// coordinator derive them.
func (c *Client) Fulfill(ctx context.Context, requestID uint64, words []string) error {
	var body any
	if len(words) > 0 {
		body = map[string]any{"randomWords": words}
	}
	return c.post(ctx, fmt.Sprintf("/api/v1/vrf/requests/%d/fulfill", requestID), body, nil)
}

// Balance returns an account balance
func (c *Client) Balance(ctx context.Context, address string) (*Balance, error) {
	var resp Balance
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(address), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fund credits an account from the development faucet
func (c *Client) Fund(ctx context.Context, address, amount string) (*Balance, error) {
	var resp Balance
	path := "/api/v1/accounts/" + url.PathEscape(address) + "/fund"
	if err := c.post(ctx, path, map[string]string{"amount": amount}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version returns the server version
func (c *Client) Version(ctx context.Context) (*Version, error) {
	var resp Version
	if err := c.get(ctx, "/version", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamEvents calls fn for each live event until ctx is cancelled, the
// server closes the stream or fn returns an error.
func (c *Client) StreamEvents(ctx context.Context, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/raffle/events/stream", nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only ctx bounds it.
	streamClient := *c.httpClient
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(data.String()), &e); err != nil {
				return fmt.Errorf("decoding event: %w", err)
			}
			data.Reset()
			if err := fn(e); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
