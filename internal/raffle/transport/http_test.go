package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffle/internal/events"
	"github.com/pendergraft/raffle/internal/ledger"
	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/storage"
	"github.com/pendergraft/raffle/internal/vrf"
)

const playerHex = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

// mockService implements Service for testing
type mockService struct {
	players   []common.Address
	state     domain.State
	enterErr  error
	upkeepErr error
	winners   []domain.Winner
	events    []domain.Event
	listErr   error
}

func (m *mockService) Enter(ctx context.Context, sender common.Address, amount *big.Int) (*domain.Entry, error) {
	if m.enterErr != nil {
		return nil, m.enterErr
	}
	m.players = append(m.players, sender)
	return &domain.Entry{Player: sender, Amount: amount, Round: 1, Index: len(m.players) - 1}, nil
}

func (m *mockService) CheckUpkeep(ctx context.Context) domain.UpkeepStatus {
	return domain.UpkeepStatus{
		Needed:     true,
		IsOpen:     true,
		TimePassed: true,
		HasPlayers: true,
		HasBalance: true,
		Players:    len(m.players),
		Balance:    big.NewInt(40),
		Elapsed:    31 * time.Second,
	}
}

func (m *mockService) PerformUpkeep(ctx context.Context) (vrf.RequestID, error) {
	if m.upkeepErr != nil {
		return 0, m.upkeepErr
	}
	m.state = domain.StateCalculating
	return 1, nil
}

func (m *mockService) Status(ctx context.Context) domain.Status {
	id := vrf.RequestID(3)
	return domain.Status{
		Address:       common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		State:         m.state,
		EntranceFee:   big.NewInt(10000000000000000),
		Interval:      30 * time.Second,
		Players:       len(m.players),
		Balance:       big.NewInt(0),
		LastTimestamp: time.Unix(1700000000, 0),
		PendingRequest: func() *vrf.RequestID {
			if m.state == domain.StateCalculating {
				return &id
			}
			return nil
		}(),
		Round: 1,
	}
}

func (m *mockService) Player(ctx context.Context, index int) (common.Address, error) {
	if index < 0 || index >= len(m.players) {
		return common.Address{}, domain.ErrPlayerNotFound
	}
	return m.players[index], nil
}

func (m *mockService) Players(ctx context.Context) []common.Address {
	return m.players
}

func (m *mockService) Winners(ctx context.Context, p domain.PaginationParams) (*domain.WinnersResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return &domain.WinnersResult{Winners: m.winners, HasMore: true, NextCursor: "2"}, nil
}

func (m *mockService) Events(ctx context.Context, f domain.EventFilter, p domain.PaginationParams) (*domain.EventsResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.Event
	for _, e := range m.events {
		if (f.Type == "" || e.Type == f.Type) && (f.Round == 0 || e.Round == f.Round) {
			out = append(out, e)
		}
	}
	return &domain.EventsResult{Events: out}, nil
}

func setupRouter(svc Service, stream Stream) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc, stream)
	r.Route("/api/v1/raffle", func(r chi.Router) {
		h.RegisterReadRoutes(r)
		h.RegisterWriteRoutes(r)
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHandleStatus(t *testing.T) {
	router := setupRouter(&mockService{}, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/raffle/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "OPEN", resp.State)
	assert.Equal(t, "10000000000000000", resp.EntranceFee)
	assert.Equal(t, "0.01", resp.EntranceFeeEther)
	assert.Equal(t, int64(30), resp.Interval)
	assert.Equal(t, int64(1700000000), resp.LastTimestamp)
	assert.Nil(t, resp.PendingRequestID)
}

func TestHandleEnter(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		enterErr   error
		wantStatus int
		wantCode   string
	}{
		{"ether suffix", EnterRequest{Player: playerHex, Amount: "0.01ether"}, nil, http.StatusCreated, ""},
		{"wei", EnterRequest{Player: playerHex, Amount: "10000000000000000"}, nil, http.StatusCreated, ""},
		{"bad address", EnterRequest{Player: "0x123", Amount: "1"}, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad amount", EnterRequest{Player: playerHex, Amount: "lots"}, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad json", "not-an-object", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"below fee", EnterRequest{Player: playerHex, Amount: "1"}, domain.ErrNotEnoughFunds, http.StatusBadRequest, "NOT_ENOUGH_ETH_ENTERED"},
		{"calculating", EnterRequest{Player: playerHex, Amount: "0.01ether"}, domain.ErrRaffleNotOpen, http.StatusConflict, "RAFFLE_NOT_OPEN"},
		{"unfunded", EnterRequest{Player: playerHex, Amount: "0.01ether"}, fmt.Errorf("collecting entrance fee: %w", ledger.ErrInsufficientBalance), http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&mockService{enterErr: tt.enterErr}, nil)
			rec := do(t, router, http.MethodPost, "/api/v1/raffle/entries", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
				return
			}
			var resp EnterResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, common.HexToAddress(playerHex).Hex(), resp.Player)
			assert.Equal(t, "10000000000000000", resp.Amount)
		})
	}
}

func TestHandlePlayers(t *testing.T) {
	svc := &mockService{players: []common.Address{common.HexToAddress(playerHex)}}
	router := setupRouter(svc, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/raffle/players", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list PlayersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/players/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var one PlayerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, common.HexToAddress(playerHex).Hex(), one.Player)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/players/5", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/players/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpkeep(t *testing.T) {
	svc := &mockService{}
	router := setupRouter(svc, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var check UpkeepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
	assert.True(t, check.UpkeepNeeded)
	assert.Equal(t, int64(31), check.ElapsedSeconds)

	rec = do(t, router, http.MethodPost, "/api/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var performed PerformUpkeepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &performed))
	assert.Equal(t, uint64(1), performed.RequestID)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/", nil)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "CALCULATING", status.State)
	require.NotNil(t, status.PendingRequestID)
	assert.Equal(t, uint64(3), *status.PendingRequestID)

	svc.upkeepErr = &domain.UpkeepNotNeededError{Balance: big.NewInt(0), State: domain.StateCalculating}
	rec = do(t, router, http.MethodPost, "/api/v1/raffle/upkeep", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "UPKEEP_NOT_NEEDED", decodeError(t, rec).Code)
}

func TestHandleWinnersAndEvents(t *testing.T) {
	svc := &mockService{
		winners: []domain.Winner{{Round: 1, Winner: playerHex, Prize: "40", Players: 4}},
		events: []domain.Event{
			{Seq: 2, Type: "WinnerPicked", Round: 1, Winner: playerHex},
			{Seq: 1, Type: "RaffleEnter", Round: 1, Player: playerHex},
		},
	}
	router := setupRouter(svc, nil)

	rec := do(t, router, http.MethodGet, "/api/v1/raffle/winners?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var winners WinnersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &winners))
	require.Len(t, winners.Data, 1)
	assert.Equal(t, 5, winners.Pagination.Limit)
	assert.True(t, winners.Pagination.HasMore)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/events?type=RaffleEnter&round=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var evs EventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs.Data, 1)
	assert.Equal(t, playerHex, evs.Data[0].Player)

	rec = do(t, router, http.MethodGet, "/api/v1/raffle/events?round=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.listErr = fmt.Errorf("listing rounds: %w", storage.ErrInvalidCursor)
	rec = do(t, router, http.MethodGet, "/api/v1/raffle/winners?cursor=zzz", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrUnknownOrStaleRequest, http.StatusNotFound, "NONEXISTENT_REQUEST"},
		{vrf.ErrNonexistentRequest, http.StatusNotFound, "NONEXISTENT_REQUEST"},
		{fmt.Errorf("%w: rejected", domain.ErrPayoutFailed), http.StatusBadGateway, "PAYOUT_FAILED"},
		{vrf.ErrInvalidSubscription, http.StatusServiceUnavailable, "COORDINATOR_UNAVAILABLE"},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		assert.Equal(t, tt.code, decodeError(t, rec).Code)
	}
}

func TestHandleStream(t *testing.T) {
	bus := events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(setupRouter(&mockService{}, bus))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/raffle/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// the subscription is registered before the headers are flushed
	bus.Emit(ctx, events.Event{ID: "evt-1", Type: events.WinnerPicked, Winner: playerHex})

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	assert.Equal(t, "id: evt-1", lines[0])
	assert.Equal(t, "event: WinnerPicked", lines[1])
	assert.Contains(t, lines[2], `"winner":"`+playerHex+`"`)
}

func TestStreamRouteRequiresBus(t *testing.T) {
	router := setupRouter(&mockService{}, nil)
	rec := do(t, router, http.MethodGet, "/api/v1/raffle/events/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
