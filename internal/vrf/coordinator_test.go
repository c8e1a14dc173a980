package vrf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/raffle/internal/events"
)

var (
	owner    = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	consumer = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stranger = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type recordingConsumer struct {
	mu    sync.Mutex
	calls []RequestID
	words [][]*big.Int
	err   error
}

func (r *recordingConsumer) RawFulfillRandomWords(ctx context.Context, id RequestID, words []*big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.calls = append(r.calls, id)
	r.words = append(r.words, words)
	return nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(ctx context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func link(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// setup returns a coordinator with a subscription funded with 30 LINK and an
// attached consumer.
func setup(t *testing.T) (*Coordinator, uint64, *recordingConsumer, *captureEmitter) {
	t.Helper()
	em := &captureEmitter{}
	baseFee := new(big.Int).Div(link(1), big.NewInt(4))
	c := NewCoordinator(common.HexToAddress("0xc0"), baseFee, big.NewInt(1e9), em)

	subID := c.CreateSubscription(owner)
	require.NoError(t, c.FundSubscription(subID, link(30)))
	require.NoError(t, c.AddConsumer(subID, consumer))

	rc := &recordingConsumer{}
	c.Attach(consumer, rc)
	return c, subID, rc, em
}

func params(subID uint64) RequestParams {
	return RequestParams{
		SubscriptionID:   subID,
		MinConfirmations: 3,
		CallbackGasLimit: 500000,
		NumWords:         1,
	}
}

func TestCoordinator_Subscriptions(t *testing.T) {
	c := NewCoordinator(common.Address{}, big.NewInt(1), big.NewInt(1), nil)

	first := c.CreateSubscription(owner)
	second := c.CreateSubscription(owner)
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	require.NoError(t, c.FundSubscription(first, big.NewInt(100)))
	require.NoError(t, c.AddConsumer(first, consumer))
	assert.ErrorIs(t, c.AddConsumer(first, consumer), ErrConsumerAlreadyAdded)

	sub, err := c.GetSubscription(first)
	require.NoError(t, err)
	assert.Equal(t, owner, sub.Owner)
	assert.Equal(t, "100", sub.Balance.String())
	assert.Equal(t, []common.Address{consumer}, sub.Consumers)

	// snapshot is a copy
	sub.Balance.SetInt64(0)
	again, _ := c.GetSubscription(first)
	assert.Equal(t, "100", again.Balance.String())

	require.NoError(t, c.RemoveConsumer(first, consumer))
	assert.ErrorIs(t, c.RemoveConsumer(first, consumer), ErrInvalidConsumer)

	_, err = c.GetSubscription(99)
	assert.ErrorIs(t, err, ErrInvalidSubscription)
	assert.ErrorIs(t, c.FundSubscription(99, big.NewInt(1)), ErrInvalidSubscription)
	assert.ErrorIs(t, c.FundSubscription(first, big.NewInt(0)), ErrInvalidRequest)
	assert.ErrorIs(t, c.AddConsumer(99, consumer), ErrInvalidSubscription)
}

func TestCoordinator_RequestRandomWords(t *testing.T) {
	ctx := context.Background()
	c, subID, _, em := setup(t)

	id1, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)
	id2, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	assert.Equal(t, RequestID(1), id1)
	assert.Equal(t, RequestID(2), id2)

	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, id1, pending[0].ID)
	assert.Equal(t, consumer, pending[0].Consumer)

	require.Len(t, em.events, 2)
	assert.Equal(t, events.RandomWordsRequested, em.events[0].Type)
	assert.Equal(t, uint64(1), em.events[0].RequestID)
}

func TestCoordinator_RequestRandomWordsRejects(t *testing.T) {
	ctx := context.Background()
	c, subID, _, _ := setup(t)

	tests := []struct {
		name     string
		consumer common.Address
		params   RequestParams
		wantErr  error
	}{
		{"unknown subscription", consumer, params(42), ErrInvalidSubscription},
		{"unregistered consumer", stranger, params(subID), ErrInvalidConsumer},
		{"zero words", consumer, RequestParams{SubscriptionID: subID}, ErrInvalidRequest},
		{"too many words", consumer, RequestParams{SubscriptionID: subID, NumWords: MaxNumWords + 1}, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.RequestRandomWords(ctx, tt.consumer, tt.params)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Empty(t, c.Pending())
}

func TestCoordinator_FulfillRandomWords(t *testing.T) {
	ctx := context.Background()
	c, subID, rc, em := setup(t)

	id, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	require.NoError(t, c.FulfillRandomWords(ctx, id, consumer))

	require.Equal(t, []RequestID{id}, rc.calls)
	require.Len(t, rc.words[0], 1)
	assert.Equal(t, DeriveWords(id, 1)[0], rc.words[0][0])
	assert.Empty(t, c.Pending())

	// 30 LINK - (0.25 LINK + 500000 * 1e9)
	sub, _ := c.GetSubscription(subID)
	want := new(big.Int).Sub(link(30), c.Payment(500000))
	assert.Equal(t, want.String(), sub.Balance.String())

	last := em.events[len(em.events)-1]
	assert.Equal(t, events.RandomWordsFulfilled, last.Type)
	assert.Equal(t, c.Payment(500000).String(), last.Amount)

	// consumed ids are gone
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id, consumer), ErrNonexistentRequest)
}

func TestCoordinator_FulfillUnknownRequest(t *testing.T) {
	c, _, _, _ := setup(t)
	assert.ErrorIs(t, c.FulfillRandomWords(context.Background(), 1, consumer), ErrNonexistentRequest)
}

func TestCoordinator_FulfillWithOverride(t *testing.T) {
	ctx := context.Background()
	c, subID, rc, _ := setup(t)

	id, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	err = c.FulfillRandomWordsWithOverride(ctx, id, consumer, []*big.Int{big.NewInt(1), big.NewInt(2)})
	assert.ErrorIs(t, err, ErrInvalidRandomWords)

	err = c.FulfillRandomWordsWithOverride(ctx, id, stranger, []*big.Int{big.NewInt(7)})
	assert.ErrorIs(t, err, ErrInvalidConsumer)

	require.NoError(t, c.FulfillRandomWordsWithOverride(ctx, id, consumer, []*big.Int{big.NewInt(7)}))
	assert.Equal(t, "7", rc.words[0][0].String())
}

func TestCoordinator_FailedCallbackKeepsRequestPending(t *testing.T) {
	ctx := context.Background()
	c, subID, rc, _ := setup(t)

	id, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	rc.err = errors.New("payout failed")
	err = c.FulfillRandomWords(ctx, id, consumer)
	require.ErrorIs(t, err, ErrCallbackFailed)

	sub, _ := c.GetSubscription(subID)
	assert.Equal(t, link(30).String(), sub.Balance.String())
	require.Len(t, c.Pending(), 1)

	rc.err = nil
	require.NoError(t, c.FulfillRandomWords(ctx, id, consumer))
	assert.Empty(t, c.Pending())
}

func TestCoordinator_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(common.Address{}, big.NewInt(100), big.NewInt(1), nil)
	subID := c.CreateSubscription(owner)
	require.NoError(t, c.AddConsumer(subID, consumer))
	c.Attach(consumer, &recordingConsumer{})

	id, err := c.RequestRandomWords(ctx, consumer, RequestParams{SubscriptionID: subID, CallbackGasLimit: 10, NumWords: 1})
	require.NoError(t, err)

	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id, common.Address{}), ErrInsufficientBalance)

	require.NoError(t, c.FundSubscription(subID, big.NewInt(110)))
	require.NoError(t, c.FulfillRandomWords(ctx, id, common.Address{}))

	sub, _ := c.GetSubscription(subID)
	assert.Equal(t, "0", sub.Balance.String())
}

func TestCoordinator_ConsumerNotAttached(t *testing.T) {
	ctx := context.Background()
	c := NewCoordinator(common.Address{}, big.NewInt(1), big.NewInt(1), nil)
	subID := c.CreateSubscription(owner)
	require.NoError(t, c.FundSubscription(subID, big.NewInt(1000)))
	require.NoError(t, c.AddConsumer(subID, consumer))

	id, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)
	assert.ErrorIs(t, c.FulfillRandomWords(ctx, id, consumer), ErrConsumerNotAttached)
}

// reentrantConsumer requests the next round from inside its callback.
type reentrantConsumer struct {
	c     *Coordinator
	subID uint64
	next  RequestID
}

func (r *reentrantConsumer) RawFulfillRandomWords(ctx context.Context, id RequestID, words []*big.Int) error {
	next, err := r.c.RequestRandomWords(ctx, consumer, params(r.subID))
	r.next = next
	return err
}

func TestCoordinator_CallbackMayReenter(t *testing.T) {
	ctx := context.Background()
	c, subID, _, _ := setup(t)
	rc := &reentrantConsumer{c: c, subID: subID}
	c.Attach(consumer, rc)

	id, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.FulfillRandomWords(ctx, id, consumer) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fulfillment deadlocked")
	}
	assert.Equal(t, RequestID(2), rc.next)
}

func TestDeriveWords(t *testing.T) {
	words := DeriveWords(1, 2)
	require.Len(t, words, 2)

	enc := append(common.LeftPadBytes([]byte{1}, 32), common.LeftPadBytes([]byte{0}, 32)...)
	assert.Equal(t, new(big.Int).SetBytes(crypto.Keccak256(enc)), words[0])
	assert.NotEqual(t, words[0], words[1])
	assert.Equal(t, words, DeriveWords(1, 2))
}

func TestResponder_FulfillDue(t *testing.T) {
	ctx := context.Background()
	c, subID, rc, _ := setup(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	_, err := c.RequestRandomWords(ctx, consumer, params(subID))
	require.NoError(t, err)

	r := NewResponder(c, 5*time.Second, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r.now = func() time.Time { return base.Add(2 * time.Second) }
	assert.Equal(t, 0, r.FulfillDue(ctx))

	r.now = func() time.Time { return base.Add(5 * time.Second) }
	assert.Equal(t, 1, r.FulfillDue(ctx))
	assert.Len(t, rc.calls, 1)
	assert.Empty(t, c.Pending())
}

func TestResponder_RunStopsOnCancel(t *testing.T) {
	c, _, _, _ := setup(t)
	r := NewResponder(c, 0, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("responder did not stop")
	}
}
