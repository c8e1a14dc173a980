// Package vrf implements an in-process verifiable-randomness coordinator for
// development chains. It manages funded subscriptions, hands out request ids
// and later calls back into the requesting consumer with random words.
package vrf

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/raffle/internal/events"
)

// MaxNumWords is the most random words a single request may ask for.
const MaxNumWords = 500

// Errors returned by the coordinator.
var (
	ErrNonexistentRequest   = errors.New("nonexistent request")
	ErrRequestInFlight      = errors.New("request is being fulfilled")
	ErrInvalidSubscription  = errors.New("invalid subscription")
	ErrInvalidConsumer      = errors.New("invalid consumer")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInvalidRandomWords   = errors.New("invalid random words")
	ErrConsumerNotAttached  = errors.New("consumer not attached")
	ErrCallbackFailed       = errors.New("consumer callback failed")
	ErrConsumerAlreadyAdded = errors.New("consumer already added")
)

// RequestID identifies a randomness request.
type RequestID uint64

// Consumer receives random words for requests it issued.
type Consumer interface {
	RawFulfillRandomWords(ctx context.Context, id RequestID, words []*big.Int) error
}

// RequestParams are the coordinates of a randomness request.
type RequestParams struct {
	KeyHash          common.Hash
	SubscriptionID   uint64
	MinConfirmations uint16
	CallbackGasLimit uint32
	NumWords         uint32
}

// Request is a snapshot of a pending request.
type Request struct {
	ID               RequestID      `json:"id"`
	SubscriptionID   uint64         `json:"subscriptionId"`
	Consumer         common.Address `json:"consumer"`
	KeyHash          common.Hash    `json:"keyHash"`
	CallbackGasLimit uint32         `json:"callbackGasLimit"`
	NumWords         uint32         `json:"numWords"`
	RequestedAt      time.Time      `json:"requestedAt"`
}

// Subscription is a snapshot of a subscription.
type Subscription struct {
	ID        uint64           `json:"id"`
	Owner     common.Address   `json:"owner"`
	Balance   *big.Int         `json:"balance"`
	Requests  uint64           `json:"requests"`
	Consumers []common.Address `json:"consumers"`
}

type subscription struct {
	owner     common.Address
	balance   *big.Int
	requests  uint64
	consumers []common.Address
}

func (s *subscription) hasConsumer(addr common.Address) bool {
	for _, c := range s.consumers {
		if c == addr {
			return true
		}
	}
	return false
}

type pendingRequest struct {
	Request
	inFlight bool
}

// Coordinator is the mock randomness coordinator.
type Coordinator struct {
	mu sync.Mutex

	address      common.Address
	baseFee      *big.Int
	gasPriceLink *big.Int

	subs      map[uint64]*subscription
	requests  map[RequestID]*pendingRequest
	contracts map[common.Address]Consumer

	lastSubID     uint64
	lastRequestID RequestID

	emitter events.Emitter
	now     func() time.Time
}

// NewCoordinator creates a coordinator at address charging baseFee plus
// callbackGasLimit*gasPriceLink per fulfilled request.
func NewCoordinator(address common.Address, baseFee, gasPriceLink *big.Int, emitter events.Emitter) *Coordinator {
	return &Coordinator{
		address:      address,
		baseFee:      new(big.Int).Set(baseFee),
		gasPriceLink: new(big.Int).Set(gasPriceLink),
		subs:         make(map[uint64]*subscription),
		requests:     make(map[RequestID]*pendingRequest),
		contracts:    make(map[common.Address]Consumer),
		emitter:      emitter,
		now:          time.Now,
	}
}

// Address returns the coordinator's address.
func (c *Coordinator) Address() common.Address {
	return c.address
}

// BaseFee returns the flat fee charged per fulfillment.
func (c *Coordinator) BaseFee() *big.Int {
	return new(big.Int).Set(c.baseFee)
}

// GasPriceLink returns the per-gas price charged per fulfillment.
func (c *Coordinator) GasPriceLink() *big.Int {
	return new(big.Int).Set(c.gasPriceLink)
}

// Attach binds a consumer implementation to its address so fulfillment can
// call back into it.
func (c *Coordinator) Attach(addr common.Address, consumer Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = consumer
}

// CreateSubscription creates an empty subscription owned by owner.
func (c *Coordinator) CreateSubscription(owner common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSubID++
	c.subs[c.lastSubID] = &subscription{owner: owner, balance: new(big.Int)}
	return c.lastSubID
}

// FundSubscription adds amount to a subscription's balance.
func (c *Coordinator) FundSubscription(subID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	sub.balance.Add(sub.balance, amount)
	return nil
}

// AddConsumer authorizes consumer to request randomness against subID.
func (c *Coordinator) AddConsumer(subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	if sub.hasConsumer(consumer) {
		return ErrConsumerAlreadyAdded
	}
	sub.consumers = append(sub.consumers, consumer)
	return nil
}

// RemoveConsumer revokes a consumer's authorization.
func (c *Coordinator) RemoveConsumer(subID uint64, consumer common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return ErrInvalidSubscription
	}
	for i, addr := range sub.consumers {
		if addr == consumer {
			sub.consumers = append(sub.consumers[:i], sub.consumers[i+1:]...)
			return nil
		}
	}
	return ErrInvalidConsumer
}

// GetSubscription returns a snapshot of a subscription.
func (c *Coordinator) GetSubscription(subID uint64) (*Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[subID]
	if !ok {
		return nil, ErrInvalidSubscription
	}
	return &Subscription{
		ID:        subID,
		Owner:     sub.owner,
		Balance:   new(big.Int).Set(sub.balance),
		Requests:  sub.requests,
		Consumers: append([]common.Address(nil), sub.consumers...),
	}, nil
}

// RequestRandomWords registers a request from consumer and returns its id.
// Ids start at 1 and strictly increase.
func (c *Coordinator) RequestRandomWords(ctx context.Context, consumer common.Address, params RequestParams) (RequestID, error) {
	if params.NumWords == 0 || params.NumWords > MaxNumWords {
		return 0, fmt.Errorf("%w: numWords must be between 1 and %d", ErrInvalidRequest, MaxNumWords)
	}

	c.mu.Lock()
	sub, ok := c.subs[params.SubscriptionID]
	if !ok {
		c.mu.Unlock()
		return 0, ErrInvalidSubscription
	}
	if !sub.hasConsumer(consumer) {
		c.mu.Unlock()
		return 0, ErrInvalidConsumer
	}

	c.lastRequestID++
	id := c.lastRequestID
	sub.requests++
	c.requests[id] = &pendingRequest{Request: Request{
		ID:               id,
		SubscriptionID:   params.SubscriptionID,
		Consumer:         consumer,
		KeyHash:          params.KeyHash,
		CallbackGasLimit: params.CallbackGasLimit,
		NumWords:         params.NumWords,
		RequestedAt:      c.now(),
	}}
	c.mu.Unlock()

	c.emit(ctx, events.Event{
		Type:           events.RandomWordsRequested,
		RequestID:      uint64(id),
		SubscriptionID: params.SubscriptionID,
		Consumer:       consumer.Hex(),
	})
	return id, nil
}

// Pending returns the outstanding requests ordered by id.
func (c *Coordinator) Pending() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Request, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r.Request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Payment returns what fulfilling a request with the given gas limit costs.
func (c *Coordinator) Payment(callbackGasLimit uint32) *big.Int {
	p := new(big.Int).SetUint64(uint64(callbackGasLimit))
	p.Mul(p, c.gasPriceLink)
	return p.Add(p, c.baseFee)
}

// FulfillRandomWords fulfills a request with words derived from its id.
// A zero consumer address means the consumer recorded on the request.
func (c *Coordinator) FulfillRandomWords(ctx context.Context, id RequestID, consumer common.Address) error {
	return c.FulfillRandomWordsWithOverride(ctx, id, consumer, nil)
}

// FulfillRandomWordsWithOverride fulfills a request with the given words, or
// with derived words when words is empty. The subscription is charged only
// if the consumer accepts the words; otherwise the request stays pending.
func (c *Coordinator) FulfillRandomWordsWithOverride(ctx context.Context, id RequestID, consumer common.Address, words []*big.Int) error {
	req, target, payment, err := c.begin(id, consumer, len(words))
	if err != nil {
		return err
	}
	if len(words) == 0 {
		words = DeriveWords(id, req.NumWords)
	}

	// Called without holding c.mu: the consumer may call back into the
	// coordinator to request the next round.
	cbErr := target.RawFulfillRandomWords(ctx, id, words)

	c.mu.Lock()
	if cbErr != nil {
		if r, ok := c.requests[id]; ok {
			r.inFlight = false
		}
		if sub, ok := c.subs[req.SubscriptionID]; ok {
			sub.balance.Add(sub.balance, payment)
		}
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCallbackFailed, cbErr)
	}
	delete(c.requests, id)
	c.mu.Unlock()

	c.emit(ctx, events.Event{
		Type:           events.RandomWordsFulfilled,
		RequestID:      uint64(id),
		SubscriptionID: req.SubscriptionID,
		Consumer:       req.Consumer.Hex(),
		Amount:         payment.String(),
		RandomWord:     words[0].String(),
	})
	return nil
}

// begin validates a fulfillment, reserves the payment and marks the request
// in flight.
func (c *Coordinator) begin(id RequestID, consumer common.Address, numOverride int) (Request, Consumer, *big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.requests[id]
	if !ok {
		return Request{}, nil, nil, ErrNonexistentRequest
	}
	if r.inFlight {
		return Request{}, nil, nil, ErrRequestInFlight
	}
	if consumer != (common.Address{}) && consumer != r.Consumer {
		return Request{}, nil, nil, ErrInvalidConsumer
	}
	if numOverride != 0 && numOverride != int(r.NumWords) {
		return Request{}, nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidRandomWords, r.NumWords, numOverride)
	}
	target, ok := c.contracts[r.Consumer]
	if !ok {
		return Request{}, nil, nil, ErrConsumerNotAttached
	}
	sub, ok := c.subs[r.SubscriptionID]
	if !ok {
		return Request{}, nil, nil, ErrInvalidSubscription
	}
	payment := c.Payment(r.CallbackGasLimit)
	if sub.balance.Cmp(payment) < 0 {
		return Request{}, nil, nil, ErrInsufficientBalance
	}

	sub.balance.Sub(sub.balance, payment)
	r.inFlight = true
	return r.Request, target, payment, nil
}

func (c *Coordinator) emit(ctx context.Context, e events.Event) {
	if c.emitter != nil {
		c.emitter.Emit(ctx, e)
	}
}

// DeriveWords returns keccak256(abi.encode(id, i)) for i in [0, n).
func DeriveWords(id RequestID, n uint32) []*big.Int {
	idWord := common.BigToHash(new(big.Int).SetUint64(uint64(id)))
	words := make([]*big.Int, n)
	for i := uint32(0); i < n; i++ {
		idx := common.BigToHash(new(big.Int).SetUint64(uint64(i)))
		words[i] = new(big.Int).SetBytes(crypto.Keccak256(idWord.Bytes(), idx.Bytes()))
	}
	return words
}
