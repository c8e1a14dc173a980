// Package ledger tracks native-coin balances in wei for every account the
// raffle interacts with. Balances live in an in-memory go-ethereum state
// database, the same account model a development chain uses.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

// Common errors returned by the ledger.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferRejected    = errors.New("recipient rejected transfer")
	ErrInvalidAmount       = errors.New("invalid amount")
)

// Ledger holds balances keyed by address. StateDB is not safe for
// concurrent use, so every access goes through mu.
type Ledger struct {
	mu        sync.RWMutex
	state     *state.StateDB
	rejecting map[common.Address]bool
}

// New creates an empty ledger.
func New() *Ledger {
	db := state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil)
	sdb, err := state.New(types.EmptyRootHash, db)
	if err != nil {
		// The empty root is always resolvable in a fresh memory database.
		panic(fmt.Sprintf("ledger: opening state: %v", err))
	}
	return &Ledger{
		state:     sdb,
		rejecting: make(map[common.Address]bool),
	}
}

// Balance returns a copy of the balance held by addr.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.state.GetBalance(addr).ToBig()
}

// Credit mints amount into addr. Used by the development faucet.
func (l *Ledger) Credit(ctx context.Context, addr common.Address, amount *big.Int) error {
	value, err := toWei(amount)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if new(uint256.Int).Sub(maxBalance, l.state.GetBalance(addr)).Lt(value) {
		return fmt.Errorf("%w: balance of %s would overflow", ErrInvalidAmount, addr.Hex())
	}
	l.state.AddBalance(addr, value, tracing.BalanceIncreaseGenesisBalance)
	l.state.Finalise(false)
	return nil
}

// Transfer moves amount from one account to another. Either both balances
// change or neither does.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	value, err := toWei(amount)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.state.GetBalance(from)
	if have.Lt(value) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), have.ToBig(), amount)
	}

	snap := l.state.Snapshot()
	l.state.SubBalance(from, value, tracing.BalanceChangeTransfer)
	if l.rejecting[to] {
		l.state.RevertToSnapshot(snap)
		return fmt.Errorf("%w: %s", ErrTransferRejected, to.Hex())
	}
	l.state.AddBalance(to, value, tracing.BalanceChangeTransfer)
	l.state.Finalise(false)
	return nil
}

// RejectPayments makes every future transfer to addr fail, modelling a
// recipient contract without a payable fallback.
func (l *Ledger) RejectPayments(addr common.Address, reject bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if reject {
		l.rejecting[addr] = true
		return
	}
	delete(l.rejecting, addr)
}

var maxBalance = new(uint256.Int).SetAllOne()

func toWei(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidAmount, amount)
	}
	return value, nil
}
