// Package networks holds the per-chain constructor parameters for the raffle
// and its randomness coordinator.
package networks

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"slices"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"github.com/pendergraft/raffle/internal/validation"
)

// ErrUnknownNetwork is returned when no entry exists for a chain id.
var ErrUnknownNetwork = errors.New("unknown network")

// Network is one row of the network table.
type Network struct {
	Name               string `toml:"name"`
	ChainID            int64  `toml:"chain_id"`
	VRFCoordinator     string `toml:"vrf_coordinator,omitempty"`
	EntranceFee        string `toml:"entrance_fee"` // ether
	GasLane            string `toml:"gas_lane"`
	SubscriptionID     uint64 `toml:"subscription_id,omitempty"`
	CallbackGasLimit   uint32 `toml:"callback_gas_limit"`
	Interval           int    `toml:"interval"` // seconds
	BlockConfirmations int    `toml:"block_confirmations,omitempty"`
}

// Table maps chain ids to networks.
type Table struct {
	networks    map[int64]Network
	development []string
}

// fileFormat is the on-disk TOML layout.
type fileFormat struct {
	DevelopmentChains []string  `toml:"development_chains"`
	Networks          []Network `toml:"networks"`
}

const defaultGasLane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"

// Default returns the built-in table.
func Default() *Table {
	t := &Table{
		networks:    make(map[int64]Network),
		development: []string{"hardhat", "localhost"},
	}
	t.Add(Network{
		Name:             "hardhat",
		ChainID:          31337,
		EntranceFee:      "0.01",
		GasLane:          defaultGasLane,
		CallbackGasLimit: 500000,
		Interval:         30,
	})
	t.Add(Network{
		Name:               "sepolia",
		ChainID:            11155111,
		VRFCoordinator:     "0x8103B0A8A00be2DDC778e6e7eaa21791Cd364625",
		EntranceFee:        "0.01",
		GasLane:            defaultGasLane,
		SubscriptionID:     1,
		CallbackGasLimit:   500000,
		Interval:           30,
		BlockConfirmations: 6,
	})
	return t
}

// Load returns the built-in table with entries from a TOML file layered on top.
// An empty path returns the defaults.
func Load(path string) (*Table, error) {
	t := Default()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading networks file: %w", err)
	}

	var f fileFormat
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parsing networks file: %w", err)
	}

	for _, n := range f.Networks {
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("network %q: %w", n.Name, err)
		}
		t.Add(n)
	}
	if len(f.DevelopmentChains) > 0 {
		t.development = f.DevelopmentChains
	}
	return t, nil
}

// Add inserts or replaces a network.
func (t *Table) Add(n Network) {
	t.networks[n.ChainID] = n
}

// Lookup returns the network for a chain id.
func (t *Table) Lookup(chainID int64) (Network, error) {
	n, ok := t.networks[chainID]
	if !ok {
		return Network{}, fmt.Errorf("%w: chain id %d", ErrUnknownNetwork, chainID)
	}
	return n, nil
}

// IsDevelopment reports whether the network runs the in-process mock coordinator.
func (t *Table) IsDevelopment(n Network) bool {
	return slices.Contains(t.development, n.Name)
}

// Validate checks that the numeric and hex fields parse.
func (n Network) Validate() error {
	if err := validation.ValidateChainID(n.ChainID); err != nil {
		return err
	}
	if _, err := validation.ParseEther(n.EntranceFee); err != nil {
		return fmt.Errorf("entrance fee: %w", err)
	}
	if len(common.FromHex(n.GasLane)) != common.HashLength {
		return fmt.Errorf("gas lane must be a 32-byte hex string")
	}
	if n.VRFCoordinator != "" {
		if err := validation.ValidateAddress(n.VRFCoordinator); err != nil {
			return fmt.Errorf("vrf coordinator: %w", err)
		}
	}
	if n.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if n.CallbackGasLimit == 0 {
		return errors.New("callback gas limit must be positive")
	}
	return nil
}

// EntranceFeeWei returns the entrance fee in wei.
func (n Network) EntranceFeeWei() (*big.Int, error) {
	return validation.ParseEther(n.EntranceFee)
}

// KeyHash returns the gas lane as a hash.
func (n Network) KeyHash() common.Hash {
	return common.HexToHash(n.GasLane)
}

// IntervalDuration returns the upkeep interval.
func (n Network) IntervalDuration() time.Duration {
	return time.Duration(n.Interval) * time.Second
}
