package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pendergraft/raffle/internal/config"
	"github.com/pendergraft/raffle/internal/events"
	"github.com/pendergraft/raffle/internal/ledger"
	"github.com/pendergraft/raffle/internal/networks"
	"github.com/pendergraft/raffle/internal/raffle/domain"
	"github.com/pendergraft/raffle/internal/validation"
	"github.com/pendergraft/raffle/internal/vrf"
)

// ErrUnsupportedNetwork is returned for networks that would need a real
// chain client.
var ErrUnsupportedNetwork = errors.New("network is not a development chain")

// Deployment is the coordinator and raffle instantiated for one network.
type Deployment struct {
	Network        networks.Network
	Deployer       common.Address
	Coordinator    *vrf.Coordinator
	Raffle         *domain.Raffle
	Service        domain.Service
	SubscriptionID uint64
}

// History is the persisted round history the raffle reads from. Bootstrap
// resumes numbering after the latest round it holds.
type History interface {
	domain.History
	LatestRound(ctx context.Context) (uint64, error)
}

// Bootstrap instantiates the coordinator and raffle the way a deployer
// would: the coordinator at the deployer's first contract address and the
// raffle at the second, with a funded subscription that lists the raffle
// as its consumer.
func Bootstrap(cfg *config.Config, table *networks.Table, l *ledger.Ledger, emitter events.Emitter, history History, logger *slog.Logger) (*Deployment, error) {
	network, err := table.Lookup(cfg.Chain.ChainID)
	if err != nil {
		return nil, err
	}
	if !table.IsDevelopment(network) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network.Name)
	}

	deployer, err := validation.ParseAddress(cfg.Chain.Deployer)
	if err != nil {
		return nil, fmt.Errorf("deployer: %w", err)
	}

	baseFee, err := validation.ParseEther(cfg.VRF.BaseFee)
	if err != nil {
		return nil, fmt.Errorf("vrf base fee: %w", err)
	}
	subFund, err := validation.ParseEther(cfg.VRF.SubscriptionFund)
	if err != nil {
		return nil, fmt.Errorf("vrf subscription fund: %w", err)
	}

	raffleCfg, err := raffleConfig(cfg.Raffle, network)
	if err != nil {
		return nil, err
	}

	var domainHistory domain.History
	if history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		latest, err := history.LatestRound(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("reading round history: %w", err)
		}
		raffleCfg.FirstRound = latest + 1
		domainHistory = history
	}

	coordinator := vrf.NewCoordinator(
		crypto.CreateAddress(deployer, 0),
		baseFee,
		big.NewInt(cfg.VRF.GasPriceLink),
		emitter,
	)

	subID := coordinator.CreateSubscription(deployer)
	if err := coordinator.FundSubscription(subID, subFund); err != nil {
		return nil, fmt.Errorf("funding subscription: %w", err)
	}
	raffleCfg.SubscriptionID = subID

	raffleAddr := crypto.CreateAddress(deployer, 1)
	raffle, err := domain.New(raffleCfg, domain.Deps{
		Address:     raffleAddr,
		Ledger:      l,
		Coordinator: coordinator,
		Emitter:     emitter,
		History:     domainHistory,
	})
	if err != nil {
		return nil, fmt.Errorf("creating raffle: %w", err)
	}
	svc := domain.LoggingMiddleware(logger)(raffle)

	coordinator.Attach(raffleAddr, domain.AsConsumer(svc))
	if err := coordinator.AddConsumer(subID, raffleAddr); err != nil {
		return nil, fmt.Errorf("adding consumer: %w", err)
	}

	logger.Info("raffle deployed",
		"network", network.Name,
		"chainId", network.ChainID,
		"coordinator", coordinator.Address().Hex(),
		"raffle", raffleAddr.Hex(),
		"subscriptionId", subID,
		"entranceFee", validation.FormatEther(raffleCfg.EntranceFee),
		"interval", raffleCfg.Interval,
		"round", raffleCfg.FirstRound,
	)

	return &Deployment{
		Network:        network,
		Deployer:       deployer,
		Coordinator:    coordinator,
		Raffle:         raffle,
		Service:        svc,
		SubscriptionID: subID,
	}, nil
}

// raffleConfig builds the constructor arguments from the network row and
// any environment overrides.
func raffleConfig(overrides config.RaffleConfig, network networks.Network) (domain.Config, error) {
	fee, err := network.EntranceFeeWei()
	if overrides.EntranceFee != "" {
		fee, err = validation.ParseEther(overrides.EntranceFee)
	}
	if err != nil {
		return domain.Config{}, fmt.Errorf("entrance fee: %w", err)
	}

	interval := network.IntervalDuration()
	if overrides.IntervalSeconds > 0 {
		interval = time.Duration(overrides.IntervalSeconds) * time.Second
	}

	return domain.Config{
		EntranceFee:      fee,
		Interval:         interval,
		KeyHash:          network.KeyHash(),
		CallbackGasLimit: network.CallbackGasLimit,
		MinConfirmations: uint16(network.BlockConfirmations),
	}, nil
}
