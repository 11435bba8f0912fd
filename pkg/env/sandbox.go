// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package env

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/module"
)

// Named derives a stable account address from a short name.
func Named(name string) chain.Address {
	return common.BytesToAddress([]byte(name))
}

var (
	HubAddress      = Named("lens-hub")
	OracleAddress   = Named("vrf-coordinator")
	ExchangeAddress = Named("offset-exchange")
)

type SandboxConfig struct {
	Treasury    chain.Address
	TreasuryFee chain.Bps
	Currencies  []chain.Address // whitelisted
	Swappable   []chain.Address // payment tokens the exchange swaps
	Redeemable  []chain.Address // pool tokens the exchange redeems
	Clock       clockwork.Clock
}

func (cfg *SandboxConfig) Validate() error {
	if chain.IsZero(cfg.Treasury) {
		return errors.New("treasury address is required")
	}
	if !cfg.TreasuryFee.Valid() {
		return fmt.Errorf("treasury fee %d above %d bps", cfg.TreasuryFee, chain.MaxBps)
	}
	return nil
}

// Sandbox is a complete host environment with one instance of every module
// variant registered on its hub under the variant name.
type Sandbox struct {
	Ledger    *chain.Ledger
	Whitelist *Whitelist
	Treasury  *Treasury
	Follows   *FollowGraph
	Profiles  *Profiles
	Exchange  *Exchange
	Oracle    *Oracle
	Hub       *Hub
	Modules   map[string]*module.Module
}

func NewSandbox(cfg SandboxConfig) (*Sandbox, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	treasury, err := NewTreasury(cfg.Treasury, cfg.TreasuryFee)
	if err != nil {
		return nil, err
	}
	s := &Sandbox{
		Ledger:    chain.NewLedger(),
		Whitelist: NewWhitelist(cfg.Currencies...),
		Treasury:  treasury,
		Follows:   NewFollowGraph(),
		Profiles:  NewProfiles(),
		Modules:   make(map[string]*module.Module),
	}
	s.Exchange = NewExchange(ExchangeAddress, s.Ledger)
	for _, c := range cfg.Swappable {
		s.Exchange.ListSwappable(c)
	}
	for _, t := range cfg.Redeemable {
		s.Exchange.ListRedeemable(t)
	}
	s.Oracle = NewOracle(OracleAddress, cfg.Clock)
	s.Hub, err = NewHub(HubConfig{
		Address:  HubAddress,
		Ledger:   s.Ledger,
		Profiles: s.Profiles,
		Follows:  s.Follows,
	})
	if err != nil {
		return nil, err
	}
	for _, v := range module.Variants() {
		self := Named(v.Name)
		m, err := module.New(v, module.Config{
			Self:       self,
			Hub:        HubAddress,
			Oracle:     OracleAddress,
			Vault:      s.Ledger.Wallet(self),
			Whitelist:  s.Whitelist,
			Treasury:   s.Treasury,
			Follows:    s.Follows,
			Profiles:   s.Profiles,
			Offsetting: s.Exchange.Client(self),
			Randomness: s.Oracle.Client(self),
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", v, err)
		}
		s.Modules[v.Name] = m
		s.Hub.Register(v.Name, m)
		if v.Raffle {
			s.Oracle.Register(self, s.Hub.Serialize(m))
		}
	}
	return s, nil
}

// Module returns the registered instance of a variant.
func (s *Sandbox) Module(v module.Variant) *module.Module {
	return s.Modules[v.Name]
}

// Fund mints amount to holder and approves the module of variant v to pull
// all of it.
func (s *Sandbox) Fund(v module.Variant, currency, holder chain.Address, amount chain.Money) error {
	if err := s.Hub.Mint(currency, holder, amount); err != nil {
		return err
	}
	return s.Hub.Approve(holder, currency, Named(v.Name), amount)
}
