// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package env

import (
	"errors"
	"fmt"
	"sync"

	"github.com/echa/log"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/module"
)

var (
	ErrNotSwappable = errors.New("currency is not swappable")
	ErrNotRetirable = errors.New("token is not redeemable")
)

// Retirement is one batch of carbon credits retired on behalf of a caller.
type Retirement struct {
	Beneficiary chain.Address
	Source      chain.Address // token paid in
	PoolToken   chain.Address // credit pool the retirement was booked in
	Amount      chain.Money
	Swapped     bool
}

// Exchange is a carbon offset exchange. It pulls approved funds from its
// callers into its own account and books a retirement for every batch.
type Exchange struct {
	mu          sync.Mutex
	addr        chain.Address
	ledger      *chain.Ledger
	swappable   map[chain.Address]bool
	redeemable  map[chain.Address]bool
	retirements []Retirement
	halted      error
}

func NewExchange(addr chain.Address, ledger *chain.Ledger) *Exchange {
	return &Exchange{
		addr:       addr,
		ledger:     ledger,
		swappable:  make(map[chain.Address]bool),
		redeemable: make(map[chain.Address]bool),
	}
}

func (x *Exchange) Address() chain.Address {
	return x.addr
}

// ListSwappable allows a payment token to be swapped into pool tokens.
func (x *Exchange) ListSwappable(currency chain.Address) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.swappable[currency] = true
}

// ListRedeemable allows a pool token to be redeemed for credits.
func (x *Exchange) ListRedeemable(token chain.Address) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.redeemable[token] = true
}

// Halt makes every retirement fail with err until Halt(nil) is called.
func (x *Exchange) Halt(err error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.halted = err
}

func (x *Exchange) IsSwappable(currency chain.Address) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.swappable[currency]
}

func (x *Exchange) IsRedeemable(token chain.Address) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.redeemable[token]
}

// Retirements returns a copy of all retirements in booking order.
func (x *Exchange) Retirements() []Retirement {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]Retirement(nil), x.retirements...)
}

// Retired sums retired amounts for one beneficiary.
func (x *Exchange) Retired(beneficiary chain.Address) chain.Money {
	x.mu.Lock()
	defer x.mu.Unlock()
	var sum chain.Money
	for _, r := range x.retirements {
		if r.Beneficiary == beneficiary {
			sum += r.Amount
		}
	}
	return sum
}

// Client returns the exchange as seen by caller.
func (x *Exchange) Client(caller chain.Address) *ExchangeClient {
	return &ExchangeClient{x: x, caller: caller}
}

func (x *Exchange) retire(caller, source, pool chain.Address, amount chain.Money, swap bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.halted != nil {
		return x.halted
	}
	if swap && !x.swappable[source] {
		return fmt.Errorf("swap %s: %w", source.Hex(), ErrNotSwappable)
	}
	if !x.redeemable[pool] {
		return fmt.Errorf("redeem %s: %w", pool.Hex(), ErrNotRetirable)
	}
	if err := x.ledger.Wallet(x.addr).TransferFrom(source, caller, x.addr, amount); err != nil {
		return err
	}
	x.retirements = append(x.retirements, Retirement{
		Beneficiary: caller,
		Source:      source,
		PoolToken:   pool,
		Amount:      amount,
		Swapped:     swap,
	})
	log.Debugf("exchange: retired %s of %s for %s", amount, pool.Hex(), caller.Hex())
	return nil
}

// ExchangeClient binds the exchange to the account that calls it.
type ExchangeClient struct {
	x      *Exchange
	caller chain.Address
}

var _ module.Offsetting = (*ExchangeClient)(nil)

func (c *ExchangeClient) Address() chain.Address {
	return c.x.Address()
}

func (c *ExchangeClient) IsSwappable(currency chain.Address) bool {
	return c.x.IsSwappable(currency)
}

func (c *ExchangeClient) IsRedeemable(token chain.Address) bool {
	return c.x.IsRedeemable(token)
}

func (c *ExchangeClient) SwapAndRetire(currency, poolToken chain.Address, amount chain.Money) error {
	return c.x.retire(c.caller, currency, poolToken, amount, true)
}

func (c *ExchangeClient) RedeemAndRetire(token chain.Address, amount chain.Money) error {
	return c.x.retire(c.caller, token, token, amount, false)
}
