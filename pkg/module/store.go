// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"fmt"

	"blockwatch.cc/lensmod/pkg/chain"
)

// Store keeps one Record per entity for a single module instance.
type Store struct {
	records map[EntityKey]*Record
}

func NewStore() *Store {
	return &Store{
		records: make(map[EntityKey]*Record),
	}
}

// Get returns a copy of the record, or the zero Record when key was never
// initialized.
func (s *Store) Get(key EntityKey) Record {
	r, ok := s.records[key]
	if !ok {
		return Record{}
	}
	c := *r
	c.Participants = append([]chain.Address(nil), r.Participants...)
	return c
}

// Len returns the number of configured entities.
func (s *Store) Len() int {
	return len(s.records)
}

// lookup returns the live record for in-place mutation.
func (s *Store) lookup(key EntityKey) (*Record, bool) {
	r, ok := s.records[key]
	return r, ok
}

// put overwrites any existing record, including accumulated raffle state.
func (s *Store) put(key EntityKey, p Params) {
	s.records[key] = &Record{
		Currency:        p.Currency,
		Amount:          p.Amount,
		Recipient:       p.Recipient,
		ReferralFee:     p.ReferralFee,
		FollowerOnly:    p.FollowerOnly,
		OffsetPercent:   p.OffsetPercent,
		PoolToken:       p.PoolToken,
		RafflePercent:   p.RafflePercent,
		RaffleFrequency: p.RaffleFrequency,
	}
}

// validate checks decoded parameters against local constraints and the
// host's eligibility predicates.
func validate(v Variant, p Params, wl CurrencyWhitelist, ox Offsetting) error {
	if p.Amount == 0 {
		return fmt.Errorf("%w: zero amount", ErrInvalidParameters)
	}
	if chain.IsZero(p.Recipient) {
		return fmt.Errorf("%w: zero recipient", ErrInvalidParameters)
	}
	if !p.ReferralFee.Valid() {
		return fmt.Errorf("%w: referral fee %d above %d bps", ErrInvalidParameters, p.ReferralFee, chain.MaxBps)
	}
	if !wl.IsWhitelisted(p.Currency) {
		return fmt.Errorf("%w: currency %s not whitelisted", ErrInvalidParameters, p.Currency.Hex())
	}
	if v.Offset {
		if !p.OffsetPercent.Valid() {
			return fmt.Errorf("%w: offset percent %d above %d bps", ErrInvalidParameters, p.OffsetPercent, chain.MaxBps)
		}
		switch {
		case ox.IsSwappable(p.Currency):
			if !ox.IsRedeemable(p.PoolToken) {
				return fmt.Errorf("%w: pool token %s not redeemable", ErrInvalidParameters, p.PoolToken.Hex())
			}
		case ox.IsRedeemable(p.Currency):
		default:
			return fmt.Errorf("%w: currency %s neither swappable nor redeemable", ErrInvalidParameters, p.Currency.Hex())
		}
	}
	if v.Raffle {
		if !p.RafflePercent.Valid() {
			return fmt.Errorf("%w: raffle percent %d above %d bps", ErrInvalidParameters, p.RafflePercent, chain.MaxBps)
		}
		if p.RaffleFrequency == 0 {
			return fmt.Errorf("%w: zero raffle frequency", ErrInvalidParameters)
		}
	}
	return nil
}
