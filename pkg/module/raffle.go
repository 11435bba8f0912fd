// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"blockwatch.cc/lensmod/pkg/chain"
)

// Raffle tracks outstanding draws of one module. Pools and participant
// lists live in the entity records.
type Raffle struct {
	pending map[chain.RequestID]PendingDraw
}

func NewRaffle() *Raffle {
	return &Raffle{
		pending: make(map[chain.RequestID]PendingDraw),
	}
}

// enter appends payer and adds amount to the pool. The returned func undoes
// both writes.
func (r *Raffle) enter(rec *Record, payer chain.Address, amount chain.Money) func() {
	n, pool := len(rec.Participants), rec.RaffleAmount
	rec.Participants = append(rec.Participants, payer)
	rec.RaffleAmount += amount
	return func() {
		rec.Participants = rec.Participants[:n]
		rec.RaffleAmount = pool
	}
}

// due reports whether the entry just appended completes a round.
func (r *Raffle) due(rec *Record) (bool, error) {
	if rec.RaffleFrequency == 0 {
		return false, fmt.Errorf("%w: zero raffle frequency", ErrInvalidParameters)
	}
	return uint64(len(rec.Participants))%rec.RaffleFrequency == 0, nil
}

func (r *Raffle) track(id chain.RequestID, d PendingDraw) {
	r.pending[id] = d
}

// claim removes and returns the draw for a request id.
func (r *Raffle) claim(id chain.RequestID) (PendingDraw, bool) {
	d, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return d, ok
}

func (r *Raffle) Pending() map[chain.RequestID]PendingDraw {
	m := make(map[chain.RequestID]PendingDraw, len(r.pending))
	for k, v := range r.pending {
		m[k] = v
	}
	return m
}

func (r *Raffle) Len() int {
	return len(r.pending)
}

var errNoParticipants = errors.New("no participants")

// WinnerIndex maps a random word onto a participant list of length n.
func WinnerIndex(word *uint256.Int, n int) (int, error) {
	if n <= 0 {
		return 0, errNoParticipants
	}
	if word == nil {
		word = new(uint256.Int)
	}
	idx := new(uint256.Int).Mod(word, uint256.NewInt(uint64(n)))
	return int(idx.Uint64()), nil
}
