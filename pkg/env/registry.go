// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package env

import (
	"fmt"
	"sync"

	"blockwatch.cc/lensmod/pkg/chain"
)

// Whitelist is the set of currencies modules may charge in.
type Whitelist struct {
	mu  sync.RWMutex
	set map[chain.Address]bool
}

func NewWhitelist(currencies ...chain.Address) *Whitelist {
	w := &Whitelist{set: make(map[chain.Address]bool)}
	for _, c := range currencies {
		w.set[c] = true
	}
	return w
}

func (w *Whitelist) Add(currency chain.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.set[currency] = true
}

func (w *Whitelist) Remove(currency chain.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.set, currency)
}

func (w *Whitelist) IsWhitelisted(currency chain.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.set[currency]
}

// Treasury holds the two global fee parameters.
type Treasury struct {
	mu   sync.RWMutex
	addr chain.Address
	fee  chain.Bps
}

func NewTreasury(addr chain.Address, fee chain.Bps) (*Treasury, error) {
	t := &Treasury{}
	if err := t.Set(addr, fee); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Treasury) Set(addr chain.Address, fee chain.Bps) error {
	if chain.IsZero(addr) {
		return fmt.Errorf("treasury: %w", chain.ErrZeroAddress)
	}
	if !fee.Valid() {
		return fmt.Errorf("treasury: fee %d above %d bps", fee, chain.MaxBps)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addr, t.fee = addr, fee
	return nil
}

func (t *Treasury) TreasuryConfig() (chain.Address, chain.Bps) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr, t.fee
}

// FollowGraph records which accounts follow which profiles.
type FollowGraph struct {
	mu        sync.RWMutex
	followers map[chain.ProfileID]map[chain.Address]bool
}

func NewFollowGraph() *FollowGraph {
	return &FollowGraph{followers: make(map[chain.ProfileID]map[chain.Address]bool)}
}

func (g *FollowGraph) Follow(profile chain.ProfileID, addr chain.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.followers[profile]; !ok {
		g.followers[profile] = make(map[chain.Address]bool)
	}
	g.followers[profile][addr] = true
}

func (g *FollowGraph) Unfollow(profile chain.ProfileID, addr chain.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.followers[profile], addr)
}

func (g *FollowGraph) IsFollowing(profile chain.ProfileID, addr chain.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.followers[profile][addr]
}

func (g *FollowGraph) Count(profile chain.ProfileID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.followers[profile])
}

// Profiles is the profile registry. Ids start at 1, 0 means no profile.
type Profiles struct {
	mu     sync.RWMutex
	owners []chain.Address
	pubs   map[chain.ProfileID]chain.PubID
}

func NewProfiles() *Profiles {
	return &Profiles{pubs: make(map[chain.ProfileID]chain.PubID)}
}

func (p *Profiles) Create(owner chain.Address) (chain.ProfileID, error) {
	if chain.IsZero(owner) {
		return 0, fmt.Errorf("create profile: %w", chain.ErrZeroAddress)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners = append(p.owners, owner)
	return chain.ProfileID(len(p.owners)), nil
}

// OwnerOf returns the zero address for unknown profiles.
func (p *Profiles) OwnerOf(profile chain.ProfileID) chain.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if profile == 0 || int(profile) > len(p.owners) {
		return chain.ZeroAddress
	}
	return p.owners[profile-1]
}

// nextPub allocates the next publication id of a profile.
func (p *Profiles) nextPub(profile chain.ProfileID) chain.PubID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubs[profile]++
	return p.pubs[profile]
}

func (p *Profiles) Pubs(profile chain.ProfileID) chain.PubID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pubs[profile]
}
