// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package env

import (
	"errors"
	"fmt"
	"sync"

	"github.com/echa/log"
	"github.com/holiman/uint256"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/module"
)

var (
	ErrNotOwner      = errors.New("caller does not own profile")
	ErrUnknownModule = errors.New("unknown module")
	ErrNoModule      = errors.New("no module attached")
)

type HubConfig struct {
	Address  chain.Address
	Ledger   *chain.Ledger
	Profiles *Profiles
	Follows  *FollowGraph
}

func (cfg *HubConfig) Validate() error {
	if chain.IsZero(cfg.Address) {
		return errors.New("hub address is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Profiles == nil {
		return errors.New("profile registry is required")
	}
	if cfg.Follows == nil {
		return errors.New("follow graph is required")
	}
	return nil
}

// Hub is the trusted host. It owns publication and follow state and is the
// only account modules accept process and init calls from. Every call that
// writes to the ledger, including faucet writes and randomness fulfillments,
// runs under the hub lock, so ledger snapshots never overlap. Module calls
// advance the height by one.
type Hub struct {
	mu      sync.Mutex
	cfg     HubConfig
	height  int64
	modules map[string]module.Contract
	collect map[module.EntityKey]string
	follow  map[chain.ProfileID]string
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hub{
		cfg:     cfg,
		modules: make(map[string]module.Contract),
		collect: make(map[module.EntityKey]string),
		follow:  make(map[chain.ProfileID]string),
	}, nil
}

func (h *Hub) Address() chain.Address {
	return h.cfg.Address
}

func (h *Hub) Height() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.height
}

// Register makes a module available under name.
func (h *Hub) Register(name string, m module.Contract) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.modules[name] = m
}

func (h *Hub) Module(name string) (module.Contract, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.modules[name]
	return m, ok
}

// CollectModule returns the module name attached to a publication.
func (h *Hub) CollectModule(key module.EntityKey) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.collect[key]
	return name, ok
}

// FollowModule returns the module name attached to a profile.
func (h *Hub) FollowModule(profile chain.ProfileID) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.follow[profile]
	return name, ok
}

func (h *Hub) CreateProfile(owner chain.Address) (chain.ProfileID, error) {
	id, err := h.cfg.Profiles.Create(owner)
	if err != nil {
		return 0, err
	}
	log.Infof("hub: created profile %d for %s", id, owner.Hex())
	return id, nil
}

// next advances the height and returns the context for one module call.
// Callers hold h.mu.
func (h *Hub) next() chain.CallContext {
	h.height++
	return chain.CallContext{Caller: h.cfg.Address, Height: h.height}
}

func (h *Hub) lookup(name string) (module.Contract, error) {
	m, ok := h.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownModule, name)
	}
	return m, nil
}

func (h *Hub) checkOwner(owner chain.Address, profile chain.ProfileID) error {
	if h.cfg.Profiles.OwnerOf(profile) != owner || chain.IsZero(owner) {
		return fmt.Errorf("profile %d: %w", profile, ErrNotOwner)
	}
	return nil
}

// Post creates a publication with a collect module. The publication id is
// only allocated when the module accepts its parameters.
func (h *Hub) Post(owner chain.Address, profile chain.ProfileID, name string, params []byte) (chain.PubID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOwner(owner, profile); err != nil {
		return 0, err
	}
	m, err := h.lookup(name)
	if err != nil {
		return 0, err
	}
	key := module.PubKey(profile, h.cfg.Profiles.Pubs(profile)+1)
	if _, err := m.InitializeCollect(h.next(), key, params); err != nil {
		return 0, err
	}
	pub := h.cfg.Profiles.nextPub(profile)
	h.collect[key] = name
	log.Infof("hub: profile %d posted %d with %s", profile, pub, name)
	return pub, nil
}

// SetFollowModule attaches or reconfigures the follow module of a profile.
func (h *Hub) SetFollowModule(owner chain.Address, profile chain.ProfileID, name string, params []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.checkOwner(owner, profile); err != nil {
		return err
	}
	m, err := h.lookup(name)
	if err != nil {
		return err
	}
	if _, err := m.InitializeFollow(h.next(), profile, params); err != nil {
		return err
	}
	h.follow[profile] = name
	log.Infof("hub: profile %d follow module set to %s", profile, name)
	return nil
}

// Collect charges collector through the collect module of a publication.
func (h *Hub) Collect(collector chain.Address, key module.EntityKey, referrer chain.ProfileID, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	name, ok := h.collect[key]
	if !ok {
		return fmt.Errorf("publication %d/%d: %w", key.Profile, key.Pub, ErrNoModule)
	}
	m, err := h.lookup(name)
	if err != nil {
		return err
	}
	if err := m.ProcessCollect(h.next(), referrer, collector, key, payload); err != nil {
		return err
	}
	log.Debugf("hub: %s collected %d/%d", collector.Hex(), key.Profile, key.Pub)
	return nil
}

// Mint credits amount of currency to an account.
func (h *Hub) Mint(currency, to chain.Address, amount chain.Money) error {
	if chain.IsZero(to) {
		return fmt.Errorf("mint: %w", chain.ErrZeroAddress)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.Ledger.Mint(currency, to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's currency balance.
func (h *Hub) Approve(owner, currency, spender chain.Address, amount chain.Money) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg.Ledger.Wallet(owner).Approve(currency, spender, amount)
}

// Serialize wraps a randomness consumer so its fulfillments run under the
// hub lock.
func (h *Hub) Serialize(c Consumer) Consumer {
	return &hubConsumer{hub: h, next: c}
}

type hubConsumer struct {
	hub  *Hub
	next Consumer
}

func (c *hubConsumer) OnRandomnessFulfilled(cc chain.CallContext, id chain.RequestID, word *uint256.Int) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	return c.next.OnRandomnessFulfilled(cc, id, word)
}

// Follow charges follower through the profile's follow module, if any, and
// records the follow once the module accepted it.
func (h *Hub) Follow(follower chain.Address, profile chain.ProfileID, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if chain.IsZero(h.cfg.Profiles.OwnerOf(profile)) {
		return fmt.Errorf("follow unknown profile %d", profile)
	}
	if name, ok := h.follow[profile]; ok {
		m, err := h.lookup(name)
		if err != nil {
			return err
		}
		if err := m.ProcessFollow(h.next(), follower, profile, payload); err != nil {
			return err
		}
	}
	h.cfg.Follows.Follow(profile, follower)
	log.Debugf("hub: %s follows %d", follower.Hex(), profile)
	return nil
}
