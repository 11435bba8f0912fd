// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/echa/log"
	"github.com/holiman/uint256"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/metrics"
)

type Config struct {
	Self   chain.Address // module custody account
	Hub    chain.Address // only caller of init and process entry points
	Oracle chain.Address // only caller of OnRandomnessFulfilled

	Vault      Vault
	Whitelist  CurrencyWhitelist
	Treasury   Treasury
	Follows    FollowRegistry   // collect variants
	Profiles   Profiles         // collect variants
	Offsetting Offsetting       // carbon variants
	Randomness RandomnessOracle // raffle variants
}

func (cfg *Config) Validate(v Variant) error {
	if chain.IsZero(cfg.Self) {
		return errors.New("module address is required")
	}
	if chain.IsZero(cfg.Hub) {
		return errors.New("hub address is required")
	}
	if cfg.Vault == nil {
		return errors.New("vault is required")
	}
	if cfg.Whitelist == nil {
		return errors.New("currency whitelist is required")
	}
	if cfg.Treasury == nil {
		return errors.New("treasury is required")
	}
	if v.Kind == KindCollect {
		if cfg.Follows == nil {
			return errors.New("follow registry is required")
		}
		if cfg.Profiles == nil {
			return errors.New("profile registry is required")
		}
	}
	if v.Offset && cfg.Offsetting == nil {
		return errors.New("offset exchange is required")
	}
	if v.Raffle {
		if cfg.Randomness == nil {
			return errors.New("randomness oracle is required")
		}
		if chain.IsZero(cfg.Oracle) {
			return errors.New("oracle address is required")
		}
	}
	return nil
}

// Module is one monetization module instance. All entry points hold the
// module lock for their full duration, so actions never interleave.
type Module struct {
	mu      sync.Mutex
	variant Variant
	cfg     Config
	store   *Store
	raffle  *Raffle
	draws   []Draw
}

func New(v Variant, cfg Config) (*Module, error) {
	if v.Kind != KindCollect && v.Kind != KindFollow {
		return nil, fmt.Errorf("variant %q has no kind", v.Name)
	}
	if v.Offset == v.Raffle {
		return nil, fmt.Errorf("variant %q must either offset or raffle", v.Name)
	}
	if err := cfg.Validate(v); err != nil {
		return nil, err
	}
	m := &Module{
		variant: v,
		cfg:     cfg,
		store:   NewStore(),
	}
	if v.Raffle {
		m.raffle = NewRaffle()
	}
	return m, nil
}

func (m *Module) Variant() Variant {
	return m.variant
}

func (m *Module) Address() chain.Address {
	return m.cfg.Self
}

// observe records metrics for one entry point call.
func (m *Module) observe(action string, start time.Time, err error) {
	metrics.ActionsTotal.WithLabelValues(m.variant.Name, action, metrics.Status(err)).Inc()
	metrics.ActionDuration.WithLabelValues(m.variant.Name, action).Observe(time.Since(start).Seconds())
	if err != nil {
		log.Debugf("%s: %s failed: %v", m.variant, action, err)
	}
}

// Stores the configuration of a publication
// Called by: hub
func (m *Module) InitializeCollect(cc chain.CallContext, key EntityKey, params []byte) (ack []byte, err error) {
	defer func(t time.Time) { m.observe("init", t, err) }(time.Now())
	if err := m.authorize(cc, m.cfg.Hub, "init"); err != nil {
		return nil, err
	}
	if m.variant.Kind != KindCollect {
		return nil, fmt.Errorf("%w: %s is not a collect module", ErrInvalidParameters, m.variant)
	}
	return m.initialize(key, params)
}

// Stores the configuration of a profile
// Called by: hub
func (m *Module) InitializeFollow(cc chain.CallContext, profile chain.ProfileID, params []byte) (ack []byte, err error) {
	defer func(t time.Time) { m.observe("init", t, err) }(time.Now())
	if err := m.authorize(cc, m.cfg.Hub, "init"); err != nil {
		return nil, err
	}
	if m.variant.Kind != KindFollow {
		return nil, fmt.Errorf("%w: %s is not a follow module", ErrInvalidParameters, m.variant)
	}
	return m.initialize(ProfileKey(profile), params)
}

func (m *Module) initialize(key EntityKey, params []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := DecodeParams(m.variant, params)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidParameters, err)
	}
	if err := validate(m.variant, p, m.cfg.Whitelist, m.cfg.Offsetting); err != nil {
		return nil, err
	}
	m.store.put(key, p)
	log.Debugf("%s: initialized %d/%d amount=%s currency=%s", m.variant, key.Profile, key.Pub, p.Amount, p.Currency.Hex())
	return params, nil
}

// Views an entity configuration
// Called by: anyone
func (m *Module) GetConfig(key EntityKey) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(key)
}

// Charges a collector
// Called by: hub
func (m *Module) ProcessCollect(cc chain.CallContext, referrer chain.ProfileID, payer chain.Address, key EntityKey, payload []byte) (err error) {
	defer func(t time.Time) { m.observe("collect", t, err) }(time.Now())
	if err := m.authorize(cc, m.cfg.Hub, "process"); err != nil {
		return err
	}
	if m.variant.Kind != KindCollect {
		return fmt.Errorf("%w: %s is not a collect module", ErrInvalidParameters, m.variant)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.prepare(key, payload)
	if err != nil {
		return err
	}
	if rec.FollowerOnly && !m.cfg.Follows.IsFollowing(key.Profile, payer) {
		return fmt.Errorf("%w: %s does not follow profile %d", ErrFollowRequired, payer.Hex(), key.Profile)
	}

	// referral eligibility differs per variant
	var referrerAddr chain.Address
	paysReferral := false
	if rec.ReferralFee > 0 && referrer != 0 {
		switch m.variant.Referral {
		case ReferralSelf:
			paysReferral = referrer == key.Profile
		case ReferralAny:
			paysReferral = true
		}
	}
	if paysReferral {
		referrerAddr = m.cfg.Profiles.OwnerOf(referrer)
		paysReferral = !chain.IsZero(referrerAddr)
	}
	return m.execute(cc, payer, key, rec, referrerAddr, paysReferral)
}

// Charges a follower
// Called by: hub
func (m *Module) ProcessFollow(cc chain.CallContext, payer chain.Address, profile chain.ProfileID, payload []byte) (err error) {
	defer func(t time.Time) { m.observe("follow", t, err) }(time.Now())
	if err := m.authorize(cc, m.cfg.Hub, "process"); err != nil {
		return err
	}
	if m.variant.Kind != KindFollow {
		return fmt.Errorf("%w: %s is not a follow module", ErrInvalidParameters, m.variant)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ProfileKey(profile)
	rec, err := m.prepare(key, payload)
	if err != nil {
		return err
	}
	return m.execute(cc, payer, key, rec, chain.ZeroAddress, false)
}

// authorize fails unless the call comes from want. Entry points run it
// before any other check.
func (m *Module) authorize(cc chain.CallContext, want chain.Address, action string) error {
	if chain.IsZero(want) || cc.Caller != want {
		return fmt.Errorf("%w: %s called by %s", ErrUnauthorized, action, cc.Caller.Hex())
	}
	return nil
}

// prepare checks the payload against the entity record.
func (m *Module) prepare(key EntityKey, payload []byte) (*Record, error) {
	rec, ok := m.store.lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: entity %d/%d not initialized", ErrInvalidParameters, key.Profile, key.Pub)
	}
	act, err := DecodeAction(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrActionPayloadMismatch, err)
	}
	if act.Currency != rec.Currency || act.Amount != rec.Amount {
		return nil, fmt.Errorf("%w: expected %s of %s, got %s of %s", ErrActionPayloadMismatch,
			rec.Amount, rec.Currency.Hex(), act.Amount, act.Currency.Hex())
	}
	return rec, nil
}

// execute splits and settles one action. Ledger writes are reverted and
// record writes are undone when any step fails.
func (m *Module) execute(cc chain.CallContext, payer chain.Address, key EntityKey, rec *Record, referrer chain.Address, paysReferral bool) error {
	treasury, treasuryFee := m.cfg.Treasury.TreasuryConfig()
	split, err := NewSplit(rec.Amount, treasuryFee, m.variant.special(rec))
	if err != nil {
		return err
	}
	if paysReferral {
		split = split.WithReferral(rec.ReferralFee)
	}
	log.Debugf("%s: %d/%d payer=%s %s", m.variant, key.Profile, key.Pub, payer.Hex(), split)

	snap := m.cfg.Vault.Snapshot()
	undo := func() {}
	fail := func(err error) error {
		undo()
		m.cfg.Vault.RevertToSnapshot(snap)
		return err
	}

	legs := m.legs(split, treasury, referrer, rec)
	if err := m.settle(rec.Currency, payer, legs); err != nil {
		return fail(err)
	}
	if m.variant.Offset {
		if err := m.retire(rec, split.Special); err != nil {
			return fail(err)
		}
	}
	if m.variant.Raffle {
		undo = m.raffle.enter(rec, payer, split.Special)
		due, err := m.raffle.due(rec)
		if err != nil {
			return fail(err)
		}
		if due {
			id, err := m.cfg.Randomness.Request()
			if err != nil {
				return fail(fmt.Errorf("%w: randomness request: %v", ErrExternalCapabilityFailed, err))
			}
			m.raffle.track(id, PendingDraw{Key: key, Height: cc.Height})
			metrics.DrawsRequested.WithLabelValues(m.variant.Name).Inc()
			metrics.PendingDraws.WithLabelValues(m.variant.Name).Set(float64(m.raffle.Len()))
			log.Debugf("%s: %d/%d draw requested id=%s entries=%d pool=%s",
				m.variant, key.Profile, key.Pub, id, len(rec.Participants), rec.RaffleAmount)
		}
	}
	m.cfg.Vault.Commit(snap)
	m.record(legs)
	return nil
}

// Pays out a raffle pool
// Called by: randomness oracle
func (m *Module) OnRandomnessFulfilled(cc chain.CallContext, id chain.RequestID, word *uint256.Int) (err error) {
	defer func(t time.Time) { m.observe("fulfill", t, err) }(time.Now())
	if err := m.authorize(cc, m.cfg.Oracle, "fulfill"); err != nil {
		return err
	}
	if !m.variant.Raffle {
		return fmt.Errorf("%w: %s has no raffle", ErrInvalidParameters, m.variant)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.raffle.pending[id]
	if !ok {
		return fmt.Errorf("%w: unknown draw %s", ErrInvalidParameters, id)
	}
	rec, ok := m.store.lookup(d.Key)
	if !ok {
		m.abandon(id)
		return fmt.Errorf("%w: entity %d/%d not initialized", ErrInvalidParameters, d.Key.Profile, d.Key.Pub)
	}
	// the list may have grown since the request, all current entries count
	idx, err := WinnerIndex(word, len(rec.Participants))
	if err != nil {
		// re-initialization emptied the list, the request cannot be answered again
		m.abandon(id)
		return fmt.Errorf("%w: draw %s: %v", ErrInvalidParameters, id, err)
	}
	winner := rec.Participants[idx]
	prize := rec.RaffleAmount

	snap := m.cfg.Vault.Snapshot()
	if prize > 0 {
		if err := m.cfg.Vault.Transfer(rec.Currency, winner, prize); err != nil {
			m.cfg.Vault.RevertToSnapshot(snap)
			return fmt.Errorf("%w: raffle payout of %s: %v", ErrTransferFailed, prize, err)
		}
	}
	m.cfg.Vault.Commit(snap)

	rec.RaffleAmount = 0
	m.raffle.claim(id)
	m.draws = append(m.draws, Draw{Request: id, Key: d.Key, Winner: winner, Index: idx, Prize: prize})
	metrics.DrawsFulfilled.WithLabelValues(m.variant.Name).Inc()
	metrics.PendingDraws.WithLabelValues(m.variant.Name).Set(float64(m.raffle.Len()))
	log.Debugf("%s: %d/%d draw %s won by #%d %s prize=%s", m.variant, d.Key.Profile, d.Key.Pub, id, idx, winner.Hex(), prize)
	return nil
}

// abandon closes a draw that cannot pay out.
func (m *Module) abandon(id chain.RequestID) {
	m.raffle.claim(id)
	metrics.PendingDraws.WithLabelValues(m.variant.Name).Set(float64(m.raffle.Len()))
	log.Warnf("%s: draw %s abandoned", m.variant, id)
}

// PendingDraws returns a copy of the outstanding draws.
func (m *Module) PendingDraws() map[chain.RequestID]PendingDraw {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raffle == nil {
		return nil
	}
	return m.raffle.Pending()
}

// Draws returns all fulfilled draws in fulfillment order.
func (m *Module) Draws() []Draw {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Draw(nil), m.draws...)
}
