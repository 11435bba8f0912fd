// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"github.com/holiman/uint256"

	"blockwatch.cc/lensmod/pkg/chain"
)

type Kind uint8

const (
	KindCollect Kind = iota + 1
	KindFollow
)

func (k Kind) String() string {
	switch k {
	case KindCollect:
		return "collect"
	case KindFollow:
		return "follow"
	default:
		return "unknown"
	}
}

// ReferralRule decides who may earn the referral share of a collect.
type ReferralRule uint8

const (
	ReferralNone ReferralRule = iota // no referral concept
	ReferralSelf                     // referrer must be the publisher itself
	ReferralAny                      // any nonzero referrer profile
)

// Variant is the capability set a module instance is built with.
type Variant struct {
	Name     string
	Kind     Kind
	Offset   bool // divert a share into a carbon offset retirement
	Raffle   bool // divert a share into a raffle pool
	Referral ReferralRule
}

var (
	CarbonCollect = Variant{Name: "carbon-collect", Kind: KindCollect, Offset: true, Referral: ReferralSelf}
	RaffleCollect = Variant{Name: "raffle-collect", Kind: KindCollect, Raffle: true, Referral: ReferralAny}
	RaffleFollow  = Variant{Name: "raffle-follow", Kind: KindFollow, Raffle: true}
	CarbonFollow  = Variant{Name: "carbon-follow", Kind: KindFollow, Offset: true}
)

func Variants() []Variant {
	return []Variant{CarbonCollect, RaffleCollect, RaffleFollow, CarbonFollow}
}

func VariantByName(name string) (Variant, bool) {
	for _, v := range Variants() {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

func (v Variant) String() string {
	return v.Name
}

// special returns the share diverted into offsetting or the raffle pool.
func (v Variant) special(r *Record) chain.Bps {
	switch {
	case v.Offset:
		return r.OffsetPercent
	case v.Raffle:
		return r.RafflePercent
	default:
		return 0
	}
}

// EntityKey addresses a profile (Pub == 0) or a publication.
type EntityKey struct {
	Profile chain.ProfileID
	Pub     chain.PubID
}

func ProfileKey(p chain.ProfileID) EntityKey {
	return EntityKey{Profile: p}
}

func PubKey(p chain.ProfileID, pub chain.PubID) EntityKey {
	return EntityKey{Profile: p, Pub: pub}
}

func (k EntityKey) IsProfile() bool {
	return k.Pub == 0
}

// Record is the per-entity configuration. The zero Record means the entity
// was never initialized.
type Record struct {
	Currency     chain.Address
	Amount       chain.Money
	Recipient    chain.Address
	ReferralFee  chain.Bps
	FollowerOnly bool

	// carbon variants
	OffsetPercent chain.Bps
	PoolToken     chain.Address

	// raffle variants
	RafflePercent   chain.Bps
	RaffleFrequency uint64
	RaffleAmount    chain.Money     // current pool
	Participants    []chain.Address // one entry per settled action, never cleared
}

func (r Record) IsZero() bool {
	return r.Amount == 0 && chain.IsZero(r.Recipient) && chain.IsZero(r.Currency)
}

// PendingDraw links an outstanding randomness request to its entity.
type PendingDraw struct {
	Key    EntityKey
	Height int64 // host height at request time
}

// Draw is the outcome of a fulfilled randomness request.
type Draw struct {
	Request chain.RequestID
	Key     EntityKey
	Winner  chain.Address
	Index   int
	Prize   chain.Money
}

// Capabilities consumed from the host environment.

type CurrencyWhitelist interface {
	IsWhitelisted(currency chain.Address) bool
}

type Treasury interface {
	// TreasuryConfig returns the treasury account and its fee.
	TreasuryConfig() (chain.Address, chain.Bps)
}

type FollowRegistry interface {
	IsFollowing(profile chain.ProfileID, addr chain.Address) bool
}

type Profiles interface {
	OwnerOf(profile chain.ProfileID) chain.Address
}

// Offsetting converts tokens into retired carbon credits. Implementations
// pull the amount from the module, which must approve Address() first.
type Offsetting interface {
	Address() chain.Address
	IsSwappable(currency chain.Address) bool
	IsRedeemable(token chain.Address) bool
	SwapAndRetire(currency, poolToken chain.Address, amount chain.Money) error
	RedeemAndRetire(token chain.Address, amount chain.Money) error
}

// RandomnessOracle accepts requests whose words are delivered later through
// OnRandomnessFulfilled.
type RandomnessOracle interface {
	Request() (chain.RequestID, error)
}

type ValueTransfer interface {
	TransferFrom(currency, from, to chain.Address, amount chain.Money) error
	Transfer(currency, to chain.Address, amount chain.Money) error
	Approve(currency, spender chain.Address, amount chain.Money) error
}

// Vault moves funds on behalf of the module and journals every write so a
// failed action rolls back completely.
type Vault interface {
	ValueTransfer
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

// Contract lists the entry points a module exposes to its host.
type Contract interface {
	// Stores the configuration of a publication
	// Called by: hub
	InitializeCollect(cc chain.CallContext, key EntityKey, params []byte) ([]byte, error)

	// Stores the configuration of a profile
	// Called by: hub
	InitializeFollow(cc chain.CallContext, profile chain.ProfileID, params []byte) ([]byte, error)

	// Charges a collector
	// Called by: hub
	ProcessCollect(cc chain.CallContext, referrer chain.ProfileID, payer chain.Address, key EntityKey, payload []byte) error

	// Charges a follower
	// Called by: hub
	ProcessFollow(cc chain.CallContext, payer chain.Address, profile chain.ProfileID, payload []byte) error

	// Views an entity configuration
	// Called by: anyone
	GetConfig(key EntityKey) Record

	// Pays out a raffle pool
	// Called by: randomness oracle
	OnRandomnessFulfilled(cc chain.CallContext, id chain.RequestID, word *uint256.Int) error
}

var _ Contract = (*Module)(nil)
