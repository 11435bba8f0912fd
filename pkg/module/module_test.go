// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/env"
	"blockwatch.cc/lensmod/pkg/metrics"
	"blockwatch.cc/lensmod/pkg/module"
)

var (
	usdc      = env.Named("usdc")
	bct       = env.Named("bct")
	treasury  = env.Named("treasury")
	publisher = env.Named("publisher") // owns the profile
	payout    = env.Named("payout")    // receives net proceeds
	curator   = env.Named("curator")   // owns the referring profile
	collector = env.Named("collector")
)

type fixture struct {
	t       *testing.T
	s       *env.Sandbox
	profile chain.ProfileID
	curated chain.ProfileID
}

func newFixture(t *testing.T) *fixture {
	s, err := env.NewSandbox(env.SandboxConfig{
		Treasury:    treasury,
		TreasuryFee: 200,
		Currencies:  []chain.Address{usdc, bct},
		Swappable:   []chain.Address{usdc},
		Redeemable:  []chain.Address{bct},
		Clock:       clockwork.NewFakeClock(),
	})
	require.NoError(t, err)
	f := &fixture{t: t, s: s}
	f.profile, err = s.Hub.CreateProfile(publisher)
	require.NoError(t, err)
	f.curated, err = s.Hub.CreateProfile(curator)
	require.NoError(t, err)
	return f
}

// attach configures v on the fixture profile and returns the entity key.
func (f *fixture) attach(v module.Variant, p module.Params) module.EntityKey {
	buf, err := module.EncodeParams(v, p)
	require.NoError(f.t, err)
	if v.Kind == module.KindFollow {
		require.NoError(f.t, f.s.Hub.SetFollowModule(publisher, f.profile, v.Name, buf))
		return module.ProfileKey(f.profile)
	}
	pub, err := f.s.Hub.Post(publisher, f.profile, v.Name, buf)
	require.NoError(f.t, err)
	return module.PubKey(f.profile, pub)
}

func (f *fixture) fund(v module.Variant, currency, payer chain.Address, amount chain.Money) {
	require.NoError(f.t, f.s.Fund(v, currency, payer, amount))
}

func (f *fixture) act(v module.Variant, key module.EntityKey, payer chain.Address, referrer chain.ProfileID, currency chain.Address, amount chain.Money) error {
	payload, err := module.EncodeAction(module.Action{Currency: currency, Amount: amount})
	require.NoError(f.t, err)
	if v.Kind == module.KindFollow {
		return f.s.Hub.Follow(payer, key.Profile, payload)
	}
	return f.s.Hub.Collect(payer, key, referrer, payload)
}

func (f *fixture) balance(currency, holder chain.Address) chain.Money {
	return f.s.Ledger.BalanceOf(currency, holder)
}

func payer(i int) chain.Address {
	return env.Named(fmt.Sprintf("payer-%d", i))
}

func raffleParams(amount chain.Money, percent chain.Bps, freq uint64) module.Params {
	return module.Params{
		Amount:          amount,
		Currency:        usdc,
		Recipient:       payout,
		ReferralFee:     500,
		RafflePercent:   percent,
		RaffleFrequency: freq,
	}
}

func carbonParams(amount chain.Money) module.Params {
	return module.Params{
		Amount:        amount,
		Currency:      usdc,
		Recipient:     payout,
		ReferralFee:   500,
		OffsetPercent: 1000,
		PoolToken:     bct,
	}
}

// metricValue reads the current value of a counter or gauge.
func metricValue(t *testing.T, c prometheus.Metric) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestUnauthorizedCaller(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 5))
	stranger := chain.CallContext{Caller: collector}

	params, err := module.EncodeParams(module.RaffleCollect, raffleParams(1000, 1000, 5))
	require.NoError(t, err)
	rc := f.s.Module(module.RaffleCollect)
	_, err = rc.InitializeCollect(stranger, key, params)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "init")
	err = rc.ProcessCollect(stranger, 0, collector, key, nil)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "process")

	fparams, err := module.EncodeParams(module.CarbonFollow, carbonParams(1000))
	require.NoError(t, err)
	cf := f.s.Module(module.CarbonFollow)
	_, err = cf.InitializeFollow(stranger, f.profile, fparams)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "follow init")
	err = cf.ProcessFollow(stranger, collector, f.profile, nil)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "follow process")

	hub := chain.CallContext{Caller: env.HubAddress}
	err = rc.OnRandomnessFulfilled(hub, "x", uint256.NewInt(1))
	assert.ErrorIs(t, err, module.ErrUnauthorized, "only the oracle fulfills")

	// caller is checked before the module kind
	_, err = rc.InitializeFollow(stranger, f.profile, fparams)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "follow init on a collect module")
	err = rc.ProcessFollow(stranger, collector, f.profile, nil)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "follow process on a collect module")
	_, err = cf.InitializeCollect(stranger, key, params)
	assert.ErrorIs(t, err, module.ErrUnauthorized, "collect init on a follow module")
	err = f.s.Module(module.CarbonCollect).OnRandomnessFulfilled(stranger, "x", uint256.NewInt(1))
	assert.ErrorIs(t, err, module.ErrUnauthorized, "fulfillment on a carbon module")
}

func TestWrongKind(t *testing.T) {
	f := newFixture(t)
	hub := chain.CallContext{Caller: env.HubAddress}
	_, err := f.s.Module(module.CarbonCollect).InitializeFollow(hub, f.profile, nil)
	assert.ErrorIs(t, err, module.ErrInvalidParameters)
	_, err = f.s.Module(module.RaffleFollow).InitializeCollect(hub, module.PubKey(f.profile, 1), nil)
	assert.ErrorIs(t, err, module.ErrInvalidParameters)
	oracle := chain.CallContext{Caller: env.OracleAddress}
	err = f.s.Module(module.CarbonFollow).OnRandomnessFulfilled(oracle, "x", uint256.NewInt(1))
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "carbon modules have no raffle")
}

func TestInitRejectsGarbage(t *testing.T) {
	f := newFixture(t)
	hub := chain.CallContext{Caller: env.HubAddress}
	_, err := f.s.Module(module.RaffleCollect).InitializeCollect(hub, module.PubKey(f.profile, 1), []byte{1, 2, 3})
	assert.ErrorIs(t, err, module.ErrInvalidParameters)
}

func TestInitEchoesParams(t *testing.T) {
	f := newFixture(t)
	hub := chain.CallContext{Caller: env.HubAddress}
	buf, err := module.EncodeParams(module.CarbonFollow, carbonParams(1000))
	require.NoError(t, err)
	ack, err := f.s.Module(module.CarbonFollow).InitializeFollow(hub, f.profile, buf)
	require.NoError(t, err)
	assert.Equal(t, buf, ack)
}

func TestRaffleCollectSettlement(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 5))
	f.fund(module.RaffleCollect, usdc, collector, 1000)

	require.NoError(t, f.act(module.RaffleCollect, key, collector, f.curated, usdc, 1000))
	self := f.s.Module(module.RaffleCollect).Address()
	assert.Equal(t, chain.Money(20), f.balance(usdc, treasury), "treasury")
	assert.Equal(t, chain.Money(100), f.balance(usdc, self), "raffle share held by module")
	assert.Equal(t, chain.Money(44), f.balance(usdc, curator), "referral to referrer owner")
	assert.Equal(t, chain.Money(836), f.balance(usdc, payout), "net")
	assert.Equal(t, chain.Money(0), f.balance(usdc, collector), "payer charged exactly")

	rec := f.s.Module(module.RaffleCollect).GetConfig(key)
	assert.Equal(t, chain.Money(100), rec.RaffleAmount, "pool")
	assert.Equal(t, []chain.Address{collector}, rec.Participants)
}

func TestReferralRules(t *testing.T) {
	cases := []struct {
		name     string
		v        module.Variant
		referrer func(f *fixture) chain.ProfileID
		curator  chain.Money
		owner    chain.Money
		net      chain.Money
	}{
		{"raffle any referrer", module.RaffleCollect, func(f *fixture) chain.ProfileID { return f.curated }, 44, 0, 836},
		{"raffle own profile", module.RaffleCollect, func(f *fixture) chain.ProfileID { return f.profile }, 0, 44, 836},
		{"raffle no referrer", module.RaffleCollect, func(f *fixture) chain.ProfileID { return 0 }, 0, 0, 880},
		{"raffle unknown referrer", module.RaffleCollect, func(f *fixture) chain.ProfileID { return 99 }, 0, 0, 880},
		{"carbon foreign referrer", module.CarbonCollect, func(f *fixture) chain.ProfileID { return f.curated }, 0, 0, 880},
		{"carbon self referral", module.CarbonCollect, func(f *fixture) chain.ProfileID { return f.profile }, 0, 44, 836},
		{"carbon no referrer", module.CarbonCollect, func(f *fixture) chain.ProfileID { return 0 }, 0, 0, 880},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := newFixture(t)
			p := raffleParams(1000, 1000, 5)
			if c.v.Offset {
				p = carbonParams(1000)
			}
			key := f.attach(c.v, p)
			f.fund(c.v, usdc, collector, 1000)
			require.NoError(t, f.act(c.v, key, collector, c.referrer(f), usdc, 1000))
			assert.Equal(t, c.curator, f.balance(usdc, curator), "curator")
			assert.Equal(t, c.owner, f.balance(usdc, publisher), "profile owner")
			assert.Equal(t, c.net, f.balance(usdc, payout), "net")
			assert.Equal(t, chain.Money(20), f.balance(usdc, treasury), "treasury unaffected by referral")
		})
	}
}

func TestZeroReferralFee(t *testing.T) {
	f := newFixture(t)
	p := raffleParams(1000, 1000, 5)
	p.ReferralFee = 0
	key := f.attach(module.RaffleCollect, p)
	f.fund(module.RaffleCollect, usdc, collector, 1000)
	require.NoError(t, f.act(module.RaffleCollect, key, collector, f.curated, usdc, 1000))
	assert.Equal(t, chain.Money(0), f.balance(usdc, curator))
	assert.Equal(t, chain.Money(880), f.balance(usdc, payout))
}

func TestFollowSettlement(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleFollow, raffleParams(1000, 1000, 5))
	f.fund(module.RaffleFollow, usdc, collector, 1000)
	require.NoError(t, f.act(module.RaffleFollow, key, collector, 0, usdc, 1000))
	assert.Equal(t, chain.Money(20), f.balance(usdc, treasury))
	assert.Equal(t, chain.Money(100), f.balance(usdc, f.s.Module(module.RaffleFollow).Address()))
	assert.Equal(t, chain.Money(880), f.balance(usdc, payout), "follow modules pay no referral")
	assert.True(t, f.s.Follows.IsFollowing(f.profile, collector))
}

func TestFollowerOnly(t *testing.T) {
	f := newFixture(t)
	p := carbonParams(1000)
	p.FollowerOnly = true
	key := f.attach(module.CarbonCollect, p)
	f.fund(module.CarbonCollect, usdc, collector, 1000)

	err := f.act(module.CarbonCollect, key, collector, 0, usdc, 1000)
	assert.ErrorIs(t, err, module.ErrFollowRequired)
	assert.Equal(t, chain.Money(1000), f.balance(usdc, collector), "nothing charged")
	assert.Equal(t, chain.Money(0), f.balance(usdc, treasury))
	assert.Equal(t, chain.Money(0), f.balance(usdc, payout))

	require.NoError(t, f.s.Hub.Follow(collector, f.profile, nil))
	require.NoError(t, f.act(module.CarbonCollect, key, collector, 0, usdc, 1000), "followers may collect")
	assert.Equal(t, chain.Money(880), f.balance(usdc, payout))
}

func TestPayloadMismatch(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 5))
	f.fund(module.RaffleCollect, usdc, collector, 2000)

	err := f.act(module.RaffleCollect, key, collector, 0, usdc, 999)
	assert.ErrorIs(t, err, module.ErrActionPayloadMismatch, "amount")
	err = f.act(module.RaffleCollect, key, collector, 0, bct, 1000)
	assert.ErrorIs(t, err, module.ErrActionPayloadMismatch, "currency")
	err = f.s.Hub.Collect(collector, key, 0, []byte{0xff})
	assert.ErrorIs(t, err, module.ErrActionPayloadMismatch, "undecodable")
	assert.Equal(t, chain.Money(2000), f.balance(usdc, collector))

	hub := chain.CallContext{Caller: env.HubAddress}
	payload, err := module.EncodeAction(module.Action{Currency: usdc, Amount: 1000})
	require.NoError(t, err)
	err = f.s.Module(module.RaffleCollect).ProcessCollect(hub, 0, collector, module.PubKey(f.profile, 42), payload)
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "uninitialized publication")
}

func TestTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 1))
	rc := f.s.Module(module.RaffleCollect)

	// approval covers the price but the balance does not, so the net leg fails
	require.NoError(t, f.s.Hub.Mint(usdc, collector, 900))
	require.NoError(t, f.s.Hub.Approve(collector, usdc, rc.Address(), 1000))

	err := f.act(module.RaffleCollect, key, collector, f.curated, usdc, 1000)
	assert.ErrorIs(t, err, module.ErrTransferFailed)
	assert.ErrorIs(t, err, chain.ErrInsufficientBalance, "cause preserved")
	assert.Equal(t, chain.Money(900), f.balance(usdc, collector), "earlier legs reverted")
	assert.Equal(t, chain.Money(0), f.balance(usdc, treasury))
	assert.Equal(t, chain.Money(0), f.balance(usdc, rc.Address()))
	assert.Equal(t, chain.Money(0), f.balance(usdc, curator))
	assert.Equal(t, chain.Money(1000), f.s.Ledger.Allowance(usdc, collector, rc.Address()), "allowance restored")

	rec := rc.GetConfig(key)
	assert.Empty(t, rec.Participants, "no entry recorded")
	assert.Equal(t, chain.Money(0), rec.RaffleAmount)
	assert.Empty(t, rc.PendingDraws(), "no draw requested")
}

func TestOffsetSwapAndRetire(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.CarbonCollect, carbonParams(1000))
	f.fund(module.CarbonCollect, usdc, collector, 1000)
	require.NoError(t, f.act(module.CarbonCollect, key, collector, 0, usdc, 1000))

	self := f.s.Module(module.CarbonCollect).Address()
	assert.Equal(t, chain.Money(0), f.balance(usdc, self), "module keeps nothing")
	assert.Equal(t, chain.Money(100), f.balance(usdc, env.ExchangeAddress), "offset share sent to exchange")
	assert.Equal(t, chain.Money(880), f.balance(usdc, payout))

	r := f.s.Exchange.Retirements()
	require.Len(t, r, 1)
	assert.Equal(t, env.Retirement{Beneficiary: self, Source: usdc, PoolToken: bct, Amount: 100, Swapped: true}, r[0])
}

func TestOffsetRedeemAndRetire(t *testing.T) {
	f := newFixture(t)
	p := carbonParams(1000)
	p.Currency = bct
	p.PoolToken = chain.ZeroAddress
	key := f.attach(module.CarbonFollow, p)
	f.fund(module.CarbonFollow, bct, collector, 1000)
	require.NoError(t, f.act(module.CarbonFollow, key, collector, 0, bct, 1000))

	assert.Equal(t, chain.Money(100), f.balance(bct, env.ExchangeAddress))
	r := f.s.Exchange.Retirements()
	require.Len(t, r, 1)
	assert.False(t, r[0].Swapped, "pool token redeemed directly")
	assert.Equal(t, bct, r[0].PoolToken)
}

func TestOffsetFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.CarbonCollect, carbonParams(1000))
	f.fund(module.CarbonCollect, usdc, collector, 1000)
	f.s.Exchange.Halt(errors.New("paused"))
	net := metrics.SettledAmount.WithLabelValues(module.CarbonCollect.Name, "net")
	fee := metrics.SettledAmount.WithLabelValues(module.CarbonCollect.Name, "treasury")
	netBefore, feeBefore := metricValue(t, net), metricValue(t, fee)

	err := f.act(module.CarbonCollect, key, collector, 0, usdc, 1000)
	assert.ErrorIs(t, err, module.ErrExternalCapabilityFailed)
	self := f.s.Module(module.CarbonCollect).Address()
	assert.Equal(t, chain.Money(1000), f.balance(usdc, collector), "payment reverted")
	assert.Equal(t, chain.Money(0), f.balance(usdc, self))
	assert.Equal(t, chain.Money(0), f.s.Ledger.Allowance(usdc, self, env.ExchangeAddress), "approval reverted")
	assert.Empty(t, f.s.Exchange.Retirements())
	assert.Equal(t, netBefore, metricValue(t, net), "reverted legs are not counted")
	assert.Equal(t, feeBefore, metricValue(t, fee), "reverted legs are not counted")

	f.s.Exchange.Halt(nil)
	require.NoError(t, f.act(module.CarbonCollect, key, collector, 0, usdc, 1000))
	assert.Equal(t, netBefore+880, metricValue(t, net), "committed net leg")
	assert.Equal(t, feeBefore+20, metricValue(t, fee), "committed treasury leg")
}

func TestRaffleFrequency(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 5))
	rc := f.s.Module(module.RaffleCollect)
	for i := 1; i <= 15; i++ {
		f.fund(module.RaffleCollect, usdc, payer(i), 1000)
		require.NoError(t, f.act(module.RaffleCollect, key, payer(i), 0, usdc, 1000), "action %d", i)
		assert.Len(t, f.s.Oracle.Pending(), i/5, "requests after action %d", i)
		assert.Len(t, rc.PendingDraws(), i/5, "tracked draws after action %d", i)
		if i == 5 {
			assert.Equal(t, chain.Money(500), rc.GetConfig(key).RaffleAmount, "pool is the sum of raffle legs")
		}
	}
	rec := rc.GetConfig(key)
	assert.Len(t, rec.Participants, 15, "participants never cleared")
	assert.Equal(t, chain.Money(1500), rec.RaffleAmount, "no fulfillment yet")
	for _, d := range rc.PendingDraws() {
		assert.Equal(t, key, d.Key)
	}
}

func TestRaffleFulfillment(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 5))
	rc := f.s.Module(module.RaffleCollect)
	for i := 0; i < 7; i++ {
		f.fund(module.RaffleCollect, usdc, payer(i), 1000)
		require.NoError(t, f.act(module.RaffleCollect, key, payer(i), 0, usdc, 1000))
	}
	pending := f.s.Oracle.Pending()
	require.Len(t, pending, 1)
	id := pending[0].ID

	// the list grew to 7 after the request, 9 % 7 picks the third entry
	require.NoError(t, f.s.Oracle.Fulfill(id, uint256.NewInt(9)))
	assert.Equal(t, chain.Money(700), f.balance(usdc, payer(2)), "winner receives the whole pool")
	assert.Equal(t, chain.Money(0), f.balance(usdc, rc.Address()), "pool paid out")
	rec := rc.GetConfig(key)
	assert.Equal(t, chain.Money(0), rec.RaffleAmount, "pool reset")
	assert.Len(t, rec.Participants, 7, "participants kept")
	assert.Empty(t, rc.PendingDraws())

	draws := rc.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, module.Draw{Request: id, Key: key, Winner: payer(2), Index: 2, Prize: 700}, draws[0])

	oracle := chain.CallContext{Caller: env.OracleAddress}
	err := rc.OnRandomnessFulfilled(oracle, id, uint256.NewInt(1))
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "replayed id")
	err = rc.OnRandomnessFulfilled(oracle, "unknown", uint256.NewInt(1))
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "unknown id")
	assert.Equal(t, chain.Money(700), f.balance(usdc, payer(2)), "paid once")
}

func TestRaffleBackToBackDraws(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleFollow, raffleParams(1000, 1000, 1))
	rf := f.s.Module(module.RaffleFollow)
	for i := 0; i < 2; i++ {
		f.fund(module.RaffleFollow, usdc, payer(i), 1000)
		require.NoError(t, f.act(module.RaffleFollow, key, payer(i), 0, usdc, 1000))
	}
	pending := f.s.Oracle.Pending()
	require.Len(t, pending, 2)

	require.NoError(t, f.s.Oracle.Fulfill(pending[0].ID, uint256.NewInt(0)))
	assert.Equal(t, chain.Money(200), f.balance(usdc, payer(0)), "first draw takes both raffle legs")
	require.NoError(t, f.s.Oracle.Fulfill(pending[1].ID, uint256.NewInt(1)))
	assert.Equal(t, chain.Money(0), f.balance(usdc, payer(1)), "second draw finds an empty pool")

	draws := rf.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, chain.Money(0), draws[1].Prize)
}

func TestRandomnessFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleCollect, raffleParams(1000, 1000, 2))
	rc := f.s.Module(module.RaffleCollect)
	f.fund(module.RaffleCollect, usdc, payer(0), 1000)
	require.NoError(t, f.act(module.RaffleCollect, key, payer(0), 0, usdc, 1000))

	f.s.Oracle.Halt(errors.New("no subscription"))
	f.fund(module.RaffleCollect, usdc, payer(1), 1000)
	err := f.act(module.RaffleCollect, key, payer(1), 0, usdc, 1000)
	assert.ErrorIs(t, err, module.ErrExternalCapabilityFailed)
	assert.Equal(t, chain.Money(1000), f.balance(usdc, payer(1)), "payment reverted")
	rec := rc.GetConfig(key)
	assert.Equal(t, []chain.Address{payer(0)}, rec.Participants, "entry removed")
	assert.Equal(t, chain.Money(100), rec.RaffleAmount, "pool restored")

	f.s.Oracle.Halt(nil)
	require.NoError(t, f.act(module.RaffleCollect, key, payer(1), 0, usdc, 1000), "retry succeeds")
	assert.Len(t, f.s.Oracle.Pending(), 1)
}

func TestReinitializeOverwrites(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleFollow, raffleParams(1000, 1000, 5))
	rf := f.s.Module(module.RaffleFollow)
	for i := 0; i < 3; i++ {
		f.fund(module.RaffleFollow, usdc, payer(i), 1000)
		require.NoError(t, f.act(module.RaffleFollow, key, payer(i), 0, usdc, 1000))
	}
	assert.Len(t, rf.GetConfig(key).Participants, 3)

	f.attach(module.RaffleFollow, raffleParams(500, 2000, 3))
	rec := rf.GetConfig(key)
	assert.Equal(t, chain.Money(500), rec.Amount)
	assert.Equal(t, chain.Bps(2000), rec.RafflePercent)
	assert.Equal(t, uint64(3), rec.RaffleFrequency)
	assert.Empty(t, rec.Participants, "raffle state reset")
	assert.Equal(t, chain.Money(0), rec.RaffleAmount)
}

func TestReinitializeClosesPendingDraw(t *testing.T) {
	f := newFixture(t)
	key := f.attach(module.RaffleFollow, raffleParams(1000, 1000, 1))
	rf := f.s.Module(module.RaffleFollow)
	f.fund(module.RaffleFollow, usdc, payer(0), 1000)
	require.NoError(t, f.act(module.RaffleFollow, key, payer(0), 0, usdc, 1000))
	pending := f.s.Oracle.Pending()
	require.Len(t, pending, 1)

	f.attach(module.RaffleFollow, raffleParams(1000, 1000, 1))
	err := f.s.Oracle.Fulfill(pending[0].ID, uint256.NewInt(3))
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "no participants left")
	assert.Empty(t, rf.PendingDraws(), "draw closed")
	assert.Empty(t, rf.Draws(), "nothing paid")
	gauge := metrics.PendingDraws.WithLabelValues(module.RaffleFollow.Name)
	assert.Equal(t, float64(0), metricValue(t, gauge))
	assert.Equal(t, chain.Money(100), f.balance(usdc, rf.Address()), "pooled funds stay in custody")

	oracle := chain.CallContext{Caller: env.OracleAddress}
	err = rf.OnRandomnessFulfilled(oracle, pending[0].ID, uint256.NewInt(3))
	assert.ErrorIs(t, err, module.ErrInvalidParameters, "closed draw is unknown")
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	l := chain.NewLedger()
	self := env.Named("m")
	base := module.Config{
		Self:      self,
		Hub:       env.HubAddress,
		Vault:     l.Wallet(self),
		Whitelist: env.NewWhitelist(usdc),
		Treasury:  mustTreasury(t),
	}
	_, err := module.New(module.CarbonFollow, base)
	assert.Error(t, err, "offset exchange missing")
	_, err = module.New(module.RaffleCollect, base)
	assert.Error(t, err, "follow registry missing")
	_, err = module.New(module.Variant{Name: "both", Kind: module.KindFollow, Offset: true, Raffle: true}, base)
	assert.Error(t, err, "offset and raffle are exclusive")

	cfg := base
	cfg.Randomness = env.NewOracle(env.OracleAddress, nil).Client(self)
	_, err = module.New(module.RaffleFollow, cfg)
	assert.Error(t, err, "oracle address missing")
	cfg.Oracle = env.OracleAddress
	_, err = module.New(module.RaffleFollow, cfg)
	assert.NoError(t, err)
}

func mustTreasury(t *testing.T) *env.Treasury {
	tr, err := env.NewTreasury(treasury, 200)
	require.NoError(t, err)
	return tr
}
