// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"fmt"

	"github.com/near/borsh-go"

	"blockwatch.cc/lensmod/pkg/chain"
)

// Params is the decoded initialization tuple. Fields a variant does not
// carry stay zero.
type Params struct {
	Amount          chain.Money
	Currency        chain.Address
	Recipient       chain.Address
	ReferralFee     chain.Bps
	FollowerOnly    bool
	OffsetPercent   chain.Bps
	PoolToken       chain.Address
	RafflePercent   chain.Bps
	RaffleFrequency uint64
}

// Action is the payload a payer signs: what they expect to be charged.
type Action struct {
	Currency chain.Address
	Amount   chain.Money
}

// borsh wire tuples, field order is the wire order

type carbonCollectTuple struct {
	Amount        chain.Money
	Currency      chain.Address
	Recipient     chain.Address
	ReferralFee   chain.Bps
	FollowerOnly  bool
	OffsetPercent chain.Bps
	PoolToken     chain.Address
}

type raffleCollectTuple struct {
	Amount          chain.Money
	Currency        chain.Address
	Recipient       chain.Address
	ReferralFee     chain.Bps
	FollowerOnly    bool
	RafflePercent   chain.Bps
	RaffleFrequency uint64
}

type carbonFollowTuple struct {
	Amount        chain.Money
	Currency      chain.Address
	Recipient     chain.Address
	OffsetPercent chain.Bps
	PoolToken     chain.Address
}

type raffleFollowTuple struct {
	Amount          chain.Money
	Currency        chain.Address
	Recipient       chain.Address
	RafflePercent   chain.Bps
	RaffleFrequency uint64
}

// EncodeParams serializes p into the tuple layout of variant v.
func EncodeParams(v Variant, p Params) ([]byte, error) {
	var t interface{}
	switch {
	case v.Kind == KindCollect && v.Offset:
		t = carbonCollectTuple{p.Amount, p.Currency, p.Recipient, p.ReferralFee, p.FollowerOnly, p.OffsetPercent, p.PoolToken}
	case v.Kind == KindCollect && v.Raffle:
		t = raffleCollectTuple{p.Amount, p.Currency, p.Recipient, p.ReferralFee, p.FollowerOnly, p.RafflePercent, p.RaffleFrequency}
	case v.Kind == KindFollow && v.Offset:
		t = carbonFollowTuple{p.Amount, p.Currency, p.Recipient, p.OffsetPercent, p.PoolToken}
	case v.Kind == KindFollow && v.Raffle:
		t = raffleFollowTuple{p.Amount, p.Currency, p.Recipient, p.RafflePercent, p.RaffleFrequency}
	default:
		return nil, fmt.Errorf("no parameter layout for variant %q", v.Name)
	}
	return borsh.Serialize(t)
}

func DecodeParams(v Variant, buf []byte) (Params, error) {
	var p Params
	switch {
	case v.Kind == KindCollect && v.Offset:
		var t carbonCollectTuple
		if err := borsh.Deserialize(&t, buf); err != nil {
			return p, err
		}
		p = Params{
			Amount:        t.Amount,
			Currency:      t.Currency,
			Recipient:     t.Recipient,
			ReferralFee:   t.ReferralFee,
			FollowerOnly:  t.FollowerOnly,
			OffsetPercent: t.OffsetPercent,
			PoolToken:     t.PoolToken,
		}
	case v.Kind == KindCollect && v.Raffle:
		var t raffleCollectTuple
		if err := borsh.Deserialize(&t, buf); err != nil {
			return p, err
		}
		p = Params{
			Amount:          t.Amount,
			Currency:        t.Currency,
			Recipient:       t.Recipient,
			ReferralFee:     t.ReferralFee,
			FollowerOnly:    t.FollowerOnly,
			RafflePercent:   t.RafflePercent,
			RaffleFrequency: t.RaffleFrequency,
		}
	case v.Kind == KindFollow && v.Offset:
		var t carbonFollowTuple
		if err := borsh.Deserialize(&t, buf); err != nil {
			return p, err
		}
		p = Params{
			Amount:        t.Amount,
			Currency:      t.Currency,
			Recipient:     t.Recipient,
			OffsetPercent: t.OffsetPercent,
			PoolToken:     t.PoolToken,
		}
	case v.Kind == KindFollow && v.Raffle:
		var t raffleFollowTuple
		if err := borsh.Deserialize(&t, buf); err != nil {
			return p, err
		}
		p = Params{
			Amount:          t.Amount,
			Currency:        t.Currency,
			Recipient:       t.Recipient,
			RafflePercent:   t.RafflePercent,
			RaffleFrequency: t.RaffleFrequency,
		}
	default:
		return p, fmt.Errorf("no parameter layout for variant %q", v.Name)
	}
	return p, nil
}

func EncodeAction(a Action) ([]byte, error) {
	return borsh.Serialize(a)
}

func DecodeAction(buf []byte) (Action, error) {
	var a Action
	err := borsh.Deserialize(&a, buf)
	return a, err
}
