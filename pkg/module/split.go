// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"fmt"

	"blockwatch.cc/lensmod/pkg/chain"
)

// Split is the division of one gross payment into its settlement legs.
// Treasury + Special + Referral + Net always equals Gross; rounding dust
// stays in Net.
type Split struct {
	Gross    chain.Money
	Treasury chain.Money
	Special  chain.Money // offset or raffle share
	Referral chain.Money
	Net      chain.Money
}

// NewSplit takes the treasury fee and the special share off the gross amount.
func NewSplit(gross chain.Money, treasuryFee, special chain.Bps) (Split, error) {
	s := Split{
		Gross:    gross,
		Treasury: gross.MulBps(treasuryFee),
		Special:  gross.MulBps(special),
	}
	if s.Treasury > gross || s.Special > gross-s.Treasury {
		return Split{}, fmt.Errorf("%w: treasury fee %d and special share %d exceed 100%%",
			ErrInvalidParameters, treasuryFee, special)
	}
	s.Net = gross - s.Treasury - s.Special
	return s, nil
}

// WithReferral takes the referral fee off what is left after treasury and
// special shares, so referrals never reduce the treasury cut.
func (s Split) WithReferral(fee chain.Bps) Split {
	s.Referral = s.Net.MulBps(fee)
	if s.Referral > s.Net {
		s.Referral = s.Net
	}
	s.Net -= s.Referral
	return s
}

func (s Split) Total() chain.Money {
	return s.Treasury + s.Special + s.Referral + s.Net
}

func (s Split) String() string {
	return fmt.Sprintf("gross=%s treasury=%s special=%s referral=%s net=%s",
		s.Gross, s.Treasury, s.Special, s.Referral, s.Net)
}
