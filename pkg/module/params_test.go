// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockwatch.cc/lensmod/pkg/chain"
)

var (
	usdc      = chain.Address{0x0c}
	bct       = chain.Address{0xbc}
	publisher = chain.Address{0x9b}
)

func TestParamsLayout(t *testing.T) {
	p := Params{
		Amount:          1000,
		Currency:        usdc,
		Recipient:       publisher,
		ReferralFee:     500,
		FollowerOnly:    true,
		OffsetPercent:   1000,
		PoolToken:       bct,
		RafflePercent:   1000,
		RaffleFrequency: 5,
	}
	cases := []struct {
		v    Variant
		size int
		want Params
	}{
		{CarbonCollect, 8 + 20 + 20 + 2 + 1 + 2 + 20, Params{
			Amount: 1000, Currency: usdc, Recipient: publisher, ReferralFee: 500,
			FollowerOnly: true, OffsetPercent: 1000, PoolToken: bct,
		}},
		{RaffleCollect, 8 + 20 + 20 + 2 + 1 + 2 + 8, Params{
			Amount: 1000, Currency: usdc, Recipient: publisher, ReferralFee: 500,
			FollowerOnly: true, RafflePercent: 1000, RaffleFrequency: 5,
		}},
		{CarbonFollow, 8 + 20 + 20 + 2 + 20, Params{
			Amount: 1000, Currency: usdc, Recipient: publisher, OffsetPercent: 1000, PoolToken: bct,
		}},
		{RaffleFollow, 8 + 20 + 20 + 2 + 8, Params{
			Amount: 1000, Currency: usdc, Recipient: publisher, RafflePercent: 1000, RaffleFrequency: 5,
		}},
	}
	for _, c := range cases {
		buf, err := EncodeParams(c.v, p)
		require.NoError(t, err, c.v.Name)
		assert.Len(t, buf, c.size, "%s tuple size", c.v)
		assert.Equal(t, byte(0xe8), buf[0], "%s amount is little endian first", c.v)

		got, err := DecodeParams(c.v, buf)
		require.NoError(t, err, c.v.Name)
		assert.Equal(t, c.want, got, "%s drops fields outside its layout", c.v)

		_, err = DecodeParams(c.v, buf[:len(buf)-1])
		assert.Error(t, err, "%s truncated", c.v)
	}
}

func TestParamsUnknownVariant(t *testing.T) {
	_, err := EncodeParams(Variant{Name: "plain", Kind: KindCollect}, Params{})
	assert.Error(t, err)
	_, err = DecodeParams(Variant{Name: "plain", Kind: KindFollow}, nil)
	assert.Error(t, err)
}

func TestAction(t *testing.T) {
	buf, err := EncodeAction(Action{Currency: usdc, Amount: 1000})
	require.NoError(t, err)
	assert.Len(t, buf, 20+8)
	a, err := DecodeAction(buf)
	require.NoError(t, err)
	assert.Equal(t, Action{Currency: usdc, Amount: 1000}, a)

	_, err = DecodeAction(buf[:10])
	assert.Error(t, err, "truncated")
}
