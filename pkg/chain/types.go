// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"fmt"
	"math"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxBps is 100% expressed in basis points.
const MaxBps = 10000

type Address = common.Address

var ZeroAddress Address

func IsZero(a Address) bool {
	return a == ZeroAddress
}

// ParseAddress accepts a 0x-prefixed or bare 40 digit hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return ZeroAddress, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

type ProfileID uint64

type PubID uint64

// RequestID identifies an outstanding randomness request.
type RequestID string

// Bps is a fixed-point fraction, 10000 = 100%.
type Bps uint16

func (b Bps) Valid() bool {
	return b <= MaxBps
}

// Money is an amount in the smallest unit of a currency.
type Money uint64

func (m Money) Mul(n int) Money {
	return m * Money(n)
}

func (m Money) Div(n int) Money {
	return m / Money(n)
}

// MulBps returns floor(m * b / 10000). The product is taken in 256 bits so
// it never wraps; results that do not fit 64 bits saturate.
func (m Money) MulBps(b Bps) Money {
	z, _ := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(uint64(m)),
		uint256.NewInt(uint64(b)),
		uint256.NewInt(MaxBps),
	)
	if !z.IsUint64() {
		return Money(math.MaxUint64)
	}
	return Money(z.Uint64())
}

func (m Money) String() string {
	return strconv.FormatUint(uint64(m), 10)
}

func ParseMoney(s string) (Money, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money(v), nil
}

// Transaction context available during module execution
type CallContext struct {
	Caller Address // immediate caller (msg.sender)
	Height int64   // host block height
}
