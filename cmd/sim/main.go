// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"

	"github.com/echa/log"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/env"
	"blockwatch.cc/lensmod/pkg/module"
)

var (
	variantName string
	actions     int
	amount      uint64
	percent     uint16
	frequency   uint64
	referralFee uint16
	treasuryFee uint16
	seed        int64
	verbose     bool
	flags       = pflag.NewFlagSet("sim", pflag.ContinueOnError)
)

func registerFlags() {
	flags.Usage = func() {}
	flags.StringVar(&variantName, "variant", "raffle-collect", "module variant (carbon-collect, raffle-collect, raffle-follow, carbon-follow)")
	flags.IntVar(&actions, "actions", 10, "number of paying actions")
	flags.Uint64Var(&amount, "amount", 1000, "price per action in currency units")
	flags.Uint16Var(&percent, "percent", 1000, "offset or raffle share in bps")
	flags.Uint64Var(&frequency, "frequency", 5, "raffle draw frequency")
	flags.Uint16Var(&referralFee, "referral-fee", 500, "referral fee in bps (collect variants)")
	flags.Uint16Var(&treasuryFee, "treasury-fee", 200, "treasury fee in bps")
	flags.Int64Var(&seed, "seed", 1, "random seed for payers, referrers and draws")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

var (
	usdc      = env.Named("usdc")
	bct       = env.Named("bct")
	treasury  = env.Named("treasury")
	publisher = env.Named("publisher")
	curator   = env.Named("curator")
)

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	registerFlags()
	err := flags.Parse(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			fmt.Printf("Usage: %s [flags]\n", os.Args[0])
			fmt.Println("\nFlags")
			flags.PrintDefaults()
			return nil
		}
		return err
	}
	if verbose {
		log.SetLevel(log.LevelDebug)
	}

	v, ok := module.VariantByName(variantName)
	if !ok {
		return fmt.Errorf("unknown variant %q", variantName)
	}
	if actions <= 0 {
		return fmt.Errorf("Empty scenario")
	}

	sb, err := env.NewSandbox(env.SandboxConfig{
		Treasury:    treasury,
		TreasuryFee: chain.Bps(treasuryFee),
		Currencies:  []chain.Address{usdc},
		Swappable:   []chain.Address{usdc},
		Redeemable:  []chain.Address{bct},
	})
	if err != nil {
		return err
	}
	profile, err := sb.Hub.CreateProfile(publisher)
	if err != nil {
		return err
	}
	curated, err := sb.Hub.CreateProfile(curator)
	if err != nil {
		return err
	}

	p := module.Params{
		Amount:      chain.Money(amount),
		Currency:    usdc,
		Recipient:   publisher,
		ReferralFee: chain.Bps(referralFee),
	}
	if v.Offset {
		p.OffsetPercent = chain.Bps(percent)
		p.PoolToken = bct
	} else {
		p.RafflePercent = chain.Bps(percent)
		p.RaffleFrequency = frequency
	}
	params, err := module.EncodeParams(v, p)
	if err != nil {
		return err
	}
	log.Infof("Using %s params %x", v, params)

	key := module.ProfileKey(profile)
	if v.Kind == module.KindFollow {
		err = sb.Hub.SetFollowModule(publisher, profile, v.Name, params)
	} else {
		var pub chain.PubID
		pub, err = sb.Hub.Post(publisher, profile, v.Name, params)
		key = module.PubKey(profile, pub)
	}
	if err != nil {
		return err
	}
	payload, err := module.EncodeAction(module.Action{Currency: usdc, Amount: p.Amount})
	if err != nil {
		return err
	}

	rnd := rand.New(rand.NewSource(seed))
	payers := make([]chain.Address, actions)
	for i := range payers {
		payers[i] = env.Named(fmt.Sprintf("payer-%d", i))
		if err := sb.Fund(v, usdc, payers[i], p.Amount); err != nil {
			return err
		}
		var referrer chain.ProfileID
		if rnd.Intn(2) == 1 {
			referrer = curated
		}
		if v.Kind == module.KindFollow {
			err = sb.Hub.Follow(payers[i], profile, payload)
		} else {
			err = sb.Hub.Collect(payers[i], key, referrer, payload)
		}
		if err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
		for _, req := range sb.Oracle.Pending() {
			word := new(uint256.Int).SetUint64(rnd.Uint64())
			if err := sb.Oracle.Fulfill(req.ID, word); err != nil {
				return err
			}
		}
	}

	m := sb.Module(v)
	for _, d := range m.Draws() {
		log.Infof("Draw %s won by #%d %s prize=%s", d.Request, d.Index, d.Winner.Hex(), d.Prize)
	}
	if v.Offset {
		log.Infof("Retired %s in %d batches", sb.Exchange.Retired(m.Address()), len(sb.Exchange.Retirements()))
	}
	for _, acc := range []struct {
		name string
		addr chain.Address
	}{
		{"treasury", treasury},
		{"publisher", publisher},
		{"curator", curator},
		{"module", m.Address()},
		{"exchange", env.ExchangeAddress},
	} {
		log.Infof("Balance %-9s %s", acc.name, sb.Ledger.BalanceOf(usdc, acc.addr))
	}
	return nil
}
