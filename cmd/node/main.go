// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/echa/log"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/env"
)

var (
	listen       string
	treasury     string
	treasuryFee  uint16
	currencies   []string
	swappable    []string
	redeemable   []string
	fulfillEvery time.Duration
	fulfillDelay time.Duration
	verbose      bool
	flags        = pflag.NewFlagSet("node", pflag.ContinueOnError)
)

// registerFlags runs after .env is loaded so its values become defaults.
func registerFlags() {
	flags.Usage = func() {}
	flags.StringVar(&listen, "listen", getenv("LENSMOD_LISTEN", ":8000"), "HTTP listen address")
	flags.StringVar(&treasury, "treasury", os.Getenv("LENSMOD_TREASURY"), "treasury account")
	flags.Uint16Var(&treasuryFee, "treasury-fee", uint16(getint("LENSMOD_TREASURY_FEE", 200)), "treasury fee in bps")
	flags.StringSliceVar(&currencies, "currency", getlist("LENSMOD_CURRENCIES"), "whitelisted currencies")
	flags.StringSliceVar(&swappable, "swappable", getlist("LENSMOD_SWAPPABLE"), "currencies the offset exchange swaps")
	flags.StringSliceVar(&redeemable, "redeemable", getlist("LENSMOD_REDEEMABLE"), "pool tokens the offset exchange redeems")
	flags.DurationVar(&fulfillEvery, "fulfill-every", time.Second, "randomness fulfillment interval")
	flags.DurationVar(&fulfillDelay, "fulfill-delay", 3*time.Second, "minimum age of a randomness request before it is answered")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func parseAddresses(list []string) ([]chain.Address, error) {
	res := make([]chain.Address, 0, len(list))
	for _, s := range list {
		a, err := chain.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

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

	if treasury == "" {
		return fmt.Errorf("Empty treasury account")
	}
	if fulfillEvery <= 0 {
		return fmt.Errorf("fulfill interval must be positive")
	}
	cfg := env.SandboxConfig{TreasuryFee: chain.Bps(treasuryFee)}
	if cfg.Treasury, err = chain.ParseAddress(treasury); err != nil {
		return err
	}
	if cfg.Currencies, err = parseAddresses(currencies); err != nil {
		return err
	}
	if cfg.Swappable, err = parseAddresses(swappable); err != nil {
		return err
	}
	if cfg.Redeemable, err = parseAddresses(redeemable); err != nil {
		return err
	}
	sb, err := env.NewSandbox(cfg)
	if err != nil {
		return err
	}
	for name, m := range sb.Modules {
		log.Infof("Module %s at %s", name, m.Address().Hex())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              listen,
		Handler:           NewAPI(sb),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		log.Infof("Listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		log.Infof("Fulfilling randomness every %s after %s", fulfillEvery, fulfillDelay)
		return sb.Oracle.Run(ctx, fulfillEvery, fulfillDelay)
	})
	return g.Wait()
}
