// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/lensmod/pkg/chain"
)

// retire hands an amount already held by the module to the offset exchange.
// Swappable currencies are swapped into the pool token first, anything else
// must be the pool token itself and is redeemed directly.
func (m *Module) retire(rec *Record, amount chain.Money) error {
	if amount == 0 {
		return nil
	}
	ox := m.cfg.Offsetting
	if err := m.cfg.Vault.Approve(rec.Currency, ox.Address(), amount); err != nil {
		return fmt.Errorf("%w: approve offset exchange: %v", ErrTransferFailed, err)
	}
	if ox.IsSwappable(rec.Currency) {
		if err := ox.SwapAndRetire(rec.Currency, rec.PoolToken, amount); err != nil {
			return fmt.Errorf("%w: swap and retire: %v", ErrExternalCapabilityFailed, err)
		}
		log.Debugf("%s: swapped and retired %s of %s into %s", m.variant, amount, rec.Currency.Hex(), rec.PoolToken.Hex())
		return nil
	}
	if err := ox.RedeemAndRetire(rec.Currency, amount); err != nil {
		return fmt.Errorf("%w: redeem and retire: %v", ErrExternalCapabilityFailed, err)
	}
	log.Debugf("%s: redeemed and retired %s of %s", m.variant, amount, rec.Currency.Hex())
	return nil
}
