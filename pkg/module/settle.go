// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import (
	"fmt"

	"github.com/echa/log"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/metrics"
)

type leg struct {
	name   string
	to     chain.Address
	amount chain.Money
}

// legs lists the transfers implied by a split in settlement order:
// treasury, special share into module custody, referral, recipient.
func (m *Module) legs(s Split, treasury, referrer chain.Address, rec *Record) []leg {
	return []leg{
		{"treasury", treasury, s.Treasury},
		{"special", m.cfg.Self, s.Special},
		{"referral", referrer, s.Referral},
		{"net", rec.Recipient, s.Net},
	}
}

// settle pulls every nonzero leg from the payer. Callers own the vault
// snapshot; a failed leg leaves earlier legs to be reverted by them.
func (m *Module) settle(currency, payer chain.Address, legs []leg) error {
	for _, l := range legs {
		if l.amount == 0 {
			continue
		}
		if err := m.cfg.Vault.TransferFrom(currency, payer, l.to, l.amount); err != nil {
			return fmt.Errorf("%w: %s leg of %s: %w", ErrTransferFailed, l.name, l.amount, err)
		}
		log.Debugf("%s: settled %s leg %s to %s", m.variant, l.name, l.amount, l.to.Hex())
	}
	return nil
}

// record counts committed legs only.
func (m *Module) record(legs []leg) {
	for _, l := range legs {
		metrics.SettledAmount.WithLabelValues(m.variant.Name, l.name).Add(float64(l.amount))
	}
}
