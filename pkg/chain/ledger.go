// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
)

type balanceKey struct {
	currency Address
	holder   Address
}

type allowanceKey struct {
	currency Address
	owner    Address
	spender  Address
}

// journal entries restore exactly one of balance or allowance
type journalEntry struct {
	balance   *balanceKey
	allowance *allowanceKey
	prev      Money
}

type mark struct {
	id  int
	pos int
}

// Ledger is an in-memory multi-currency token ledger with ERC-20 style
// balances and allowances. Writes are journaled while at least one snapshot
// is open so a failed action can be rolled back as a whole. The journal is
// shared: a revert undoes every write since the snapshot, whoever made it,
// so hosts must not write to the ledger while another action holds a
// snapshot.
type Ledger struct {
	mu         sync.Mutex
	balances   map[balanceKey]Money
	allowances map[allowanceKey]Money
	journal    []journalEntry
	marks      []mark
	nextID     int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]Money),
		allowances: make(map[allowanceKey]Money),
	}
}

// Mint credits new units of currency to an account.
func (l *Ledger) Mint(currency, to Address, amount Money) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := balanceKey{currency, to}
	l.setBalance(k, l.balances[k]+amount)
}

func (l *Ledger) BalanceOf(currency, holder Address) Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[balanceKey{currency, holder}]
}

func (l *Ledger) Allowance(currency, owner, spender Address) Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowances[allowanceKey{currency, owner, spender}]
}

// Snapshot opens a revert point and returns its id.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.marks = append(l.marks, mark{id: id, pos: len(l.journal)})
	return id
}

// RevertToSnapshot undoes every write made since the snapshot was taken and
// closes it together with all snapshots opened after it.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.findMark(id)
	if idx < 0 {
		return
	}
	pos := l.marks[idx].pos
	for i := len(l.journal) - 1; i >= pos; i-- {
		e := l.journal[i]
		switch {
		case e.balance != nil:
			l.balances[*e.balance] = e.prev
		case e.allowance != nil:
			l.allowances[*e.allowance] = e.prev
		}
	}
	l.journal = l.journal[:pos]
	l.marks = l.marks[:idx]
	l.trim()
}

// Commit closes a snapshot and keeps its writes.
func (l *Ledger) Commit(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.findMark(id)
	if idx < 0 {
		return
	}
	l.marks = l.marks[:idx]
	l.trim()
}

func (l *Ledger) findMark(id int) int {
	for i := len(l.marks) - 1; i >= 0; i-- {
		if l.marks[i].id == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) trim() {
	if len(l.marks) == 0 {
		l.journal = l.journal[:0]
	}
}

func (l *Ledger) setBalance(k balanceKey, v Money) {
	if len(l.marks) > 0 {
		kk := k
		l.journal = append(l.journal, journalEntry{balance: &kk, prev: l.balances[k]})
	}
	l.balances[k] = v
}

func (l *Ledger) setAllowance(k allowanceKey, v Money) {
	if len(l.marks) > 0 {
		kk := k
		l.journal = append(l.journal, journalEntry{allowance: &kk, prev: l.allowances[k]})
	}
	l.allowances[k] = v
}

func (l *Ledger) approve(currency, owner, spender Address, amount Money) error {
	if IsZero(spender) {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAllowance(allowanceKey{currency, owner, spender}, amount)
	return nil
}

func (l *Ledger) transfer(currency, spender, from, to Address, amount Money) error {
	if IsZero(to) {
		return fmt.Errorf("transfer: %w", ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	ak := allowanceKey{currency, from, spender}
	allowed := l.allowances[ak]
	if spender != from && allowed < amount {
		return fmt.Errorf("transfer %s from %s: %w", amount, from.Hex(), ErrInsufficientAllowance)
	}
	fk := balanceKey{currency, from}
	bal := l.balances[fk]
	if bal < amount {
		return fmt.Errorf("transfer %s from %s: %w", amount, from.Hex(), ErrInsufficientBalance)
	}
	if spender != from {
		l.setAllowance(ak, allowed-amount)
	}
	l.setBalance(fk, bal-amount)
	tk := balanceKey{currency, to}
	l.setBalance(tk, l.balances[tk]+amount)
	return nil
}

// Wallet returns a handle that moves funds on behalf of holder.
func (l *Ledger) Wallet(holder Address) *Wallet {
	return &Wallet{ledger: l, holder: holder}
}

// Wallet is a ledger handle bound to the account that signs its calls.
type Wallet struct {
	ledger *Ledger
	holder Address
}

func (w *Wallet) Address() Address {
	return w.holder
}

// Transfer sends amount from the holder to another account.
func (w *Wallet) Transfer(currency, to Address, amount Money) error {
	return w.ledger.transfer(currency, w.holder, w.holder, to, amount)
}

// TransferFrom pulls amount from an account that approved the holder.
func (w *Wallet) TransferFrom(currency, from, to Address, amount Money) error {
	return w.ledger.transfer(currency, w.holder, from, to, amount)
}

// Approve lets spender pull up to amount from the holder.
func (w *Wallet) Approve(currency, spender Address, amount Money) error {
	return w.ledger.approve(currency, w.holder, spender, amount)
}

func (w *Wallet) Snapshot() int {
	return w.ledger.Snapshot()
}

func (w *Wallet) RevertToSnapshot(id int) {
	w.ledger.RevertToSnapshot(id)
}

func (w *Wallet) Commit(id int) {
	w.ledger.Commit(id)
}
