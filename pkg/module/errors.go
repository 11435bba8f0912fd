// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package module

import "errors"

// Every error returned by an entry point wraps exactly one of these kinds.
// Any of them aborts the action and reverts all of its writes.
var (
	ErrUnauthorized             = errors.New("unauthorized")
	ErrInvalidParameters        = errors.New("invalid parameters")
	ErrActionPayloadMismatch    = errors.New("action payload mismatch")
	ErrFollowRequired           = errors.New("follow required")
	ErrTransferFailed           = errors.New("transfer failed")
	ErrExternalCapabilityFailed = errors.New("external capability failed")
)
