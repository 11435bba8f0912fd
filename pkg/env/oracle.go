// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package env

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/echa/log"
	"github.com/holiman/uint256"
	cid "github.com/ipfs/go-cid"
	"github.com/jonboulle/clockwork"
	mc "github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/near/borsh-go"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/module"
)

var (
	ErrUnknownRequest  = errors.New("unknown randomness request")
	ErrUnknownConsumer = errors.New("unregistered randomness consumer")
)

// Consumer receives random words for the requests it made.
type Consumer interface {
	OnRandomnessFulfilled(cc chain.CallContext, id chain.RequestID, word *uint256.Int) error
}

// Request is an outstanding randomness request.
type Request struct {
	ID       chain.RequestID
	Consumer chain.Address
	Nonce    uint64
	Time     time.Time
}

// preimage of a request id
type requestSeed struct {
	Consumer chain.Address
	Nonce    uint64
}

var requestPrefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(mc.Raw),
	MhType:   mh.SHA2_256,
	MhLength: -1, // default length
}

// Oracle is an asynchronous randomness source. Requests are answered at most
// once, either explicitly through Fulfill or by the FulfillDue sweep.
type Oracle struct {
	mu        sync.Mutex
	addr      chain.Address
	clock     clockwork.Clock
	nonce     uint64
	requests  map[chain.RequestID]Request
	consumers map[chain.Address]Consumer
	halted    error
}

func NewOracle(addr chain.Address, clock clockwork.Clock) *Oracle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Oracle{
		addr:      addr,
		clock:     clock,
		requests:  make(map[chain.RequestID]Request),
		consumers: make(map[chain.Address]Consumer),
	}
}

func (o *Oracle) Address() chain.Address {
	return o.addr
}

// Register routes fulfillments for requests made by addr to c.
func (o *Oracle) Register(addr chain.Address, c Consumer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consumers[addr] = c
}

// Halt makes every new request fail with err until Halt(nil) is called.
func (o *Oracle) Halt(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.halted = err
}

// Client returns the oracle as seen by consumer.
func (o *Oracle) Client(consumer chain.Address) *OracleClient {
	return &OracleClient{o: o, consumer: consumer}
}

func (o *Oracle) request(consumer chain.Address) (chain.RequestID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.halted != nil {
		return "", o.halted
	}
	if _, ok := o.consumers[consumer]; !ok {
		return "", fmt.Errorf("request from %s: %w", consumer.Hex(), ErrUnknownConsumer)
	}
	o.nonce++
	buf, err := borsh.Serialize(requestSeed{Consumer: consumer, Nonce: o.nonce})
	if err != nil {
		return "", err
	}
	c, err := requestPrefix.Sum(buf)
	if err != nil {
		return "", err
	}
	id := chain.RequestID(c.String())
	o.requests[id] = Request{
		ID:       id,
		Consumer: consumer,
		Nonce:    o.nonce,
		Time:     o.clock.Now(),
	}
	log.Debugf("oracle: request %s from %s", id, consumer.Hex())
	return id, nil
}

// Pending returns outstanding requests ordered by nonce.
func (o *Oracle) Pending() []Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := make([]Request, 0, len(o.requests))
	for _, r := range o.requests {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Nonce < list[j].Nonce })
	return list
}

// Fulfill delivers word for request id. The request is consumed even when
// the consumer rejects the word.
func (o *Oracle) Fulfill(id chain.RequestID, word *uint256.Int) error {
	o.mu.Lock()
	req, ok := o.requests[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("fulfill %s: %w", id, ErrUnknownRequest)
	}
	delete(o.requests, id)
	c, ok := o.consumers[req.Consumer]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("fulfill %s: %w", id, ErrUnknownConsumer)
	}
	cc := chain.CallContext{Caller: o.addr}
	if err := c.OnRandomnessFulfilled(cc, id, word); err != nil {
		return fmt.Errorf("fulfill %s: %w", id, err)
	}
	log.Debugf("oracle: fulfilled %s for %s", id, req.Consumer.Hex())
	return nil
}

// FulfillDue answers every request older than delay with a fresh random
// word and returns the number of successful deliveries.
func (o *Oracle) FulfillDue(delay time.Duration) (int, error) {
	var (
		n    int
		errs []error
	)
	for _, req := range o.Pending() {
		if o.clock.Since(req.Time) < delay {
			continue
		}
		word, err := RandomWord()
		if err != nil {
			return n, err
		}
		if err := o.Fulfill(req.ID, word); err != nil {
			log.Warnf("oracle: %v", err)
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Run sweeps due requests every interval until ctx is done.
func (o *Oracle) Run(ctx context.Context, interval, delay time.Duration) error {
	t := o.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.Chan():
			if n, _ := o.FulfillDue(delay); n > 0 {
				log.Infof("oracle: fulfilled %d requests", n)
			}
		}
	}
}

// RandomWord returns a uniformly random 256 bit word.
func RandomWord() (*uint256.Int, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(b[:]), nil
}

// OracleClient binds the oracle to the consumer that calls it.
type OracleClient struct {
	o        *Oracle
	consumer chain.Address
}

var _ module.RandomnessOracle = (*OracleClient)(nil)

func (c *OracleClient) Request() (chain.RequestID, error) {
	return c.o.request(c.consumer)
}
