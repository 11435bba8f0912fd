// Copyright (c) 2022 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/echa/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/schema"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"blockwatch.cc/lensmod/pkg/chain"
	"blockwatch.cc/lensmod/pkg/env"
	"blockwatch.cc/lensmod/pkg/module"
)

var decoder = schema.NewDecoder()

func init() {
	decoder.IgnoreUnknownKeys(true)
	decoder.RegisterConverter(chain.Address{}, func(s string) reflect.Value {
		a, err := chain.ParseAddress(s)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(a)
	})
}

type ProfileRequest struct {
	Owner chain.Address `json:"owner"`
}

type ProfileResponse struct {
	Profile chain.ProfileID `json:"profile"`
}

type MintRequest struct {
	Currency chain.Address `json:"currency"`
	To       chain.Address `json:"to"`
	Amount   string        `json:"amount"`
}

// Spender is either a hex address or a module name.
type ApproveRequest struct {
	Owner    chain.Address `json:"owner"`
	Currency chain.Address `json:"currency"`
	Spender  string        `json:"spender"`
	Amount   string        `json:"amount"`
}

type ModuleParams struct {
	Amount          string        `json:"amount"`
	Currency        chain.Address `json:"currency"`
	Recipient       chain.Address `json:"recipient"`
	ReferralFee     chain.Bps     `json:"referral_fee"`
	FollowerOnly    bool          `json:"follower_only"`
	OffsetPercent   chain.Bps     `json:"offset_percent"`
	PoolToken       chain.Address `json:"pool_token"`
	RafflePercent   chain.Bps     `json:"raffle_percent"`
	RaffleFrequency uint64        `json:"raffle_frequency"`
}

func (p ModuleParams) Decode() (module.Params, error) {
	amount, err := chain.ParseMoney(p.Amount)
	if err != nil {
		return module.Params{}, err
	}
	return module.Params{
		Amount:          amount,
		Currency:        p.Currency,
		Recipient:       p.Recipient,
		ReferralFee:     p.ReferralFee,
		FollowerOnly:    p.FollowerOnly,
		OffsetPercent:   p.OffsetPercent,
		PoolToken:       p.PoolToken,
		RafflePercent:   p.RafflePercent,
		RaffleFrequency: p.RaffleFrequency,
	}, nil
}

type PublicationRequest struct {
	Profile chain.ProfileID `json:"profile"`
	Params  ModuleParams    `json:"params"`
}

type PublicationResponse struct {
	Pub chain.PubID `json:"pub"`
}

// Currency and Amount are the price the payer agrees to. When empty the
// currently configured price is used.
type CollectRequest struct {
	Collector chain.Address   `json:"collector"`
	Profile   chain.ProfileID `json:"profile"`
	Pub       chain.PubID     `json:"pub"`
	Referrer  chain.ProfileID `json:"referrer"`
	Currency  *chain.Address  `json:"currency,omitempty"`
	Amount    string          `json:"amount,omitempty"`
}

type FollowModuleRequest struct {
	Profile chain.ProfileID `json:"profile"`
	Params  ModuleParams    `json:"params"`
}

type FollowRequest struct {
	Follower chain.Address   `json:"follower"`
	Profile  chain.ProfileID `json:"profile"`
	Currency *chain.Address  `json:"currency,omitempty"`
	Amount   string          `json:"amount,omitempty"`
}

type ConfigQuery struct {
	Profile chain.ProfileID `schema:"profile,required"`
	Pub     chain.PubID     `schema:"pub"`
}

type BalanceQuery struct {
	Currency chain.Address `schema:"currency,required"`
	Holder   chain.Address `schema:"holder,required"`
}

type BalanceResponse struct {
	Currency chain.Address `json:"currency"`
	Holder   chain.Address `json:"holder"`
	Balance  string        `json:"balance"`
}

type ConfigResponse struct {
	Currency        chain.Address   `json:"currency"`
	Amount          string          `json:"amount"`
	Recipient       chain.Address   `json:"recipient"`
	ReferralFee     chain.Bps       `json:"referral_fee"`
	FollowerOnly    bool            `json:"follower_only"`
	OffsetPercent   chain.Bps       `json:"offset_percent,omitempty"`
	PoolToken       *chain.Address  `json:"pool_token,omitempty"`
	RafflePercent   chain.Bps       `json:"raffle_percent,omitempty"`
	RaffleFrequency uint64          `json:"raffle_frequency,omitempty"`
	RaffleAmount    string          `json:"raffle_amount,omitempty"`
	Participants    []chain.Address `json:"participants,omitempty"`
}

type DrawResponse struct {
	Request chain.RequestID `json:"request"`
	Profile chain.ProfileID `json:"profile"`
	Pub     chain.PubID     `json:"pub"`
	Winner  chain.Address   `json:"winner"`
	Prize   string          `json:"prize"`
}

// API serves the hub of a sandbox over HTTP.
type API struct {
	sb *env.Sandbox
}

func NewAPI(sb *env.Sandbox) http.Handler {
	api := &API{sb: sb}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/profiles", api.createProfile)
	r.Post("/mint", api.mint)
	r.Post("/approve", api.approve)
	r.Get("/balances", api.balance)
	r.Route("/{module}", func(r chi.Router) {
		r.Post("/publications", api.post)
		r.Post("/collect", api.collect)
		r.Post("/follow-module", api.setFollowModule)
		r.Post("/follow", api.follow)
		r.Get("/config", api.config)
		r.Get("/draws", api.draws)
	})
	return r
}

// statusOf maps an error kind to an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, module.ErrUnauthorized),
		errors.Is(err, module.ErrFollowRequired),
		errors.Is(err, env.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, module.ErrInvalidParameters),
		errors.Is(err, module.ErrActionPayloadMismatch),
		errors.Is(err, chain.ErrZeroAddress):
		return http.StatusBadRequest
	case errors.Is(err, module.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, module.ErrExternalCapabilityFailed):
		return http.StatusBadGateway
	case errors.Is(err, env.ErrUnknownModule), errors.Is(err, env.ErrNoModule):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		log.Error(err)
	} else {
		log.Debugf("request failed: %v", err)
	}
	http.Error(w, err.Error(), status)
}

func reply(w http.ResponseWriter, v interface{}) {
	buf, err := json.Marshal(v)
	if err != nil {
		fail(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Date", time.Now().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	w.Write(buf)
}

func parse(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		fail(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (a *API) variant(w http.ResponseWriter, r *http.Request) (module.Variant, bool) {
	name := chi.URLParam(r, "module")
	v, ok := module.VariantByName(name)
	if !ok {
		fail(w, http.StatusNotFound, fmt.Errorf("%w %q", env.ErrUnknownModule, name))
	}
	return v, ok
}

// action builds the payer's payload, defaulting to the configured price.
func action(rec module.Record, currency *chain.Address, amount string) ([]byte, error) {
	act := module.Action{Currency: rec.Currency, Amount: rec.Amount}
	if currency != nil {
		act.Currency = *currency
	}
	if amount != "" {
		m, err := chain.ParseMoney(amount)
		if err != nil {
			return nil, err
		}
		act.Amount = m
	}
	return module.EncodeAction(act)
}

func (a *API) createProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !parse(w, r, &req) {
		return
	}
	id, err := a.sb.Hub.CreateProfile(req.Owner)
	if err != nil {
		fail(w, statusOf(err), err)
		return
	}
	reply(w, ProfileResponse{Profile: id})
}

func (a *API) mint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !parse(w, r, &req) {
		return
	}
	amount, err := chain.ParseMoney(req.Amount)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sb.Hub.Mint(req.Currency, req.To, amount); err != nil {
		fail(w, statusOf(err), err)
		return
	}
	reply(w, BalanceResponse{
		Currency: req.Currency,
		Holder:   req.To,
		Balance:  a.sb.Ledger.BalanceOf(req.Currency, req.To).String(),
	})
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	var req ApproveRequest
	if !parse(w, r, &req) {
		return
	}
	amount, err := chain.ParseMoney(req.Amount)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	var spender chain.Address
	if v, ok := module.VariantByName(req.Spender); ok {
		spender = a.sb.Module(v).Address()
	} else if spender, err = chain.ParseAddress(req.Spender); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sb.Hub.Approve(req.Owner, req.Currency, spender, amount); err != nil {
		fail(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) balance(w http.ResponseWriter, r *http.Request) {
	var q BalanceQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	reply(w, BalanceResponse{
		Currency: q.Currency,
		Holder:   q.Holder,
		Balance:  a.sb.Ledger.BalanceOf(q.Currency, q.Holder).String(),
	})
}

func (a *API) post(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	var req PublicationRequest
	if !parse(w, r, &req) {
		return
	}
	params, err := a.encode(v, req.Params)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	owner := a.sb.Profiles.OwnerOf(req.Profile)
	pub, err := a.sb.Hub.Post(owner, req.Profile, v.Name, params)
	if err != nil {
		fail(w, statusOf(err), err)
		return
	}
	reply(w, PublicationResponse{Pub: pub})
}

func (a *API) setFollowModule(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	var req FollowModuleRequest
	if !parse(w, r, &req) {
		return
	}
	params, err := a.encode(v, req.Params)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	owner := a.sb.Profiles.OwnerOf(req.Profile)
	if err := a.sb.Hub.SetFollowModule(owner, req.Profile, v.Name, params); err != nil {
		fail(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) encode(v module.Variant, mp ModuleParams) ([]byte, error) {
	p, err := mp.Decode()
	if err != nil {
		return nil, err
	}
	return module.EncodeParams(v, p)
}

func (a *API) collect(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	var req CollectRequest
	if !parse(w, r, &req) {
		return
	}
	key := module.PubKey(req.Profile, req.Pub)
	if name, ok := a.sb.Hub.CollectModule(key); ok && name != v.Name {
		fail(w, http.StatusBadRequest, fmt.Errorf("publication %d/%d uses %s", req.Profile, req.Pub, name))
		return
	}
	payload, err := action(a.sb.Module(v).GetConfig(key), req.Currency, req.Amount)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sb.Hub.Collect(req.Collector, key, req.Referrer, payload); err != nil {
		fail(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) follow(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	var req FollowRequest
	if !parse(w, r, &req) {
		return
	}
	if name, ok := a.sb.Hub.FollowModule(req.Profile); !ok || name != v.Name {
		fail(w, http.StatusNotFound, fmt.Errorf("profile %d: %s %w", req.Profile, v, env.ErrNoModule))
		return
	}
	payload, err := action(a.sb.Module(v).GetConfig(module.ProfileKey(req.Profile)), req.Currency, req.Amount)
	if err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	if err := a.sb.Hub.Follow(req.Follower, req.Profile, payload); err != nil {
		fail(w, statusOf(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) config(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	var q ConfigQuery
	if err := decoder.Decode(&q, r.URL.Query()); err != nil {
		fail(w, http.StatusBadRequest, err)
		return
	}
	rec := a.sb.Module(v).GetConfig(module.PubKey(q.Profile, q.Pub))
	if rec.IsZero() {
		fail(w, http.StatusNotFound, fmt.Errorf("%s: entity %d/%d not initialized", v, q.Profile, q.Pub))
		return
	}
	resp := ConfigResponse{
		Currency:     rec.Currency,
		Amount:       rec.Amount.String(),
		Recipient:    rec.Recipient,
		ReferralFee:  rec.ReferralFee,
		FollowerOnly: rec.FollowerOnly,
	}
	if v.Offset {
		resp.OffsetPercent = rec.OffsetPercent
		if !chain.IsZero(rec.PoolToken) {
			resp.PoolToken = &rec.PoolToken
		}
	}
	if v.Raffle {
		resp.RafflePercent = rec.RafflePercent
		resp.RaffleFrequency = rec.RaffleFrequency
		resp.RaffleAmount = rec.RaffleAmount.String()
		resp.Participants = rec.Participants
	}
	reply(w, resp)
}

func (a *API) draws(w http.ResponseWriter, r *http.Request) {
	v, ok := a.variant(w, r)
	if !ok {
		return
	}
	list := make([]DrawResponse, 0)
	for _, d := range a.sb.Module(v).Draws() {
		list = append(list, DrawResponse{
			Request: d.Request,
			Profile: d.Key.Profile,
			Pub:     d.Key.Pub,
			Winner:  d.Winner,
			Prize:   d.Prize.String(),
		})
	}
	reply(w, list)
}
