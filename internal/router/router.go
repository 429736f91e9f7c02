// Package router is the Switch's protocol state machine.
//
// Every inbound message passes the validation gate, then is routed by kind,
// Txn.type, result and msgId shape. In-flight DEBIT legs are remembered in
// an injected correlation store so the reply can be turned into a CREDIT.
//
// Delivery is at most once per hop. Only the initial hop of a ReqPay or
// ReqValAdd reports transport failures to the caller; forwarding and
// notification failures are logged and the leg is left orphaned.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/correlation"
	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/validation"
)

// Node endpoint paths
const (
	PathReqValAdd = "/api/reqvaladd"
	PathReqPay    = "/api/reqpay"
	PathRespPay   = "/api/resppay"
)

// Reasons carried by non-rejection failure outcomes.
const (
	ReasonRemBankUnreachable  = "REM_BANK_UNREACHABLE"
	ReasonPayeePSPUnreachable = "PAYEE_PSP_UNREACHABLE"
	ReasonInvalidUpstream     = "INVALID_UPSTREAM_RESPONSE"
)

// Dispatcher delivers messages to other nodes.
type Dispatcher interface {
	Send(ctx context.Context, hop downstream.Hop, node downstream.Node, path string, msg *message.Message) (*downstream.Response, error)
	Post(ctx context.Context, hop downstream.Hop, node downstream.Node, path string, body []byte) (*downstream.Response, error)
}

// Store holds in-flight DEBIT legs.
type Store interface {
	Put(key string, entry correlation.Entry) bool
	TakeIfPresent(key string) (correlation.Entry, bool)
}

// Status is the kind of result a handler produced.
type Status int

// Handler results
const (
	Accepted    Status = iota // ReqPay taken on, result follows asynchronously
	Rejected                  // failed the validation gate
	Relayed                   // downstream reply returned to the caller
	Unreachable               // initial hop got no response
	Propagated                // downstream rejected synchronously; relay its answer
	Handled                   // RespPay consumed
	BadUpstream               // downstream answered with something unusable
)

var statusNames = map[Status]string{
	Accepted:    "accepted",
	Rejected:    "rejected",
	Relayed:     "relayed",
	Unreachable: "unreachable",
	Propagated:  "propagated",
	Handled:     "handled",
	BadUpstream: "bad_upstream",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is what the HTTP layer turns into a response.
type Outcome struct {
	Status   Status
	Reason   string
	Detail   string
	Upstream *downstream.Response
}

// Config holds the Router settings.
type Config struct {
	ProbeAmount decimal.Decimal
	Now         func() time.Time
}

// Stats counts what the Router has done since start.
type Stats struct {
	Accepted       int64 `json:"accepted"`
	Rejected       int64 `json:"rejected"`
	Unreachable    int64 `json:"unreachable"`
	Probes         int64 `json:"probes"`
	Credits        int64 `json:"credits"`
	Finals         int64 `json:"finals"`
	Orphans        int64 `json:"orphans"`
	DroppedLegs    int64 `json:"dropped_legs"`
	ReusedMsgIDs   int64 `json:"reused_msg_ids"`
	UnknownLegs    int64 `json:"unknown_legs"`
	CreditFailures int64 `json:"credit_failures"`
}

// Router routes and correlates Switch traffic.
type Router struct {
	gate        *validation.Gate
	dispatcher  Dispatcher
	store       Store
	probeAmount decimal.Decimal
	now         func() time.Time

	stats struct {
		accepted, rejected, unreachable, probes, credits, finals atomic.Int64
		orphans, dropped, reused, unknown, creditFailures        atomic.Int64
	}
}

// New creates a Router. The store is owned by the Router from here on.
func New(gate *validation.Gate, d Dispatcher, s Store, cfg Config) *Router {
	r := &Router{
		gate:        gate,
		dispatcher:  d,
		store:       s,
		probeAmount: cfg.ProbeAmount,
		now:         cfg.Now,
	}
	if r.probeAmount.IsZero() {
		r.probeAmount = decimal.NewFromInt(1)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Stats returns a snapshot of the counters.
func (r *Router) Stats() Stats {
	return Stats{
		Accepted:       r.stats.accepted.Load(),
		Rejected:       r.stats.rejected.Load(),
		Unreachable:    r.stats.unreachable.Load(),
		Probes:         r.stats.probes.Load(),
		Credits:        r.stats.credits.Load(),
		Finals:         r.stats.finals.Load(),
		Orphans:        r.stats.orphans.Load(),
		DroppedLegs:    r.stats.dropped.Load(),
		ReusedMsgIDs:   r.stats.reused.Load(),
		UnknownLegs:    r.stats.unknown.Load(),
		CreditFailures: r.stats.creditFailures.Load(),
	}
}

// HandleReqValAdd forwards an address validation to the Payee PSP and
// relays the answer. A SUCCESS answer also triggers the debit probe.
func (r *Router) HandleReqValAdd(ctx context.Context, raw []byte) Outcome {
	m, out, ok := r.validate(message.KindReqValAdd, raw)
	if !ok {
		return out
	}

	resp, err := r.dispatcher.Post(ctx, downstream.HopInitial, downstream.NodePayeePSP, PathReqValAdd, raw)
	if err != nil {
		r.stats.unreachable.Add(1)
		log.Printf("warning: ReqValAdd %s not delivered: %v", m.MsgID(), err)
		return Outcome{Status: Unreachable, Reason: ReasonPayeePSPUnreachable, Detail: err.Error()}
	}
	if !resp.Accepted() {
		return Outcome{Status: Propagated, Upstream: resp}
	}

	reply, err := message.Unmarshal(resp.Body)
	if err != nil || reply.Kind != message.KindRespValAdd {
		log.Printf("warning: payee PSP answered ReqValAdd %s with an unusable body: %v", m.MsgID(), err)
		return Outcome{Status: BadUpstream, Reason: ReasonInvalidUpstream, Detail: "expected RespValAdd from payee PSP"}
	}

	if reply.Result() == message.ResultSuccess {
		r.dispatchProbe(context.WithoutCancel(ctx), m)
	}
	return Outcome{Status: Relayed, Upstream: resp}
}

// dispatchProbe sends the nominal DEBIT for a validated address. It is
// best effort: failures are logged and the entry stays, since a timed-out
// probe may still be settled and answered by the bank.
func (r *Router) dispatchProbe(ctx context.Context, valAdd *message.Message) {
	if valAdd.Payer == nil || valAdd.Payer.Addr == "" {
		log.Printf("warning: ReqValAdd %s has no payer addr, probe skipped", valAdd.MsgID())
		return
	}

	key := DebitKey(valAdd.MsgID())
	probe := message.NewDebitProbe(valAdd, key, r.probeAmount, r.now())
	r.remember(key, probe)
	r.stats.probes.Add(1)

	resp, err := r.dispatcher.Send(ctx, downstream.HopForward, downstream.NodeRemBank, PathReqPay, probe)
	switch {
	case err != nil:
		log.Printf("warning: probe %s not delivered, entry left in place: %v", key, err)
	case resp.Status >= 400:
		log.Printf("warning: remitter bank rejected probe %s with %d, entry left in place: %s", key, resp.Status, resp.Body)
	}
}

// HandleReqPay relabels a payment as its DEBIT leg and sends it to the
// remitter bank. The result arrives later as a RespPay.
func (r *Router) HandleReqPay(ctx context.Context, raw []byte) Outcome {
	m, out, ok := r.validate(message.KindReqPay, raw)
	if !ok {
		return out
	}

	key := DebitKey(m.MsgID())
	debit := message.AsDebit(m)

	// The bank may reply before Send returns, so the entry goes in first.
	r.remember(key, m)

	resp, err := r.dispatcher.Send(ctx, downstream.HopInitial, downstream.NodeRemBank, PathReqPay, debit)
	if err != nil {
		r.forget(key)
		r.stats.unreachable.Add(1)
		log.Printf("warning: DEBIT for %s not delivered: %v", m.MsgID(), err)
		return Outcome{Status: Unreachable, Reason: ReasonRemBankUnreachable, Detail: err.Error()}
	}
	if resp.Status >= 400 {
		r.forget(key)
		log.Printf("remitter bank rejected DEBIT for %s with %d", m.MsgID(), resp.Status)
		return Outcome{Status: Propagated, Upstream: resp}
	}

	r.stats.accepted.Add(1)
	return Outcome{Status: Accepted}
}

// HandleRespPay consumes a bank's reply to a DEBIT or CREDIT leg.
func (r *Router) HandleRespPay(ctx context.Context, raw []byte) Outcome {
	m, out, ok := r.validate(message.KindRespPay, raw)
	if !ok {
		return out
	}

	ctx = context.WithoutCancel(ctx)
	switch m.TxnType() {
	case message.TxnDebit:
		r.onDebitResult(ctx, m)
	case message.TxnCredit:
		r.onCreditResult(ctx, m)
	default:
		r.stats.unknown.Add(1)
		log.Printf("warning: RespPay %s has unexpected Txn.type %q, ignored", m.MsgID(), m.Txn.Type)
	}
	return Outcome{Status: Handled}
}

func (r *Router) onDebitResult(ctx context.Context, m *message.Message) {
	reqMsgID := m.ReqMsgID()
	entry, key, flow, found := r.takeDebitEntry(reqMsgID)

	if m.Result() != message.ResultSuccess {
		if flow == FlowProbe {
			log.Printf("probe %s failed at remitter bank: %s", reqMsgID, m.Resp.ErrCode)
			return
		}
		txnID := m.Txn.ID
		if found && entry.Details.TxnID != "" {
			txnID = entry.Details.TxnID
		}
		r.notifyPayer(ctx, reqMsgID, txnID, message.ResultFailure, m.Resp.ErrCode)
		return
	}

	if !found {
		r.stats.orphans.Add(1)
		log.Printf("warning: no correlation entry for DEBIT reply %s (key %s), leg orphaned", reqMsgID, key)
		return
	}
	if entry.Details.Payee.Addr == "" {
		r.stats.dropped.Add(1)
		log.Printf("warning: correlation entry %s has no payee addr, CREDIT not sent", key)
		return
	}

	credit := message.NewCredit(CreditMsgID(reqMsgID), entry.Details, r.now())
	r.stats.credits.Add(1)
	resp, err := r.dispatcher.Send(ctx, downstream.HopForward, downstream.NodeBeneBank, PathReqPay, credit)
	if err != nil {
		log.Printf("warning: CREDIT %s not delivered, payer already debited: %v", credit.MsgID(), err)
		return
	}
	if resp.Status >= 400 {
		log.Printf("warning: beneficiary bank rejected CREDIT %s with %d: %s", credit.MsgID(), resp.Status, resp.Body)
	}
}

// takeDebitEntry consumes the entry a DEBIT reply belongs to. Without a
// stored entry the flow falls back to the msgId prefix.
func (r *Router) takeDebitEntry(reqMsgID string) (correlation.Entry, string, Flow, bool) {
	for _, c := range debitCandidates(reqMsgID) {
		if entry, ok := r.store.TakeIfPresent(c.key); ok {
			return entry, c.key, c.flow, true
		}
	}
	return correlation.Entry{}, DebitKey(reqMsgID), Classify(reqMsgID), false
}

func (r *Router) onCreditResult(ctx context.Context, m *message.Message) {
	reqMsgID := m.ReqMsgID()
	original, flow, ok := OriginalFromCredit(reqMsgID)
	if !ok || flow == FlowProbe {
		log.Printf("CREDIT reply %s (%s) needs no final message", reqMsgID, m.Result())
		return
	}

	if m.Result() != message.ResultSuccess {
		r.stats.creditFailures.Add(1)
		log.Printf("warning: CREDIT for %s failed with %s after DEBIT succeeded, no compensation", original, m.Resp.ErrCode)
		return
	}
	r.notifyPayer(ctx, original, m.Txn.ID, message.ResultSuccess, "")
}

func (r *Router) notifyPayer(ctx context.Context, original, txnID, result, errCode string) {
	final := message.NewFinalRespPay(original, txnID, result, errCode, r.now())
	r.stats.finals.Add(1)

	resp, err := r.dispatcher.Send(ctx, downstream.HopForward, downstream.NodePayerPSP, PathRespPay, final)
	if err != nil {
		log.Printf("warning: final RespPay for %s not delivered: %v", original, err)
		return
	}
	if resp.Status >= 400 {
		log.Printf("warning: payer PSP refused final RespPay for %s with %d", original, resp.Status)
	}
}

func (r *Router) validate(kind message.Kind, raw []byte) (*message.Message, Outcome, bool) {
	m, err := r.gate.ValidateMessage(kind, raw)
	if err == nil {
		return m, Outcome{}, true
	}
	r.stats.rejected.Add(1)

	var rej *validation.Rejection
	if errors.As(err, &rej) {
		return nil, Outcome{Status: Rejected, Reason: rej.Reason, Detail: rej.Detail}, false
	}
	return nil, Outcome{Status: Rejected, Reason: validation.ReasonMalformed, Detail: err.Error()}, false
}

func (r *Router) remember(key string, req *message.Message) {
	if r.store.Put(key, correlation.Entry{Details: message.DetailsOf(req), CreatedAt: r.now()}) {
		r.stats.reused.Add(1)
	}
}

func (r *Router) forget(key string) {
	r.store.TakeIfPresent(key)
}
