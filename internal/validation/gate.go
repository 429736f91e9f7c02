// Package validation is the gate every inbound message passes before the
// Switch acts on it. A rejected message causes no forwarding and no
// correlation state.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/message"
)

// Rejection reasons returned to callers in 400 bodies.
const (
	ReasonMalformed       = "MALFORMED_STRUCTURE"
	ReasonMinAmount       = "MIN_AMOUNT_VIOLATION"
	ReasonUnknownPurpose  = "UNKNOWN_PURPOSE_CODE"
	ReasonMissingPayeeVPA = "MISSING_PAYEE_ADDR"
	ReasonMultiplePayees  = "MULTIPLE_PAYEES"
)

// Rejection is returned when a message fails the gate.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return r.Reason
	}
	return r.Reason + ": " + r.Detail
}

// Policy holds the configurable business checks.
type Policy struct {
	MinAmount    decimal.Decimal
	PurposeCodes []string
}

// Gate validates raw messages against the structure rules and a Policy.
type Gate struct {
	minAmount decimal.Decimal
	purposes  map[string]struct{}
}

// NewGate creates a gate. An empty purpose list disables the purpose check.
func NewGate(p Policy) *Gate {
	g := &Gate{minAmount: p.MinAmount}
	if len(p.PurposeCodes) > 0 {
		g.purposes = make(map[string]struct{}, len(p.PurposeCodes))
		for _, code := range p.PurposeCodes {
			g.purposes[strings.TrimSpace(code)] = struct{}{}
		}
	}
	return g
}

// Validate reports whether raw is an acceptable message of the given kind.
func (g *Gate) Validate(kind message.Kind, raw []byte) error {
	_, err := g.ValidateMessage(kind, raw)
	return err
}

// ValidateMessage validates raw and returns the parsed message. On failure
// the error is always a *Rejection.
func (g *Gate) ValidateMessage(kind message.Kind, raw []byte) (*message.Message, error) {
	m, err := message.Unmarshal(raw)
	if errors.Is(err, message.ErrMultiplePayees) {
		return nil, reject(ReasonMultiplePayees, err.Error())
	}
	if err != nil {
		return nil, reject(ReasonMalformed, err.Error())
	}
	if m.Kind != kind {
		return nil, reject(ReasonMalformed, fmt.Sprintf("expected %s, got %s", kind, m.Kind))
	}
	if m.MsgID() == "" {
		return nil, reject(ReasonMalformed, "Head.msgId is empty")
	}

	switch kind {
	case message.KindReqPay:
		if err := g.checkReqPay(m); err != nil {
			return nil, err
		}
	case message.KindReqValAdd:
		if m.Payee == nil || m.Payee.Addr == "" {
			return nil, reject(ReasonMissingPayeeVPA, "Payee.addr is required")
		}
	case message.KindRespPay, message.KindRespValAdd:
		if err := checkResp(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (g *Gate) checkReqPay(m *message.Message) error {
	if m.Payer.Addr == "" {
		return reject(ReasonMalformed, "Payer.addr is required")
	}
	amt, _ := m.Amount()
	if amt.IsNegative() {
		return reject(ReasonMalformed, "amount is negative")
	}
	if amt.LessThan(g.minAmount) {
		return reject(ReasonMinAmount, fmt.Sprintf("amount %s is below minimum %s",
			message.FormatAmount(amt), message.FormatAmount(g.minAmount)))
	}
	if m.Txn.Purpose != "" && g.purposes != nil {
		if _, ok := g.purposes[m.Txn.Purpose]; !ok {
			return reject(ReasonUnknownPurpose, fmt.Sprintf("purpose code %q is not allowed", m.Txn.Purpose))
		}
	}
	return nil
}

func checkResp(m *message.Message) error {
	if m.ReqMsgID() == "" {
		return reject(ReasonMalformed, "Resp.reqMsgId is required")
	}
	switch m.Result() {
	case message.ResultSuccess:
	case message.ResultFailure:
		if m.Kind == message.KindRespPay && strings.TrimSpace(m.Resp.ErrCode) == "" {
			return reject(ReasonMalformed, "Resp.errCode is required on FAILURE")
		}
	case "":
		return reject(ReasonMalformed, "Resp.result is required")
	default:
		return reject(ReasonMalformed, fmt.Sprintf("unknown Resp.result %q", m.Resp.Result))
	}
	return nil
}

func reject(reason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}
