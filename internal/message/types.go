package message

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Namespace is the XML namespace every UPI message is written in.
const Namespace = "http://npci.org/upi/schema/"

// Kind identifies one of the four protocol messages.
type Kind string

// Message kinds
const (
	KindReqValAdd  Kind = "ReqValAdd"
	KindRespValAdd Kind = "RespValAdd"
	KindReqPay     Kind = "ReqPay"
	KindRespPay    Kind = "RespPay"
)

// Txn.type values
const (
	TxnPay    = "PAY"
	TxnDebit  = "DEBIT"
	TxnCredit = "CREDIT"
	TxnValAdd = "VALADD"
)

// Resp.result values
const (
	ResultSuccess = "SUCCESS"
	ResultFailure = "FAILURE"
)

// Defaults applied when a relayed message leaves a field empty.
const (
	DefaultVersion  = "2.0"
	DefaultProdType = "UPI"
	Currency        = "INR"
	SwitchOrgID     = "NPCI"
)

// TimestampLayout is the Head.ts format.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Head carries message routing metadata.
type Head struct {
	Ver      string
	Ts       string
	OrgID    string
	MsgID    string
	ProdType string
}

// Txn describes the transaction a message belongs to.
type Txn struct {
	ID      string
	Type    string
	Purpose string
	Note    string
	RefID   string
	RefURL  string
	CustRef string
	Ts      string

	// PurposeElement records that the purpose arrived as a <Purpose code>
	// child rather than an attribute, so a relayed message keeps its shape.
	PurposeElement bool
}

// Amount is a payer amount in Currency.
type Amount struct {
	Value decimal.Decimal
	Curr  string
}

// Cred is a payer credential block (the UPI PIN).
type Cred struct {
	Type    string
	SubType string
	Data    string
}

// Party is a payer or payee. Attributes are relayed verbatim between hops.
type Party struct {
	Addr   string
	Name   string
	SeqNum string
	Type   string
	Code   string
	Amount *Amount
	Creds  []Cred
}

// PIN returns the PIN credential data, if the party carries one.
func (p *Party) PIN() (string, bool) {
	if p == nil {
		return "", false
	}
	for _, c := range p.Creds {
		if strings.EqualFold(c.Type, "PIN") && strings.TrimSpace(c.Data) != "" {
			return strings.TrimSpace(c.Data), true
		}
	}
	return "", false
}

// Resp is the response block of RespPay and RespValAdd.
type Resp struct {
	ReqMsgID string
	Result   string
	ErrCode  string
	BalAmt   *decimal.Decimal

	// RespValAdd payee profile
	FailMsg  string
	MaskName string
	Code     string
	Type     string
	IFSC     string
	AccType  string
	IIN      string
	PType    string
}

// Message is a parsed protocol message of any kind.
type Message struct {
	Kind  Kind
	Head  Head
	Txn   Txn
	Payer *Party
	Payee *Party
	Resp  *Resp
}

// MsgID returns Head.msgId.
func (m *Message) MsgID() string {
	return m.Head.MsgID
}

// Amount returns the payer amount of a payment request.
func (m *Message) Amount() (decimal.Decimal, bool) {
	if m.Payer == nil || m.Payer.Amount == nil {
		return decimal.Zero, false
	}
	return m.Payer.Amount.Value, true
}

// TxnType returns Txn.type normalised to upper case.
func (m *Message) TxnType() string {
	return strings.ToUpper(strings.TrimSpace(m.Txn.Type))
}

// Result returns Resp.result normalised to upper case, or "" for requests.
func (m *Message) Result() string {
	if m.Resp == nil {
		return ""
	}
	return strings.ToUpper(strings.TrimSpace(m.Resp.Result))
}

// ReqMsgID returns Resp.reqMsgId, or "" for requests.
func (m *Message) ReqMsgID() string {
	if m.Resp == nil {
		return ""
	}
	return strings.TrimSpace(m.Resp.ReqMsgID)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	c := *m
	c.Payer = m.Payer.clone()
	c.Payee = m.Payee.clone()
	if m.Resp != nil {
		r := *m.Resp
		if m.Resp.BalAmt != nil {
			bal := *m.Resp.BalAmt
			r.BalAmt = &bal
		}
		c.Resp = &r
	}
	return &c
}

func (p *Party) clone() *Party {
	if p == nil {
		return nil
	}
	c := *p
	if p.Amount != nil {
		a := *p.Amount
		c.Amount = &a
	}
	if p.Creds != nil {
		c.Creds = append([]Cred(nil), p.Creds...)
	}
	return &c
}

// FormatTimestamp renders t as a Head.ts value.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FormatAmount renders an amount with two fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
