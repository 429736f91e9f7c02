package message

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentDetails is the subset of a ReqPay the Switch needs to rebuild a
// later leg of the same payment.
type PaymentDetails struct {
	Ver      string
	ProdType string
	TxnID    string
	Purpose  string
	Payer    Party
	Payee    Party
	Amount   decimal.Decimal
}

// DetailsOf extracts the payment details from a ReqPay. Credentials are
// not retained.
func DetailsOf(m *Message) PaymentDetails {
	d := PaymentDetails{
		Ver:      m.Head.Ver,
		ProdType: m.Head.ProdType,
		TxnID:    m.Txn.ID,
		Purpose:  m.Txn.Purpose,
	}
	if m.Payer != nil {
		d.Payer = *m.Payer.clone()
		d.Payer.Amount = nil
		d.Payer.Creds = nil
	}
	if m.Payee != nil {
		d.Payee = *m.Payee.clone()
		d.Payee.Amount = nil
		d.Payee.Creds = nil
	}
	if amt, ok := m.Amount(); ok {
		d.Amount = amt
	}
	return d
}

// AsDebit returns a copy of the ReqPay relabelled as the DEBIT leg. Every
// other field, msgId included, is carried verbatim.
func AsDebit(m *Message) *Message {
	c := m.Clone()
	c.Txn.Type = TxnDebit
	return c
}

// NewReqPay builds a Switch-originated ReqPay leg from stored details.
func NewReqPay(msgID, txnType string, d PaymentDetails, ts time.Time) *Message {
	payer := d.Payer
	payer.Amount = &Amount{Value: d.Amount, Curr: Currency}
	payer.Creds = nil
	if payer.Addr == "" && txnType == TxnCredit {
		payer.Addr = SwitchOrgID
	}
	payee := d.Payee
	payee.Amount = nil
	payee.Creds = nil

	return &Message{
		Kind: KindReqPay,
		Head: Head{
			Ver:      orDefault(d.Ver, DefaultVersion),
			Ts:       FormatTimestamp(ts),
			OrgID:    SwitchOrgID,
			MsgID:    msgID,
			ProdType: orDefault(d.ProdType, DefaultProdType),
		},
		Txn: Txn{
			ID:      d.TxnID,
			Type:    txnType,
			Purpose: d.Purpose,
			Ts:      FormatTimestamp(ts),
		},
		Payer: &payer,
		Payee: &payee,
	}
}

// NewDebitProbe builds the nominal DEBIT sent after a successful address
// validation. The payer and payee are taken from the ReqValAdd.
func NewDebitProbe(valAdd *Message, msgID string, amount decimal.Decimal, ts time.Time) *Message {
	d := PaymentDetails{
		Ver:      valAdd.Head.Ver,
		ProdType: valAdd.Head.ProdType,
		TxnID:    valAdd.Txn.ID,
		Amount:   amount,
	}
	if valAdd.Payer != nil {
		d.Payer = *valAdd.Payer.clone()
	}
	if valAdd.Payee != nil {
		d.Payee = *valAdd.Payee.clone()
	}
	return NewReqPay(msgID, TxnDebit, d, ts)
}

// NewCredit builds the CREDIT leg for a debited payment.
func NewCredit(msgID string, d PaymentDetails, ts time.Time) *Message {
	return NewReqPay(msgID, TxnCredit, d, ts)
}

// NewFinalRespPay builds the RespPay the Switch sends back to the Payer PSP
// for the payer-facing message origMsgID.
func NewFinalRespPay(origMsgID, txnID, result, errCode string, ts time.Time) *Message {
	if txnID == "" {
		txnID = "final-txn"
	}
	m := &Message{
		Kind: KindRespPay,
		Head: Head{
			Ver:      DefaultVersion,
			Ts:       FormatTimestamp(ts),
			OrgID:    SwitchOrgID,
			MsgID:    "resppay-final-" + origMsgID,
			ProdType: DefaultProdType,
		},
		Txn: Txn{
			ID:   txnID,
			Type: TxnPay,
			Ts:   FormatTimestamp(ts),
		},
		Resp: &Resp{
			ReqMsgID: origMsgID,
			Result:   result,
		},
	}
	if result == ResultFailure {
		m.Resp.ErrCode = orDefault(errCode, "UNKNOWN")
	}
	return m
}

// NewRespPay builds a bank's reply to a DEBIT or CREDIT leg. bal may be nil.
func NewRespPay(req *Message, orgID, result, errCode string, bal *decimal.Decimal, ts time.Time) *Message {
	txnType := req.TxnType()
	m := &Message{
		Kind: KindRespPay,
		Head: Head{
			Ver:      orDefault(req.Head.Ver, DefaultVersion),
			Ts:       FormatTimestamp(ts),
			OrgID:    orgID,
			MsgID:    "resppay-" + strings.ToLower(txnType) + "-" + req.MsgID(),
			ProdType: orDefault(req.Head.ProdType, DefaultProdType),
		},
		Txn: Txn{
			ID:      req.Txn.ID,
			Type:    txnType,
			Purpose: req.Txn.Purpose,
			Ts:      FormatTimestamp(ts),
		},
		Resp: &Resp{
			ReqMsgID: req.MsgID(),
			Result:   result,
		},
	}
	if result == ResultFailure {
		m.Resp.ErrCode = errCode
	}
	if bal != nil {
		b := *bal
		m.Resp.BalAmt = &b
	}
	return m
}

// NewRespValAdd builds the Payee PSP's reply to a ReqValAdd. Only the
// Result, ErrCode and profile fields of resp are used.
func NewRespValAdd(req *Message, orgID string, resp Resp, ts time.Time) *Message {
	resp.ReqMsgID = req.MsgID()
	resp.BalAmt = nil
	return &Message{
		Kind: KindRespValAdd,
		Head: Head{
			Ver:      orDefault(req.Head.Ver, DefaultVersion),
			Ts:       FormatTimestamp(ts),
			OrgID:    orgID,
			MsgID:    "resp-" + req.MsgID(),
			ProdType: orDefault(req.Head.ProdType, DefaultProdType),
		},
		Txn: Txn{
			ID:   req.Txn.ID,
			Type: TxnValAdd,
			Ts:   FormatTimestamp(ts),
		},
		Payer: req.Payer.clone(),
		Payee: req.Payee.clone(),
		Resp:  &resp,
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
