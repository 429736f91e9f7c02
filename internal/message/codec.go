package message

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decoding errors. A message that decodes but is missing a required element
// returns ErrMissingElement; anything that is not a UPI message at all
// returns ErrMalformed. ErrMultiplePayees is a well-formed ReqPay naming more
// than one payee, which a single DEBIT/CREDIT pair cannot settle.
var (
	ErrMalformed      = errors.New("malformed message")
	ErrMissingElement = errors.New("missing required element")
	ErrMultiplePayees = errors.New("more than one payee")
)

type wireMessage struct {
	XMLName xml.Name
	Head    *wireHead   `xml:"Head"`
	Txn     *wireTxn    `xml:"Txn"`
	Payer   *wireParty  `xml:"Payer"`
	Payees  *wirePayees `xml:"Payees"`
	Payee   *wireParty  `xml:"Payee"`
	Resp    *wireResp   `xml:"Resp"`
}

type wireHead struct {
	Ver      string `xml:"ver,attr,omitempty"`
	Ts       string `xml:"ts,attr,omitempty"`
	OrgID    string `xml:"orgId,attr,omitempty"`
	MsgID    string `xml:"msgId,attr,omitempty"`
	ProdType string `xml:"prodType,attr,omitempty"`
}

type wireTxn struct {
	ID         string       `xml:"id,attr,omitempty"`
	Type       string       `xml:"type,attr,omitempty"`
	Purpose    string       `xml:"purpose,attr,omitempty"`
	Note       string       `xml:"note,attr,omitempty"`
	RefID      string       `xml:"refId,attr,omitempty"`
	RefURL     string       `xml:"refUrl,attr,omitempty"`
	CustRef    string       `xml:"custRef,attr,omitempty"`
	Ts         string       `xml:"ts,attr,omitempty"`
	PurposeTag *wirePurpose `xml:"Purpose"`
}

type wirePurpose struct {
	Code string `xml:"code,attr"`
}

type wireParty struct {
	Addr   string      `xml:"addr,attr,omitempty"`
	Name   string      `xml:"name,attr,omitempty"`
	SeqNum string      `xml:"seqNum,attr,omitempty"`
	Type   string      `xml:"type,attr,omitempty"`
	Code   string      `xml:"code,attr,omitempty"`
	Amount *wireAmount `xml:"Amount"`
	Creds  *wireCreds  `xml:"Creds"`
}

type wireAmount struct {
	Value string `xml:"value,attr"`
	Curr  string `xml:"curr,attr,omitempty"`
}

type wireCreds struct {
	Cred []wireCred `xml:"Cred"`
}

type wireCred struct {
	Type    string `xml:"type,attr,omitempty"`
	SubType string `xml:"subType,attr,omitempty"`
	Data    string `xml:"Data"`
}

type wirePayees struct {
	Payee []wireParty `xml:"Payee"`
}

type wireResp struct {
	ReqMsgID string   `xml:"reqMsgId,attr,omitempty"`
	Result   string   `xml:"result,attr,omitempty"`
	ErrCode  string   `xml:"errCode,attr,omitempty"`
	FailMsg  string   `xml:"failMsg,attr,omitempty"`
	MaskName string   `xml:"maskName,attr,omitempty"`
	Code     string   `xml:"code,attr,omitempty"`
	Type     string   `xml:"type,attr,omitempty"`
	IFSC     string   `xml:"IFSC,attr,omitempty"`
	AccType  string   `xml:"accType,attr,omitempty"`
	IIN      string   `xml:"IIN,attr,omitempty"`
	PType    string   `xml:"pType,attr,omitempty"`
	Ref      *wireRef `xml:"Ref"`
}

type wireRef struct {
	BalAmt string `xml:"balAmt,attr"`
}

// Marshal encodes m in its XML wire form, declaration included.
func Marshal(m *Message) ([]byte, error) {
	if !knownKind(m.Kind) {
		return nil, fmt.Errorf("cannot marshal message of kind %q", m.Kind)
	}

	w := wireMessage{
		XMLName: xml.Name{Space: Namespace, Local: string(m.Kind)},
		Head: &wireHead{
			Ver:      m.Head.Ver,
			Ts:       m.Head.Ts,
			OrgID:    m.Head.OrgID,
			MsgID:    m.Head.MsgID,
			ProdType: m.Head.ProdType,
		},
		Txn: &wireTxn{
			ID:      m.Txn.ID,
			Type:    m.Txn.Type,
			Purpose: m.Txn.Purpose,
			Note:    m.Txn.Note,
			RefID:   m.Txn.RefID,
			RefURL:  m.Txn.RefURL,
			CustRef: m.Txn.CustRef,
			Ts:      m.Txn.Ts,
		},
		Payer: toWireParty(m.Payer),
	}
	if m.Txn.PurposeElement && m.Txn.Purpose != "" {
		w.Txn.Purpose = ""
		w.Txn.PurposeTag = &wirePurpose{Code: m.Txn.Purpose}
	}

	if payee := toWireParty(m.Payee); payee != nil {
		// ReqPay nests payees; every other kind carries Payee at the root.
		if m.Kind == KindReqPay {
			w.Payees = &wirePayees{Payee: []wireParty{*payee}}
		} else {
			w.Payee = payee
		}
	}

	if m.Resp != nil {
		w.Resp = &wireResp{
			ReqMsgID: m.Resp.ReqMsgID,
			Result:   m.Resp.Result,
			ErrCode:  m.Resp.ErrCode,
			FailMsg:  m.Resp.FailMsg,
			MaskName: m.Resp.MaskName,
			Code:     m.Resp.Code,
			Type:     m.Resp.Type,
			IFSC:     m.Resp.IFSC,
			AccType:  m.Resp.AccType,
			IIN:      m.Resp.IIN,
			PType:    m.Resp.PType,
		}
		if m.Resp.BalAmt != nil {
			w.Resp.Ref = &wireRef{BalAmt: FormatAmount(*m.Resp.BalAmt)}
		}
	}

	out, err := xml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Kind, err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Unmarshal decodes raw into a Message. The kind is taken from the root
// element.
func Unmarshal(raw []byte) (*Message, error) {
	var w wireMessage
	if err := xml.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := Kind(w.XMLName.Local)
	if !knownKind(kind) {
		return nil, fmt.Errorf("%w: unknown root element %q", ErrMalformed, w.XMLName.Local)
	}
	if w.Head == nil {
		return nil, fmt.Errorf("%w: %s has no Head", ErrMissingElement, kind)
	}
	if w.Txn == nil {
		return nil, fmt.Errorf("%w: %s has no Txn", ErrMissingElement, kind)
	}

	m := &Message{
		Kind: kind,
		Head: Head{
			Ver:      strings.TrimSpace(w.Head.Ver),
			Ts:       strings.TrimSpace(w.Head.Ts),
			OrgID:    strings.TrimSpace(w.Head.OrgID),
			MsgID:    strings.TrimSpace(w.Head.MsgID),
			ProdType: strings.TrimSpace(w.Head.ProdType),
		},
		Txn: Txn{
			ID:      strings.TrimSpace(w.Txn.ID),
			Type:    strings.TrimSpace(w.Txn.Type),
			Purpose: strings.TrimSpace(w.Txn.Purpose),
			Note:    w.Txn.Note,
			RefID:   w.Txn.RefID,
			RefURL:  w.Txn.RefURL,
			CustRef: w.Txn.CustRef,
			Ts:      w.Txn.Ts,
		},
	}
	if m.Txn.Purpose == "" && w.Txn.PurposeTag != nil {
		m.Txn.Purpose = strings.TrimSpace(w.Txn.PurposeTag.Code)
		m.Txn.PurposeElement = true
	}

	payer, err := fromWireParty(w.Payer)
	if err != nil {
		return nil, err
	}
	m.Payer = payer

	payeeWire := w.Payee
	if w.Payees != nil && len(w.Payees.Payee) > 0 {
		if n := len(w.Payees.Payee); n > 1 {
			return nil, fmt.Errorf("%w: %s carries %d payees", ErrMultiplePayees, kind, n)
		}
		payeeWire = &w.Payees.Payee[0]
	}
	payee, err := fromWireParty(payeeWire)
	if err != nil {
		return nil, err
	}
	m.Payee = payee

	if w.Resp != nil {
		m.Resp = &Resp{
			ReqMsgID: strings.TrimSpace(w.Resp.ReqMsgID),
			Result:   strings.TrimSpace(w.Resp.Result),
			ErrCode:  strings.TrimSpace(w.Resp.ErrCode),
			FailMsg:  w.Resp.FailMsg,
			MaskName: w.Resp.MaskName,
			Code:     w.Resp.Code,
			Type:     w.Resp.Type,
			IFSC:     w.Resp.IFSC,
			AccType:  w.Resp.AccType,
			IIN:      w.Resp.IIN,
			PType:    w.Resp.PType,
		}
		if w.Resp.Ref != nil && w.Resp.Ref.BalAmt != "" {
			bal, err := decimal.NewFromString(strings.TrimSpace(w.Resp.Ref.BalAmt))
			if err != nil {
				return nil, fmt.Errorf("%w: bad Ref.balAmt %q", ErrMalformed, w.Resp.Ref.BalAmt)
			}
			m.Resp.BalAmt = &bal
		}
	}

	switch kind {
	case KindReqPay:
		if m.Payer == nil {
			return nil, fmt.Errorf("%w: ReqPay has no Payer", ErrMissingElement)
		}
		if m.Payer.Amount == nil {
			return nil, fmt.Errorf("%w: ReqPay Payer has no Amount", ErrMissingElement)
		}
	case KindRespPay, KindRespValAdd:
		if m.Resp == nil {
			return nil, fmt.Errorf("%w: %s has no Resp", ErrMissingElement, kind)
		}
	}

	return m, nil
}

func knownKind(k Kind) bool {
	switch k {
	case KindReqValAdd, KindRespValAdd, KindReqPay, KindRespPay:
		return true
	}
	return false
}

func toWireParty(p *Party) *wireParty {
	if p == nil {
		return nil
	}
	w := &wireParty{
		Addr:   p.Addr,
		Name:   p.Name,
		SeqNum: p.SeqNum,
		Type:   p.Type,
		Code:   p.Code,
	}
	if p.Amount != nil {
		curr := p.Amount.Curr
		if curr == "" {
			curr = Currency
		}
		w.Amount = &wireAmount{Value: FormatAmount(p.Amount.Value), Curr: curr}
	}
	if len(p.Creds) > 0 {
		w.Creds = &wireCreds{}
		for _, c := range p.Creds {
			w.Creds.Cred = append(w.Creds.Cred, wireCred{Type: c.Type, SubType: c.SubType, Data: c.Data})
		}
	}
	return w
}

func fromWireParty(w *wireParty) (*Party, error) {
	if w == nil {
		return nil, nil
	}
	p := &Party{
		Addr:   strings.TrimSpace(w.Addr),
		Name:   strings.TrimSpace(w.Name),
		SeqNum: strings.TrimSpace(w.SeqNum),
		Type:   strings.TrimSpace(w.Type),
		Code:   strings.TrimSpace(w.Code),
	}
	if w.Amount != nil {
		raw := strings.TrimSpace(w.Amount.Value)
		if raw == "" {
			raw = "0"
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: bad Amount.value %q", ErrMalformed, w.Amount.Value)
		}
		p.Amount = &Amount{Value: v, Curr: strings.TrimSpace(w.Amount.Curr)}
	}
	if w.Creds != nil {
		for _, c := range w.Creds.Cred {
			p.Creds = append(p.Creds, Cred{Type: c.Type, SubType: c.SubType, Data: c.Data})
		}
	}
	return p, nil
}
