package router

import "strings"

// Message-id prefixes. Outside the correlation store they are the only
// thing telling a real payment apart from the probe sent after an address
// validation.
const (
	debitPrefix  = "debit-"
	creditPrefix = "credit-"
)

// Flow says which protocol a DEBIT/CREDIT leg belongs to.
type Flow int

const (
	// FlowPayment is a payer-originated ReqPay waiting for a final RespPay.
	FlowPayment Flow = iota
	// FlowProbe is the nominal debit that follows a successful ReqValAdd.
	FlowProbe
)

func (f Flow) String() string {
	if f == FlowProbe {
		return "probe"
	}
	return "payment"
}

// Classify decides the flow of a DEBIT leg from the msgId the bank echoed.
func Classify(reqMsgID string) Flow {
	if strings.HasPrefix(reqMsgID, debitPrefix) {
		return FlowProbe
	}
	return FlowPayment
}

// DebitKey is the correlation key of a payer-facing msgId.
func DebitKey(originalMsgID string) string {
	return debitPrefix + originalMsgID
}

// debitCandidate is a correlation key a DEBIT reply may belong to.
type debitCandidate struct {
	key  string
	flow Flow
}

// debitCandidates lists the keys for a DEBIT reply, most specific first.
// Real payments keep their msgId on the DEBIT leg and are stored under
// debit-<msgId>; probes carry that key as their msgId. Trying the payment
// key first keeps a payer msgId that itself starts with "debit-" reachable.
func debitCandidates(reqMsgID string) []debitCandidate {
	out := []debitCandidate{{key: DebitKey(reqMsgID), flow: FlowPayment}}
	if Classify(reqMsgID) == FlowProbe {
		out = append(out, debitCandidate{key: reqMsgID, flow: FlowProbe})
	}
	return out
}

// CreditMsgID is the msgId of the CREDIT leg built for a DEBIT reply.
func CreditMsgID(reqMsgID string) string {
	return creditPrefix + reqMsgID
}

// OriginalFromCredit recovers the payer-facing msgId from a CREDIT reply.
// ok is false when reqMsgID is not a Switch-built credit id.
func OriginalFromCredit(reqMsgID string) (original string, flow Flow, ok bool) {
	if !strings.HasPrefix(reqMsgID, creditPrefix) {
		return "", FlowPayment, false
	}
	original = strings.TrimPrefix(reqMsgID, creditPrefix)
	if original == "" {
		return "", FlowPayment, false
	}
	return original, Classify(original), true
}
