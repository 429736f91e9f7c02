package psp

import (
	"sync"
	"time"

	"github.com/axel-blaze-11/pheonix/internal/message"
)

// Final is the outcome the Switch reported for a payer-facing msgId.
type Final struct {
	MsgID      string    `json:"msg_id"`
	ReqMsgID   string    `json:"req_msg_id"`
	TxnID      string    `json:"txn_id"`
	Result     string    `json:"result"`
	ErrCode    string    `json:"err_code,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// Book keeps final outcomes in memory for the life of the process.
type Book struct {
	mu     sync.RWMutex
	finals map[string]Final
}

// NewBook creates an empty book.
func NewBook() *Book {
	return &Book{finals: make(map[string]Final)}
}

// Record stores a final RespPay under its reqMsgId, replacing any earlier
// one.
func (b *Book) Record(m *message.Message) Final {
	f := Final{
		MsgID:      m.MsgID(),
		ReqMsgID:   m.ReqMsgID(),
		TxnID:      m.Txn.ID,
		Result:     m.Result(),
		ReceivedAt: time.Now(),
	}
	if m.Resp != nil {
		f.ErrCode = m.Resp.ErrCode
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.finals[f.ReqMsgID] = f
	return f
}

// Get returns the outcome for the payer-facing msgId.
func (b *Book) Get(msgID string) (Final, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.finals[msgID]
	return f, ok
}

// Len returns the number of recorded outcomes.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.finals)
}
