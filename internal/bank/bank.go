// Package bank implements the remitter and beneficiary bank nodes.
//
// A bank accepts a ReqPay leg with 202, settles it against its ledger in
// the background and reports the result to the Switch as a RespPay.
package bank

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/ledger"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/web"
)

// Role selects which leg a bank settles.
type Role string

// Bank roles
const (
	RoleRemitter    Role = "remitter"
	RoleBeneficiary Role = "beneficiary"
)

// Error codes reported in RespPay.errCode.
const (
	ErrCodeBlocked           = "CODE_BLOCKED"
	ErrCodePayerNotFound     = "PAYER_NOT_FOUND"
	ErrCodePayeeNotFound     = "PAYEE_NOT_FOUND"
	ErrCodeMinAmount         = "MIN_AMOUNT_VIOLATION"
	ErrCodeInsufficientFunds = "INSUFFICIENT_BALANCE"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// Accounts is the ledger a bank settles against.
type Accounts interface {
	Debit(ctx context.Context, vpa string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, vpa string, amount decimal.Decimal) (decimal.Decimal, error)
}

// Notifier delivers the RespPay to the Switch.
type Notifier interface {
	Send(ctx context.Context, hop downstream.Hop, node downstream.Node, path string, msg *message.Message) (*downstream.Response, error)
}

// Config holds a bank's rules.
type Config struct {
	Role        Role
	OrgID       string
	MinAmount   decimal.Decimal
	BlockedCode string
}

// Bank is a remitter or beneficiary bank node.
type Bank struct {
	cfg      Config
	accounts Accounts
	notifier Notifier
	engine   *gin.Engine
	now      func() time.Time

	wg       sync.WaitGroup
	settled  int64
	failures int64
	mu       sync.Mutex
}

// New creates a bank node.
func New(cfg Config, accounts Accounts, notifier Notifier) *Bank {
	if cfg.OrgID == "" {
		cfg.OrgID = defaultOrgID(cfg.Role)
	}
	b := &Bank{
		cfg:      cfg,
		accounts: accounts,
		notifier: notifier,
		engine:   web.NewEngine(),
		now:      time.Now,
	}
	b.engine.POST("/api/reqpay", b.handleReqPay)
	return b
}

func defaultOrgID(r Role) string {
	if r == RoleBeneficiary {
		return "BENEBANK"
	}
	return "REMBANK"
}

// Handler exposes the node for http.Server and httptest.
func (b *Bank) Handler() http.Handler {
	return b.engine
}

// Wait blocks until every accepted leg has been settled and reported.
func (b *Bank) Wait() {
	b.wg.Wait()
}

// Counts returns how many legs were settled and how many of them failed.
func (b *Bank) Counts() (settled, failures int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settled, b.failures
}

// Status is a point-in-time view of a bank node.
type Status struct {
	Role     Role
	OrgID    string
	Settled  int64
	Failures int64
}

// Status reports the bank's role and settlement counters.
func (b *Bank) Status() *Status {
	settled, failures := b.Counts()
	return &Status{Role: b.cfg.Role, OrgID: b.cfg.OrgID, Settled: settled, Failures: failures}
}

func (b *Bank) expectedTxnType() string {
	if b.cfg.Role == RoleBeneficiary {
		return message.TxnCredit
	}
	return message.TxnDebit
}

func (b *Bank) handleReqPay(c *gin.Context) {
	raw, ok := web.ReadXML(c)
	if !ok {
		return
	}

	req, err := message.Unmarshal(raw)
	if err != nil || req.Kind != message.KindReqPay {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   web.ReasonMalformed,
			"details": "expected ReqPay",
		})
		return
	}
	if req.TxnType() != b.expectedTxnType() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "UNEXPECTED_TXN_TYPE",
			"details": "expected Txn.type " + b.expectedTxnType() + ", got " + req.Txn.Type,
		})
		return
	}

	if b.cfg.Role == RoleRemitter && b.cfg.BlockedCode != "" && req.Payer.Code == b.cfg.BlockedCode {
		log.Printf("rejecting DEBIT %s: payer code %s is blocked", req.MsgID(), req.Payer.Code)
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  ErrCodeBlocked,
			"status": "rejected",
		})
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.settleAndReport(req)
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (b *Bank) settleAndReport(req *message.Message) {
	ctx := context.Background()

	bal, errCode := b.settle(ctx, req)
	result := message.ResultSuccess
	if errCode != "" {
		result = message.ResultFailure
	}

	b.mu.Lock()
	b.settled++
	if errCode != "" {
		b.failures++
	}
	b.mu.Unlock()

	reply := message.NewRespPay(req, b.cfg.OrgID, result, errCode, bal, b.now())
	resp, err := b.notifier.Send(ctx, downstream.HopForward, downstream.NodeSwitch, "/api/resppay", reply)
	if err != nil {
		log.Printf("warning: RespPay %s not delivered to switch: %v", reply.MsgID(), err)
		return
	}
	if !resp.Accepted() {
		log.Printf("warning: switch refused RespPay %s with %d: %s", reply.MsgID(), resp.Status, resp.Body)
	}
}

// settle applies the leg to the ledger. A non-empty errCode means FAILURE.
func (b *Bank) settle(ctx context.Context, req *message.Message) (*decimal.Decimal, string) {
	amount, _ := req.Amount()

	var (
		vpa      string
		notFound string
		post     func(context.Context, string, decimal.Decimal) (decimal.Decimal, error)
	)
	if b.cfg.Role == RoleBeneficiary {
		if req.Payee == nil || req.Payee.Addr == "" {
			return nil, ErrCodePayeeNotFound
		}
		if b.cfg.BlockedCode != "" && req.Payee.Code == b.cfg.BlockedCode {
			return nil, ErrCodeBlocked
		}
		vpa, notFound, post = req.Payee.Addr, ErrCodePayeeNotFound, b.accounts.Credit
	} else {
		vpa, notFound, post = req.Payer.Addr, ErrCodePayerNotFound, b.accounts.Debit
	}

	if amount.LessThan(b.cfg.MinAmount) {
		return nil, ErrCodeMinAmount
	}

	bal, err := post(ctx, vpa, amount)
	switch {
	case err == nil:
		log.Printf("%s %s %s for %s, balance %s", b.expectedTxnType(), vpa, message.FormatAmount(amount), req.MsgID(), message.FormatAmount(bal))
		return &bal, ""
	case errors.Is(err, ledger.ErrAccountNotFound):
		return nil, notFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return nil, ErrCodeInsufficientFunds
	case errors.Is(err, ledger.ErrInvalidAmount):
		return nil, ErrCodeMinAmount
	default:
		log.Printf("warning: settling %s failed: %v", req.MsgID(), err)
		return nil, ErrCodeInternal
	}
}
