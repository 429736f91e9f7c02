// Package psp implements the payer and payee PSP nodes that sit at either
// end of the Switch.
package psp

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/axel-blaze-11/pheonix/internal/downstream"
	"github.com/axel-blaze-11/pheonix/internal/ledger"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/web"
)

// Payer PSP rejection codes
const (
	ErrCodeMissingPIN     = "MISSING_PIN"
	ErrCodeInvalidPIN     = "INVALID_PIN"
	ErrCodePayerNotFound  = "PAYER_NOT_FOUND"
	ErrCodeInvalidAmount  = "INVALID_AMOUNT"
	ErrCodeBlocked        = "CODE_BLOCKED"
	ErrCodeSwitchDown     = "SWITCH_UNREACHABLE"
	ErrCodeInternal       = "INTERNAL_ERROR"
	ErrCodeVPANotFound    = "VPA_NOT_FOUND"
	blockedForDemoMessage = "Code Blocked for Demo"
)

// Users checks payer credentials.
type Users interface {
	VerifyPIN(ctx context.Context, vpa, pin string) error
}

// Forwarder posts raw messages to the Switch.
type Forwarder interface {
	Post(ctx context.Context, hop downstream.Hop, node downstream.Node, path string, body []byte) (*downstream.Response, error)
}

// PayerConfig holds the Payer PSP's checks.
type PayerConfig struct {
	MinAmount   decimal.Decimal
	BlockedCode string
}

// Payer is the Payer PSP node. It authenticates the customer, forwards the
// untouched request to the Switch and books the final RespPay.
type Payer struct {
	cfg       PayerConfig
	users     Users
	forwarder Forwarder
	book      *Book
	engine    *gin.Engine
}

// NewPayer creates a Payer PSP node.
func NewPayer(cfg PayerConfig, users Users, forwarder Forwarder) *Payer {
	p := &Payer{
		cfg:       cfg,
		users:     users,
		forwarder: forwarder,
		book:      NewBook(),
		engine:    web.NewEngine(),
	}

	api := p.engine.Group("/api")
	{
		api.POST("/reqpay", p.handleReqPay)
		api.POST("/reqvaladd", p.handleReqValAdd)
		api.POST("/resppay", p.handleRespPay)
		api.GET("/txn/:msgId", p.handleGetTxn)
	}
	return p
}

// Handler exposes the node for http.Server and httptest.
func (p *Payer) Handler() http.Handler {
	return p.engine
}

// Book returns the final outcomes received so far.
func (p *Payer) Book() *Book {
	return p.book
}

func (p *Payer) handleReqPay(c *gin.Context) {
	raw, ok := web.ReadXML(c)
	if !ok {
		return
	}

	req, err := message.Unmarshal(raw)
	if err != nil || req.Kind != message.KindReqPay {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   web.ReasonMalformed,
			"details": "invalid ReqPay",
		})
		return
	}

	if code, details := p.check(c.Request.Context(), req); code != "" {
		log.Printf("rejecting ReqPay %s from %s: %s", req.MsgID(), req.Payer.Addr, code)
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "details": details})
		return
	}

	log.Printf("ReqPay %s for %s validated, forwarding to switch", req.MsgID(), req.Payer.Addr)
	p.forward(c, "/api/reqpay", raw)
}

// check authenticates the payer. A non-empty code rejects the request.
func (p *Payer) check(ctx context.Context, req *message.Message) (code, details string) {
	if req.Payer.Addr == "" {
		return ErrCodePayerNotFound, "payer addr is required"
	}
	amount, _ := req.Amount()
	if amount.LessThan(p.cfg.MinAmount) {
		return ErrCodeInvalidAmount, "transaction amount must be at least " + message.FormatAmount(p.cfg.MinAmount)
	}

	pin, ok := req.Payer.PIN()
	if !ok {
		return ErrCodeMissingPIN, "UPI PIN is required"
	}
	switch err := p.users.VerifyPIN(ctx, req.Payer.Addr, pin); {
	case errors.Is(err, ledger.ErrUserNotFound):
		return ErrCodePayerNotFound, "no user for " + req.Payer.Addr
	case errors.Is(err, ledger.ErrInvalidPIN):
		return ErrCodeInvalidPIN, "the entered UPI PIN is incorrect"
	case err != nil:
		log.Printf("warning: PIN check for %s failed: %v", req.Payer.Addr, err)
		return ErrCodeInternal, err.Error()
	}

	if p.cfg.BlockedCode != "" && req.Payee != nil && req.Payee.Code == p.cfg.BlockedCode {
		return ErrCodeBlocked, blockedForDemoMessage
	}
	return "", ""
}

func (p *Payer) handleReqValAdd(c *gin.Context) {
	raw, ok := web.ReadXML(c)
	if !ok {
		return
	}
	p.forward(c, "/api/reqvaladd", raw)
}

// forward sends the request body to the Switch unchanged and relays its
// answer.
func (p *Payer) forward(c *gin.Context, path string, raw []byte) {
	resp, err := p.forwarder.Post(c.Request.Context(), downstream.HopInitial, downstream.NodeSwitch, path, raw)
	if err != nil {
		log.Printf("warning: switch unreachable for %s: %v", path, err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   ErrCodeSwitchDown,
			"details": err.Error(),
		})
		return
	}
	web.Relay(c, resp.Status, resp.ContentType, resp.Body)
}

func (p *Payer) handleRespPay(c *gin.Context) {
	raw, ok := web.ReadXML(c)
	if !ok {
		return
	}

	m, err := message.Unmarshal(raw)
	if err != nil || m.Kind != message.KindRespPay {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   web.ReasonMalformed,
			"details": "invalid RespPay",
		})
		return
	}

	final := p.book.Record(m)
	log.Printf("final RespPay for %s: %s %s", final.ReqMsgID, final.Result, final.ErrCode)
	c.JSON(http.StatusOK, gin.H{"status": "received", "result": final.Result})
}

func (p *Payer) handleGetTxn(c *gin.Context) {
	final, ok := p.book.Get(c.Param("msgId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no final response for " + c.Param("msgId")})
		return
	}
	c.JSON(http.StatusOK, final)
}
