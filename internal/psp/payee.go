package psp

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axel-blaze-11/pheonix/internal/ledger"
	"github.com/axel-blaze-11/pheonix/internal/message"
	"github.com/axel-blaze-11/pheonix/internal/web"
)

// Profiles resolves a VPA to the profile published in RespValAdd.
type Profiles interface {
	GetProfile(ctx context.Context, vpa string) (*ledger.Profile, error)
}

// PayeeConfig holds the Payee PSP settings.
type PayeeConfig struct {
	OrgID       string
	BlockedCode string
}

// Payee is the Payee PSP node. It answers address validations
// synchronously from its profile directory.
type Payee struct {
	cfg      PayeeConfig
	profiles Profiles
	engine   *gin.Engine
	now      func() time.Time
}

// NewPayee creates a Payee PSP node.
func NewPayee(cfg PayeeConfig, profiles Profiles) *Payee {
	if cfg.OrgID == "" {
		cfg.OrgID = "PAYEE_PSP"
	}
	p := &Payee{
		cfg:      cfg,
		profiles: profiles,
		engine:   web.NewEngine(),
		now:      time.Now,
	}
	p.engine.POST("/api/reqvaladd", p.handleReqValAdd)
	return p
}

// Handler exposes the node for http.Server and httptest.
func (p *Payee) Handler() http.Handler {
	return p.engine
}

func (p *Payee) handleReqValAdd(c *gin.Context) {
	raw, ok := web.ReadXML(c)
	if !ok {
		return
	}

	req, err := message.Unmarshal(raw)
	if err != nil || req.Kind != message.KindReqValAdd {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   web.ReasonMalformed,
			"details": "invalid ReqValAdd",
		})
		return
	}

	resp, err := p.resolve(c.Request.Context(), req)
	if err != nil {
		log.Printf("warning: profile lookup for %s failed: %v", req.MsgID(), err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   ErrCodeInternal,
			"details": err.Error(),
		})
		return
	}

	body, err := message.Marshal(message.NewRespValAdd(req, p.cfg.OrgID, resp, p.now()))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   ErrCodeInternal,
			"details": err.Error(),
		})
		return
	}
	log.Printf("RespValAdd for %s: %s %s", req.MsgID(), resp.Result, resp.ErrCode)
	web.XML(c, http.StatusOK, body)
}

// resolve builds the Resp block for a validation request. Business
// failures are FAILURE results; only lookup errors are returned.
func (p *Payee) resolve(ctx context.Context, req *message.Message) (message.Resp, error) {
	if req.Payee == nil || req.Payee.Addr == "" {
		return failure(ErrCodeVPANotFound, ErrCodeVPANotFound), nil
	}

	profile, err := p.profiles.GetProfile(ctx, req.Payee.Addr)
	if errors.Is(err, ledger.ErrProfileNotFound) {
		return failure(ErrCodeVPANotFound, ErrCodeVPANotFound), nil
	}
	if err != nil {
		return message.Resp{}, err
	}

	if p.cfg.BlockedCode != "" && profile.Code == p.cfg.BlockedCode {
		return failure(ErrCodeBlocked, blockedForDemoMessage), nil
	}

	return message.Resp{
		Result:   message.ResultSuccess,
		MaskName: profile.MaskName,
		Code:     profile.Code,
		Type:     profile.Type,
		IFSC:     profile.IFSC,
		AccType:  profile.AccType,
		IIN:      profile.IIN,
		PType:    profile.PType,
	}, nil
}

func failure(errCode, failMsg string) message.Resp {
	return message.Resp{Result: message.ResultFailure, ErrCode: errCode, FailMsg: failMsg}
}
