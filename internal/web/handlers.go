package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/axel-blaze-11/pheonix/internal/router"
)

func (s *Server) handleReqValAdd(c *gin.Context) {
	raw, ok := ReadXML(c)
	if !ok {
		return
	}
	writeOutcome(c, s.switchRouter.HandleReqValAdd(c.Request.Context(), raw))
}

func (s *Server) handleReqPay(c *gin.Context) {
	raw, ok := ReadXML(c)
	if !ok {
		return
	}
	writeOutcome(c, s.switchRouter.HandleReqPay(c.Request.Context(), raw))
}

func (s *Server) handleRespPay(c *gin.Context) {
	raw, ok := ReadXML(c)
	if !ok {
		return
	}
	writeOutcome(c, s.switchRouter.HandleRespPay(c.Request.Context(), raw))
}

// writeOutcome is the single place router outcomes become HTTP responses.
func writeOutcome(c *gin.Context, out router.Outcome) {
	switch out.Status {
	case router.Accepted:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	case router.Handled:
		c.JSON(http.StatusOK, gin.H{"status": "received"})
	case router.Rejected:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   out.Reason,
			"details": out.Detail,
		})
	case router.Unreachable, router.BadUpstream:
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   out.Reason,
			"details": out.Detail,
		})
	case router.Relayed, router.Propagated:
		if out.Upstream == nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": router.ReasonInvalidUpstream})
			return
		}
		Relay(c, out.Upstream.Status, out.Upstream.ContentType, out.Upstream.Body)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "unhandled outcome " + out.Status.String(),
		})
	}
}
