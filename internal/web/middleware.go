package web

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

const (
	maxMessageSize = 1 << 20 // 1MB

	// RequestIDHeader carries the per-request id stamped by RequestID.
	RequestIDHeader = "X-Request-ID"

	// ReasonUnsupportedMedia is returned with 415.
	ReasonUnsupportedMedia = "UNSUPPORTED_MEDIA_TYPE"
	// ReasonMalformed matches the validation gate's structural reason.
	ReasonMalformed = "MALFORMED_STRUCTURE"
)

var xmlMediaTypes = map[string]bool{
	"application/xml":          true,
	"text/xml":                 true,
	"application/octet-stream": true,
}

// NewEngine returns a gin engine with request logging, panic recovery,
// request ids and the health route every node exposes.
func NewEngine() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), RequestID())
	router.GET("/health", handleHealth)
	return router
}

// RequestID stamps every request with an id, keeping one supplied by the
// caller.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = xid.New().String()
		}
		c.Set(RequestIDHeader, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadXML reads an XML request body. On failure it has already written a
// 415 or 400 response and returns false.
func ReadXML(c *gin.Context) ([]byte, bool) {
	if ct := c.GetHeader("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !xmlMediaTypes[mediaType] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{
				"error":   ReasonUnsupportedMedia,
				"details": "expected application/xml, got " + ct,
			})
			return nil, false
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxMessageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":   ReasonMalformed,
				"details": "message exceeds maximum size of 1MB",
			})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   ReasonMalformed,
			"details": "failed to read body: " + err.Error(),
		})
		return nil, false
	}
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   ReasonMalformed,
			"details": "empty body",
		})
		return nil, false
	}
	return body, true
}

// XML writes a raw XML body.
func XML(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/xml; charset=utf-8", body)
}

// Relay writes a downstream answer back unchanged.
func Relay(c *gin.Context, status int, contentType string, body []byte) {
	if contentType == "" {
		contentType = "application/xml"
	}
	c.Data(status, contentType, body)
}
