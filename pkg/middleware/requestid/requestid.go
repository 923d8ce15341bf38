package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// Header carries the request ID in both directions.
	Header = "X-Request-ID"
	// DeviceHeader names the front-desk device a request came from.
	DeviceHeader = "X-Device-ID"

	requestKey = "request_id"
	deviceKey  = "device_id"

	maxHeaderLen = 64
)

// Middleware tags each request with an ID, reusing a well-formed one supplied by the client,
// and records the calling device when the header is present.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := clean(c.GetHeader(Header))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(requestKey, reqID)
		c.Writer.Header().Set(Header, reqID)

		if device := clean(c.GetHeader(DeviceHeader)); device != "" {
			c.Set(deviceKey, device)
		}
		c.Next()
	}
}

// Value returns the request ID, or "" outside the middleware.
func Value(c *gin.Context) string {
	return c.GetString(requestKey)
}

// DeviceID returns the caller's device ID, or "" when it did not send one.
func DeviceID(c *gin.Context) string {
	return c.GetString(deviceKey)
}

// clean drops header values that would pollute logs: overlong or containing control bytes.
func clean(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || len(v) > maxHeaderLen {
		return ""
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f {
			return ""
		}
	}
	return v
}
