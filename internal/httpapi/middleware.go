package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	logx "outreach/pkg/logx"
)

type errorResponse struct {
	Status int `json:"-"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
	Detail any `json:"detail,omitempty"`
}

// abortWithError writes the JSON error body and keeps err on the context
// for the request log.
func abortWithError(c *gin.Context, code int, err error, msg string, detail any) {
	resp := errorResponse{Status: code, Detail: detail}
	resp.Error.Message = msg
	_ = c.Error(&gin.Error{Err: err, Type: gin.ErrorTypePublic, Meta: resp})
	c.AbortWithStatusJSON(code, resp)
}

// errorHandler turns errors recorded without a response into a JSON body.
func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Written() || len(c.Errors) == 0 {
			return
		}
		for i := len(c.Errors) - 1; i >= 0; i-- {
			if resp, ok := c.Errors[i].Meta.(errorResponse); ok {
				c.JSON(resp.Status, resp)
				return
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "Internal server error"}})
	}
}

func recovery(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("http handler panicked", logx.Any("panic", r), logx.String("path", c.Request.URL.Path))
				resp := errorResponse{Status: http.StatusInternalServerError}
				resp.Error.Message = "Internal server error"
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()
		c.Next()
	}
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		code := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", code),
			logx.Duration("took", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("errors", c.Errors.String()))
		}
		switch {
		case code >= 500:
			log.Error("request completed", fields...)
		case code >= 400:
			log.Warn("request completed", fields...)
		default:
			log.Debug("request completed", fields...)
		}
	}
}
