// Package logging routes HTTP access logs and panic recovery through the
// application-wide logrus logger.
package logging

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GinLogrusLogger writes one access-log line per request through logrus.
// The logrus formatter already stamps each line, so the line carries only
// status, latency, client, method and path.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start).Truncate(time.Millisecond)
		status := c.Writer.Status()
		line := fmt.Sprintf("%3d | %10v | %15s | %-7s %s", status, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			line = line + " | " + errorMessage
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error(line)
		case status >= http.StatusBadRequest:
			log.Warn(line)
		default:
			log.Info(line)
		}
	}
}

// GinLogrusRecovery recovers from handler panics, logs the stack through
// logrus, and answers 500.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.WithFields(log.Fields{
			"panic": recovered,
			"stack": string(debug.Stack()),
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
