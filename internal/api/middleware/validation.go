package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ValidatorConfig bounds job definitions accepted by the API. The
// teacher's command-blacklist approach doesn't apply here — there is no
// arbitrary shell step to sanitize — so this validator instead bounds
// the shape of a job definition (name length, step count) that every
// step type shares.
type ValidatorConfig struct {
	MaxBodySize int64
	MaxNameLength int
	MaxSteps      int
}

func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:   1 << 20,
		MaxNameLength: 256,
		MaxSteps:      100,
	}
}

type Validator struct {
	config ValidatorConfig
}

func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

func (v *Validator) ValidateName(name string) error {
	if len(name) == 0 {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if len(name) > v.config.MaxNameLength {
		return &ValidationError{Field: "name", Message: "name exceeds maximum length"}
	}
	return nil
}

func (v *Validator) ValidateStepCount(n int) error {
	if n == 0 {
		return &ValidationError{Field: "steps", Message: "at least one step is required"}
	}
	if n > v.config.MaxSteps {
		return &ValidationError{Field: "steps", Message: "too many steps"}
	}
	return nil
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// BodySizeLimitMiddleware limits request body size.
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds standard defensive response headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// RequestIDMiddleware adds a request ID for correlation with logs/traces.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = "req-" + randomHex(8)
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
