// Package validation provides input validation middleware for the gateway API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for string fields
const MaxStringLength = 10000

var (
	// txidRegex validates transaction identifiers: hex hashes, base58
	// strings, and colon-suffixed variants some chains use (hash:index)
	txidRegex = regexp.MustCompile(`^[a-zA-Z0-9:\-]{4,128}$`)
	// currencyCodeRegex validates ISO-style currency codes
	currencyCodeRegex = regexp.MustCompile(`^[A-Z]{3,8}$`)
	// cryptoNameRegex validates crypto names accepted by the payment processor
	cryptoNameRegex = regexp.MustCompile(`^[A-Za-z0-9\-]{2,32}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidTxID checks if a string looks like a blockchain transaction id
func IsValidTxID(s string) bool {
	return txidRegex.MatchString(s)
}

// IsValidCurrencyCode checks if a string is a plausible currency code
func IsValidCurrencyCode(s string) bool {
	return currencyCodeRegex.MatchString(s)
}

// IsValidCryptoName checks if a string is a plausible crypto name
func IsValidCryptoName(s string) bool {
	return cryptoNameRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)

	if len(s) > maxLen {
		s = s[:maxLen]
	}

	s = strings.ReplaceAll(s, "\x00", "")

	return s
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidCrypto checks if a field is a valid crypto name
func ValidCrypto(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidCryptoName(value) {
			return &ValidationError{Field: field, Message: "must be a valid crypto name"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// TxIDParamMiddleware validates the :txid URL parameter on routes that use it.
// Apply to route groups that include :txid params to reject malformed ids early.
func TxIDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		txid := c.Param("txid")
		if txid != "" && !IsValidTxID(txid) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_txid",
				"message": "txid must be a valid transaction identifier",
			})
			return
		}
		c.Next()
	}
}
