package response

import "github.com/gin-gonic/gin"

// OK writes {"ok": true, ...fields}.
func OK(c *gin.Context, statusCode int, fields gin.H) {
	body := gin.H{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(statusCode, body)
}

// Fail writes {"ok": false, "error": message, ...details}. Empty detail
// values are dropped.
func Fail(c *gin.Context, statusCode int, message string, details gin.H) {
	body := gin.H{"ok": false, "error": message}
	for k, v := range details {
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		if v == nil {
			continue
		}
		body[k] = v
	}
	c.JSON(statusCode, body)
}

// Error writes the bare {"error": message} shape used by the record endpoints.
func Error(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}
