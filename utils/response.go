package utils

import "github.com/gin-gonic/gin"

// Abort stops the handler chain with a {"error": msg} body.
func Abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
