package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const Version = "0.1.0"

func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Card Collection Tracker API", "version": Version})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
