package api

import (
	"context"
	"errors"
	"net/http"

	"agrosmart/auth"
	"agrosmart/internal/log"
	"agrosmart/internal/web/models"

	"github.com/gin-gonic/gin"
)

// LoginService issues tokens for valid credentials.
type LoginService interface {
	Login(ctx context.Context, username, password string) (string, error)
}

func RegisterAuthRoutes(router *gin.Engine, authModule LoginService, logger log.Logger) {
	r := router.Group("/auth")
	{
		r.POST("/login", func(c *gin.Context) {
			var loginRequest models.LoginRequest
			if err := c.ShouldBindJSON(&loginRequest); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := authModule.Login(c.Request.Context(), loginRequest.Username, loginRequest.Password)
			if errors.Is(err, auth.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				logger.Error(err, "login failed", "username", loginRequest.Username)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}
}
