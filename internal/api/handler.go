// Package api exposes the provisioning endpoints the Telegram bot links
// users to, plus status and metrics.
package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailgram-io/mailgram/internal/models"
	"github.com/mailgram-io/mailgram/internal/token"
	"github.com/mailgram-io/mailgram/internal/watch"
)

// AccountProvisioner is the slice of the directory the API needs.
type AccountProvisioner interface {
	Create(ctx context.Context, account *models.EmailAccount, password string) (int64, error)
	Get(ctx context.Context, id int64) (*models.EmailAccount, error)
	UpdatePassword(ctx context.Context, id int64, password string) error
	Remove(ctx context.Context, id int64) error
}

// Connector is the slice of the session manager the API needs.
type Connector interface {
	Connect(ctx context.Context, accountID int64) error
	Disconnect(ctx context.Context, accountID int64) error
	States() map[int64]watch.State
}

// Notifier reports provisioning outcomes back to the user's chat.
type Notifier interface {
	NotifySuccess(ctx context.Context, chatID int64, text string)
	NotifyError(ctx context.Context, chatID int64, text string)
}

// Handler wires the provisioning flows.
type Handler struct {
	provisioner AccountProvisioner
	connector   Connector
	notifier    Notifier
	tokens      *token.Store
	appName     string
	logger      *log.Logger
}

func NewHandler(provisioner AccountProvisioner, connector Connector, notifier Notifier, tokens *token.Store, appName string) *Handler {
	return &Handler{
		provisioner: provisioner,
		connector:   connector,
		notifier:    notifier,
		tokens:      tokens,
		appName:     appName,
		logger:      log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/api/status", h.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	email := router.Group("/api/email")
	{
		email.GET("/validate-token", h.handleValidateToken(token.PurposeAddAccount))
		email.GET("/validate-reset-token", h.handleValidateToken(token.PurposeResetPassword))
		email.POST("/add", h.handleAddAccount)
		email.POST("/reset-password", h.handleResetPassword)
	}
}

func (h *Handler) handleStatus(c *gin.Context) {
	states := h.connector.States()
	counts := make(map[string]int)
	for _, state := range states {
		counts[state.String()]++
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"service":  h.appName,
		"sessions": counts,
	})
}

// handleValidateToken lets the provisioning page check a token before
// rendering the form. Validation never consumes the token.
func (h *Handler) handleValidateToken(purpose string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := c.Query("token")
		if tok == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Missing token"})
			return
		}
		data, ok := h.tokens.Validate(tok, purpose)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
			return
		}
		body := gin.H{
			"success": true,
			"valid":   true,
			"purpose": data.Purpose,
		}
		// Reset tokens are bound to an account; tell the form whose
		// password it is changing.
		if data.AccountID != 0 {
			body["accountId"] = data.AccountID
			if account, err := h.provisioner.Get(c.Request.Context(), data.AccountID); err == nil {
				body["email"] = account.EmailAddress
			}
		}
		c.JSON(http.StatusOK, body)
	}
}

type addAccountRequest struct {
	Token      string `json:"token" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	IMAPHost   string `json:"imapHost" binding:"required"`
	IMAPPort   int    `json:"imapPort" binding:"required"`
	UseTLS     *bool  `json:"useTls"`
	SpamFolder string `json:"spamFolder"`
}

// handleAddAccount registers a mailbox and proves the credentials by
// connecting before confirming. A failed connect rolls the account back
// but keeps the token alive so the user can retry the same link.
func (h *Handler) handleAddAccount(c *gin.Context) {
	var req addAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	data, ok := h.tokens.Validate(req.Token, token.PurposeAddAccount)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
		return
	}

	useTLS := true
	if req.UseTLS != nil {
		useTLS = *req.UseTLS
	}
	account := &models.EmailAccount{
		UserID:       data.UserID,
		ChatID:       data.ChatID,
		EmailAddress: req.Email,
		IMAPHost:     req.IMAPHost,
		IMAPPort:     req.IMAPPort,
		UseTLS:       useTLS,
		IsActive:     true,
	}
	if req.SpamFolder != "" {
		account.SpamFolder = &req.SpamFolder
	}

	ctx := c.Request.Context()
	id, err := h.provisioner.Create(ctx, account, req.Password)
	if err != nil {
		h.logger.Printf("Account create failed for chat %d: %v", data.ChatID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Could not save account"})
		return
	}

	if err := h.connector.Connect(ctx, id); err != nil {
		h.logger.Printf("Connect test failed for account %d: %v", id, err)
		if removeErr := h.provisioner.Remove(ctx, id); removeErr != nil {
			h.logger.Printf("Rollback of account %d failed: %v", id, removeErr)
		}
		h.notifier.NotifyError(ctx, data.ChatID, "Could not connect to "+req.Email+". Please check the credentials and try again.")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not connect to the mailbox"})
		return
	}

	h.tokens.Invalidate(req.Token)
	h.notifier.NotifySuccess(ctx, data.ChatID, "Email account "+req.Email+" added and being watched.")
	c.JSON(http.StatusOK, gin.H{"success": true, "accountId": id})
}

type resetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleResetPassword stores the new password and reconnects with it. On
// failure the new password and the token both stay so the user can fix the
// mailbox side and retry.
func (h *Handler) handleResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request: " + err.Error()})
		return
	}

	data, ok := h.tokens.Validate(req.Token, token.PurposeResetPassword)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
		return
	}

	ctx := c.Request.Context()
	if err := h.provisioner.UpdatePassword(ctx, data.AccountID, req.Password); err != nil {
		h.logger.Printf("Password update failed for account %d: %v", data.AccountID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Could not update password"})
		return
	}

	_ = h.connector.Disconnect(ctx, data.AccountID)
	if err := h.connector.Connect(ctx, data.AccountID); err != nil {
		h.logger.Printf("Reconnect with new password failed for account %d: %v", data.AccountID, err)
		h.notifier.NotifyError(ctx, data.ChatID, "Password saved, but connecting with it failed. Please verify and try again.")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Could not connect with the new password"})
		return
	}

	h.tokens.Invalidate(req.Token)
	h.notifier.NotifySuccess(ctx, data.ChatID, "Password updated and mailbox reconnected.")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
