package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/registry"
)

// CreateWalletRequest represents a wallet creation request
type CreateWalletRequest struct {
	Threshold    int               `json:"threshold" binding:"required,min=1"`
	ContractRef  string            `json:"contract_ref"`
	Participants []ParticipantBody `json:"participants" binding:"required,min=1,dive"`
}

// ParticipantBody represents one participant in a wallet request
type ParticipantBody struct {
	UserID    uuid.UUID `json:"user_id" binding:"required"`
	PublicKey string    `json:"public_key" binding:"required"`
	Role      string    `json:"role" binding:"required,oneof=admin participant"`
}

// CreateWallet handles wallet creation
func (h *CustodyHandler) CreateWallet(c *gin.Context) {
	var req CreateWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	specs := make([]registry.ParticipantSpec, 0, len(req.Participants))
	for _, p := range req.Participants {
		specs = append(specs, registry.ParticipantSpec{
			UserID:    p.UserID,
			PublicKey: p.PublicKey,
			Role:      interfaces.ParticipantRole(p.Role),
		})
	}
	wallet, err := h.service.Wallets.CreateWallet(c.Request.Context(), specs, req.Threshold, req.ContractRef)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wallet)
}

// GetWallet handles wallet retrieval
func (h *CustodyHandler) GetWallet(c *gin.Context) {
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	wallet, err := h.service.Wallets.GetWallet(c.Request.Context(), walletID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// UpdateThresholdRequest represents a threshold change request
type UpdateThresholdRequest struct {
	Threshold int `json:"threshold" binding:"required,min=1"`
}

// UpdateThreshold handles threshold changes
func (h *CustodyHandler) UpdateThreshold(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req UpdateThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet, err := h.service.Wallets.UpdateThreshold(c.Request.Context(), walletID, callerID, req.Threshold)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// AddParticipant handles participant addition
func (h *CustodyHandler) AddParticipant(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ParticipantBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet, err := h.service.Wallets.AddParticipant(c.Request.Context(), walletID, callerID, registry.ParticipantSpec{
		UserID:    req.UserID,
		PublicKey: req.PublicKey,
		Role:      interfaces.ParticipantRole(req.Role),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// RemoveParticipant handles participant removal
func (h *CustodyHandler) RemoveParticipant(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := h.pathID(c, "userID")
	if !ok {
		return
	}
	wallet, err := h.service.Wallets.RemoveParticipant(c.Request.Context(), walletID, callerID, userID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// SuspendWallet handles wallet suspension
func (h *CustodyHandler) SuspendWallet(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	wallet, err := h.service.Wallets.SuspendWallet(c.Request.Context(), walletID, callerID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// ActivateWallet handles wallet reactivation
func (h *CustodyHandler) ActivateWallet(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	wallet, err := h.service.Wallets.ActivateWallet(c.Request.Context(), walletID, callerID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}
