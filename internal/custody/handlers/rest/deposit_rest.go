package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// RegisterDepositRequest represents a deposit registration
type RegisterDepositRequest struct {
	Amount        string `json:"amount" binding:"required,decimal"`
	Currency      string `json:"currency" binding:"required"`
	SourceAddress string `json:"source_address"`
	ChainTxHash   string `json:"chain_tx_hash" binding:"required"`
	Memo          string `json:"memo"`
}

// RegisterDeposit handles deposit registration
func (h *CustodyHandler) RegisterDeposit(c *gin.Context) {
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RegisterDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	deposit, err := h.service.Deposits.RegisterDeposit(c.Request.Context(), walletID, amount,
		req.Currency, req.SourceAddress, req.ChainTxHash, req.Memo)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, deposit)
}

// GetDeposit handles deposit retrieval
func (h *CustodyHandler) GetDeposit(c *gin.Context) {
	depositID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	deposit, err := h.service.Deposits.GetDeposit(c.Request.Context(), depositID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

// ListDeposits handles wallet deposit listing
func (h *CustodyHandler) ListDeposits(c *gin.Context) {
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	limit, offset := h.pagination(c)
	deposits, err := h.service.Deposits.ListWalletDeposits(c.Request.Context(), walletID, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deposits, "limit": limit, "offset": offset})
}

// ConfirmDepositRequest represents a confirmation report
type ConfirmDepositRequest struct {
	BlockNumber   int64  `json:"block_number"`
	Confirmations int    `json:"confirmations" binding:"required,min=1"`
	Fee           string `json:"fee"`
}

// ConfirmDeposit handles deposit confirmation
func (h *CustodyHandler) ConfirmDeposit(c *gin.Context) {
	depositID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ConfirmDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fee := decimal.Zero
	if req.Fee != "" {
		var err error
		fee, err = decimal.NewFromString(req.Fee)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fee"})
			return
		}
	}
	deposit, err := h.service.Deposits.ConfirmDeposit(c.Request.Context(), depositID,
		req.BlockNumber, req.Confirmations, fee)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

// CancelDeposit handles deposit cancellation
func (h *CustodyHandler) CancelDeposit(c *gin.Context) {
	depositID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	deposit, err := h.service.Deposits.CancelDeposit(c.Request.Context(), depositID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

// FailDepositRequest represents a failure report
type FailDepositRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// FailDeposit handles deposit failure reports
func (h *CustodyHandler) FailDeposit(c *gin.Context) {
	depositID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req FailDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	deposit, err := h.service.Deposits.FailDeposit(c.Request.Context(), depositID, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}

// RetryDeposit handles re-queueing a failed deposit
func (h *CustodyHandler) RetryDeposit(c *gin.Context) {
	depositID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	deposit, err := h.service.Deposits.RetryDeposit(c.Request.Context(), depositID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, deposit)
}
