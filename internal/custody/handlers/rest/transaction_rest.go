package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/covault/covault/internal/custody/interfaces"
)

// ProposeTransactionRequest represents a proposal request
type ProposeTransactionRequest struct {
	WalletID  uuid.UUID `json:"wallet_id" binding:"required"`
	Type      string    `json:"type" binding:"required,oneof=payment deposit division configuration"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount" binding:"required,decimal"`
	Currency  string    `json:"currency" binding:"required"`
	Memo      string    `json:"memo"`
}

// ProposeTransaction handles transaction proposals
func (h *CustodyHandler) ProposeTransaction(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	var req ProposeTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	tx, err := h.service.Transactions.Propose(c.Request.Context(), req.WalletID, callerID,
		interfaces.TxType(req.Type), req.Recipient, amount, req.Currency, req.Memo)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

// GetTransaction handles transaction retrieval
func (h *CustodyHandler) GetTransaction(c *gin.Context) {
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	tx, err := h.service.Transactions.Get(c.Request.Context(), txID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ListTransactions handles wallet transaction listing
func (h *CustodyHandler) ListTransactions(c *gin.Context) {
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	limit, offset := h.pagination(c)
	txs, err := h.service.Transactions.ListWalletTransactions(c.Request.Context(), walletID, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "limit": limit, "offset": offset})
}

// SubmitSignatureRequest represents a signature submission
type SubmitSignatureRequest struct {
	PublicKey string `json:"public_key" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// SubmitSignature handles signature submission
func (h *CustodyHandler) SubmitSignature(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req SubmitSignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.Signatures.SubmitSignature(c.Request.Context(), txID, callerID, req.PublicKey, req.Signature)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ExecuteTransactionRequest represents an execution request
type ExecuteTransactionRequest struct {
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// ExecuteTransaction handles transaction execution
func (h *CustodyHandler) ExecuteTransaction(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ExecuteTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.service.Transactions.Execute(c.Request.Context(), txID, req.IdempotencyKey)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// RejectTransactionRequest represents a rejection request
type RejectTransactionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectTransaction handles transaction rejection
func (h *CustodyHandler) RejectTransaction(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RejectTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.service.Transactions.Reject(c.Request.Context(), txID, callerID, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ReconcileTransaction handles reconciliation of a stuck execution against
// the ledger
func (h *CustodyHandler) ReconcileTransaction(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	txID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	tx, err := h.service.ReconcileTransaction(c.Request.Context(), txID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}
