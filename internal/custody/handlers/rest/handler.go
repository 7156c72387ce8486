// Package rest provides the REST API for the custody service
package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/covault/covault/internal/custody"
	"github.com/covault/covault/pkg/errors"
)

// Amounts travel as strings so clients never round them through floats; the
// "decimal" binding rule rejects anything shopspring cannot parse.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
			_, err := decimal.NewFromString(fl.Field().String())
			return err == nil
		})
	}
}

// CustodyHandler handles REST requests for custody operations
type CustodyHandler struct {
	service *custody.Service
}

// NewCustodyHandler creates a new custody REST handler
func NewCustodyHandler(service *custody.Service) *CustodyHandler {
	return &CustodyHandler{service: service}
}

// RegisterRoutes registers custody routes with the Gin router
func (h *CustodyHandler) RegisterRoutes(r *gin.RouterGroup) {
	wallets := r.Group("/wallets")
	{
		wallets.POST("", h.CreateWallet)
		wallets.GET("/:id", h.GetWallet)
		wallets.PUT("/:id/threshold", h.UpdateThreshold)
		wallets.POST("/:id/participants", h.AddParticipant)
		wallets.DELETE("/:id/participants/:userID", h.RemoveParticipant)
		wallets.POST("/:id/suspend", h.SuspendWallet)
		wallets.POST("/:id/activate", h.ActivateWallet)

		wallets.GET("/:id/transactions", h.ListTransactions)
		wallets.POST("/:id/deposits", h.RegisterDeposit)
		wallets.GET("/:id/deposits", h.ListDeposits)

		wallets.POST("/:id/rules", h.CreateRule)
		wallets.GET("/:id/rules", h.ListRules)
		wallets.POST("/:id/distributions/evaluate", h.EvaluateDistribution)
	}

	txs := r.Group("/transactions")
	{
		txs.POST("", h.ProposeTransaction)
		txs.GET("/:id", h.GetTransaction)
		txs.POST("/:id/signatures", h.SubmitSignature)
		txs.POST("/:id/execute", h.ExecuteTransaction)
		txs.POST("/:id/reject", h.RejectTransaction)
		txs.POST("/:id/reconcile", h.ReconcileTransaction)
	}

	deps := r.Group("/deposits")
	{
		deps.GET("/:id", h.GetDeposit)
		deps.POST("/:id/confirm", h.ConfirmDeposit)
		deps.POST("/:id/cancel", h.CancelDeposit)
		deps.POST("/:id/fail", h.FailDeposit)
		deps.POST("/:id/retry", h.RetryDeposit)
	}

	rules := r.Group("/rules")
	{
		rules.GET("/:id", h.GetRule)
		rules.PUT("/:id", h.UpdateRule)
		rules.POST("/:id/toggle", h.ToggleRule)
		rules.DELETE("/:id", h.DeleteRule)
		rules.POST("/:id/simulate", h.SimulateRule)
	}
}

// callerID extracts the authenticated caller from the X-Caller-ID header set
// by the edge auth layer.
func (h *CustodyHandler) callerID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-Caller-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "caller identity required"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid caller identity"})
		return uuid.Nil, false
	}
	return id, true
}

// pathID parses a uuid path parameter.
func (h *CustodyHandler) pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// pagination parses limit/offset query parameters.
func (h *CustodyHandler) pagination(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// handleError maps a classified error to an HTTP response.
func (h *CustodyHandler) handleError(c *gin.Context, err error) {
	status := errors.HTTPStatus(err)
	body := gin.H{"error": err.Error(), "kind": string(errors.KindOf(err))}
	if status == http.StatusInternalServerError {
		// Internal details stay in the logs.
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
