package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/covault/covault/internal/custody/interfaces"
	"github.com/covault/covault/internal/custody/splits"
)

// RuleRequest represents rule creation and update bodies
type RuleRequest struct {
	Name       string                      `json:"name" binding:"required"`
	RuleType   string                      `json:"rule_type" binding:"required,oneof=percentage fixed_amount priority_based"`
	Priority   int                         `json:"priority" binding:"required,min=1,max=100"`
	Conditions interfaces.RuleConditions   `json:"conditions" binding:"required"`
	Split      interfaces.SplitConfig      `json:"split_configuration" binding:"required"`
	Advanced   interfaces.AdvancedSettings `json:"advanced_settings"`
}

func (r *RuleRequest) spec() splits.RuleSpec {
	return splits.RuleSpec{
		Name:       r.Name,
		RuleType:   interfaces.RuleType(r.RuleType),
		Priority:   r.Priority,
		Conditions: r.Conditions,
		Split:      r.Split,
		Advanced:   r.Advanced,
	}
}

// CreateRule handles rule creation
func (h *CustodyHandler) CreateRule(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.Splits.CreateRule(c.Request.Context(), walletID, callerID, req.spec())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// GetRule handles rule retrieval
func (h *CustodyHandler) GetRule(c *gin.Context) {
	ruleID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rule, err := h.service.Splits.GetRule(c.Request.Context(), ruleID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ListRules handles wallet rule listing
func (h *CustodyHandler) ListRules(c *gin.Context) {
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rules, err := h.service.Splits.ListWalletRules(c.Request.Context(), walletID)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

// UpdateRule handles rule updates
func (h *CustodyHandler) UpdateRule(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	ruleID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.Splits.UpdateRule(c.Request.Context(), ruleID, callerID, req.spec())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ToggleRuleRequest represents an activation toggle
type ToggleRuleRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// ToggleRule handles rule activation and deactivation
func (h *CustodyHandler) ToggleRule(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	ruleID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ToggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule, err := h.service.Splits.ToggleRule(c.Request.Context(), ruleID, callerID, *req.Active)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule handles rule deletion
func (h *CustodyHandler) DeleteRule(c *gin.Context) {
	callerID, ok := h.callerID(c)
	if !ok {
		return
	}
	ruleID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Splits.DeleteRule(c.Request.Context(), ruleID, callerID); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SimulateRuleRequest represents a dry-run request
type SimulateRuleRequest struct {
	Amount string `json:"amount" binding:"required,decimal"`
}

// SimulateRule handles rule dry runs
func (h *CustodyHandler) SimulateRule(c *gin.Context) {
	ruleID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req SimulateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	plan, err := h.service.Splits.Simulate(c.Request.Context(), ruleID, amount)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

// EvaluateDistributionRequest represents a manual distribution trigger
type EvaluateDistributionRequest struct {
	Amount   string `json:"amount" binding:"required,decimal"`
	Currency string `json:"currency" binding:"required"`
}

// EvaluateDistribution handles a manual split evaluation against a wallet
func (h *CustodyHandler) EvaluateDistribution(c *gin.Context) {
	if _, ok := h.callerID(c); !ok {
		return
	}
	walletID, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req EvaluateDistributionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	plans, err := h.service.Splits.Evaluate(c.Request.Context(), walletID, amount, req.Currency, interfaces.TriggerManual)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
