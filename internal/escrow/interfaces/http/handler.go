// Package http 托管账本 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/investportal/internal/escrow/application"
	"github.com/wyfcoding/investportal/internal/escrow/domain"
	"github.com/wyfcoding/investportal/pkg/db"
)

// Handler HTTP 接口处理器
type Handler struct {
	ledger    *application.EscrowLedger
	tracker   *application.ReleaseConditionTracker
	scheduler *application.AutoReleaseScheduler
}

// NewHandler 创建 HTTP 处理器
func NewHandler(ledger *application.EscrowLedger, tracker *application.ReleaseConditionTracker, scheduler *application.AutoReleaseScheduler) *Handler {
	return &Handler{ledger: ledger, tracker: tracker, scheduler: scheduler}
}

// RegisterRoutes 注册路由，writeMiddleware 只作用于写接口（限流等）
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, writeMiddleware ...gin.HandlerFunc) {
	escrow := r.Group("/escrow")

	read := escrow.Group("")
	{
		read.GET("/accounts", h.ListAccounts)
		read.GET("/accounts/:id", h.GetAccount)
		read.GET("/accounts/:id/transactions", h.ListTransactions)
		read.GET("/accounts/:id/conditions", h.ListConditions)
		read.GET("/accounts/:id/conditions/check", h.CheckConditions)
		read.GET("/accounts/:id/conservation", h.VerifyConservation)
	}

	write := escrow.Group("", writeMiddleware...)
	{
		write.POST("/accounts", h.CreateAccount)
		write.POST("/accounts/:id/fund", h.FundAccount)
		write.POST("/accounts/:id/release", h.ReleaseFunds)
		write.POST("/accounts/:id/fee", h.ChargeFee)
		write.POST("/accounts/:id/dispute", h.DisputeAccount)
		write.POST("/accounts/:id/cancel", h.CancelAccount)
		write.POST("/accounts/:id/auto-release", h.AutoRelease)
		write.POST("/conditions/:id/met", h.MarkConditionMet)
		write.POST("/signals", h.Signal)
	}
}

// ConditionRequest 放款条件
type ConditionRequest struct {
	ConditionType string     `json:"condition_type" binding:"required"`
	ReferenceID   string     `json:"reference_id"`
	Description   string     `json:"description"`
	DueDate       *time.Time `json:"due_date"`
}

// CreateAccountRequest 创建托管账户请求
type CreateAccountRequest struct {
	OpportunityID  string             `json:"opportunity_id" binding:"required"`
	InvestorID     string             `json:"investor_id" binding:"required"`
	EntrepreneurID string             `json:"entrepreneur_id" binding:"required"`
	Amount         decimal.Decimal    `json:"amount"`
	Currency       string             `json:"currency"`
	Conditions     []ConditionRequest `json:"conditions" binding:"dive"`
}

// CreateAccount 创建托管账户
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.CreateAccountCommand{
		OpportunityID:  req.OpportunityID,
		InvestorID:     req.InvestorID,
		EntrepreneurID: req.EntrepreneurID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Conditions:     make([]domain.ReleaseCondition, 0, len(req.Conditions)),
	}
	for _, rc := range req.Conditions {
		cmd.Conditions = append(cmd.Conditions, domain.ReleaseCondition{
			ConditionType: domain.ConditionType(rc.ConditionType),
			ReferenceID:   rc.ReferenceID,
			Description:   rc.Description,
			DueDate:       rc.DueDate,
		})
	}

	acc, err := h.ledger.CreateAccount(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acc)
}

// GetAccount 查询托管账户
func (h *Handler) GetAccount(c *gin.Context) {
	acc, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// ListAccounts 按投资机会查询托管账户
func (h *Handler) ListAccounts(c *gin.Context) {
	opportunityID := c.Query("opportunity_id")
	if opportunityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "opportunity_id is required"})
		return
	}
	accounts, err := h.ledger.ListAccountsByOpportunity(c.Request.Context(), opportunityID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "total": len(accounts)})
}

// ListTransactions 查询账户流水
func (h *Handler) ListTransactions(c *gin.Context) {
	txs, err := h.ledger.ListTransactions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs, "total": len(txs)})
}

// AmountRequest 金额类操作请求
type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Reference   string          `json:"reference"`
	RecipientID string          `json:"recipient_id"`
	Reason      string          `json:"reason"`
}

// FundAccount 入金
func (h *Handler) FundAccount(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.ledger.FundAccount(c.Request.Context(), c.Param("id"), req.Amount, req.Reference)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ReleaseFunds 放款
func (h *Handler) ReleaseFunds(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.ledger.ReleaseFunds(c.Request.Context(), c.Param("id"), req.Amount, req.RecipientID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ChargeFee 扣收手续费
func (h *Handler) ChargeFee(c *gin.Context) {
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tx, err := h.ledger.ChargeFee(c.Request.Context(), c.Param("id"), req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// ReasonRequest 争议/取消请求
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// DisputeAccount 发起争议
func (h *Handler) DisputeAccount(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, err := h.ledger.DisputeAccount(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acc)
}

// CancelAccount 取消托管
func (h *Handler) CancelAccount(c *gin.Context) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	acc, refund, err := h.ledger.CancelAccount(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acc, "refund": refund})
}

// AutoRelease 手动触发一次条件检查与自动放款
func (h *Handler) AutoRelease(c *gin.Context) {
	released, err := h.scheduler.AutoReleaseIfConditionsMet(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": c.Param("id"), "released": released})
}

// ListConditions 查询放款条件
func (h *Handler) ListConditions(c *gin.Context) {
	conds, err := h.tracker.ListConditions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conditions": conds, "all_met": domain.AllConditionsMet(conds)})
}

// CheckConditions 检查是否满足全部放款条件
func (h *Handler) CheckConditions(c *gin.Context) {
	ok, err := h.tracker.CheckReleaseConditions(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": c.Param("id"), "releasable": ok})
}

// MarkConditionMet 人工标记条件满足
func (h *Handler) MarkConditionMet(c *gin.Context) {
	cond, err := h.tracker.MarkConditionMet(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

// SignalRequest 外部条件信号，validation_compliant 可省略 opportunity_id
type SignalRequest struct {
	Type          string `json:"type" binding:"required"`
	OpportunityID string `json:"opportunity_id"`
	ReferenceID   string `json:"reference_id" binding:"required"`
}

// Signal 接收外部条件信号并触发自动放款
func (h *Handler) Signal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	released, err := h.scheduler.OnSignal(c.Request.Context(), domain.Signal{
		Type:          domain.ConditionType(req.Type),
		OpportunityID: req.OpportunityID,
		ReferenceID:   req.ReferenceID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"released": released})
}

// VerifyConservation 守恒校验
func (h *Handler) VerifyConservation(c *gin.Context) {
	report, err := h.ledger.VerifyConservation(c.Request.Context(), c.Param("id"))
	if err != nil && !(errors.Is(err, domain.ErrConservationViolated) && report != nil) {
		writeError(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"report": report, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientFunds):
		// 错误内含账户余额，只进日志
		_ = c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient funds to release"})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrNoReleaseConditions):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case db.IsRetryable(err):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger temporarily unavailable", "retryable": true})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
