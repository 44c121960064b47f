// Package http 投资机会校验服务 HTTP 接口
package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/wyfcoding/investportal/internal/validation/application"
	"github.com/wyfcoding/investportal/internal/validation/domain"
)

// Handler HTTP 接口处理器
type Handler struct {
	service *application.ValidationService
}

// NewHandler 创建 HTTP 处理器
func NewHandler(service *application.ValidationService) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	opportunities := r.Group("/opportunities")
	{
		opportunities.POST("", h.SubmitOpportunity)
		opportunities.GET("/:id", h.GetOpportunity)
		opportunities.POST("/:id/validate", h.ValidateOpportunity)
		opportunities.POST("/:id/milestones/:milestone_id/complete", h.CompleteMilestone)
	}

	rules := r.Group("/rules")
	{
		rules.GET("", h.ListRules)
		rules.POST("", h.AddRule)
	}
}

// MilestoneRequest 里程碑
type MilestoneRequest struct {
	MilestoneID          string           `json:"milestone_id" binding:"required"`
	Title                string           `json:"title" binding:"required"`
	TargetDate           *time.Time       `json:"target_date"`
	Status               string           `json:"status"`
	CompletionPercentage *int             `json:"completion_percentage"`
	Dependencies         []string         `json:"dependencies"`
	Budget               *decimal.Decimal `json:"budget"`
	ActualCost           *decimal.Decimal `json:"actual_cost"`
}

// SubmitOpportunityRequest 提交投资机会请求
type SubmitOpportunityRequest struct {
	OpportunityID string             `json:"opportunity_id"`
	Type          string             `json:"type" binding:"required"`
	Status        string             `json:"status"`
	Fields        map[string]any     `json:"fields"`
	Milestones    []MilestoneRequest `json:"milestones" binding:"dive"`
}

// SubmitOpportunity 提交或更新投资机会
func (h *Handler) SubmitOpportunity(c *gin.Context) {
	var req SubmitOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.SubmitOpportunityCommand{
		OpportunityID: req.OpportunityID,
		Type:          req.Type,
		Status:        domain.OpportunityStatus(req.Status),
		Fields:        req.Fields,
		Milestones:    make([]domain.Milestone, 0, len(req.Milestones)),
	}
	for _, m := range req.Milestones {
		ms := domain.Milestone{
			MilestoneID:          m.MilestoneID,
			Title:                m.Title,
			Status:               domain.MilestoneStatus(m.Status),
			CompletionPercentage: m.CompletionPercentage,
			Dependencies:         m.Dependencies,
			Budget:               m.Budget,
			ActualCost:           m.ActualCost,
		}
		if m.TargetDate != nil {
			ms.TargetDate = m.TargetDate.UTC()
		}
		cmd.Milestones = append(cmd.Milestones, ms)
	}

	opp, err := h.service.SubmitOpportunity(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, opp)
}

// GetOpportunity 查询投资机会
func (h *Handler) GetOpportunity(c *gin.Context) {
	opp, err := h.service.GetOpportunity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, opp)
}

// ValidateOpportunity 执行校验
func (h *Handler) ValidateOpportunity(c *gin.Context) {
	result, err := h.service.ValidateOpportunity(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CompleteMilestone 完成里程碑
func (h *Handler) CompleteMilestone(c *gin.Context) {
	opp, err := h.service.CompleteMilestone(c.Request.Context(), c.Param("id"), c.Param("milestone_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, opp)
}

// ListRules 列出规则
func (h *Handler) ListRules(c *gin.Context) {
	rules := h.service.ListRules(c.Request.Context(), domain.RuleCategory(c.Query("category")))
	c.JSON(http.StatusOK, gin.H{"rules": rules, "total": len(rules)})
}

// AddRule 注册声明式规则
func (h *Handler) AddRule(c *gin.Context) {
	var spec domain.RuleSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.AddRule(c.Request.Context(), spec); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"rule_id": spec.ID})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOpportunityNotFound), errors.Is(err, domain.ErrMilestoneNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrOpportunityImmutable), errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrDuplicateRule):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidOpportunity), errors.Is(err, domain.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
