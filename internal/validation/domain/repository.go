package domain

import "context"

// OpportunityRepository 投资机会仓储接口
type OpportunityRepository interface {
	// Save 保存机会及其里程碑（整体替换里程碑列表），按 Version 做乐观锁
	Save(ctx context.Context, o *Opportunity) error
	// Get 根据 ID 获取机会，不存在返回 ErrOpportunityNotFound
	Get(ctx context.Context, opportunityID string) (*Opportunity, error)
}
