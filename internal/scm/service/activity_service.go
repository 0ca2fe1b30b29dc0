package service

import (
	"context"
	"fmt"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
)

// ActivityService 审计日志查询
type ActivityService struct {
	repo *repository.ActivityLogRepository
}

// ListByEntity 查询实体的状态流转记录
func (s *ActivityService) ListByEntity(ctx context.Context, entityType, entityID string) ([]entity.ActivityLog, error) {
	logs, err := s.repo.FindByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("查询操作日志失败: %w", err)
	}
	return logs, nil
}
