package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/shared/idgen"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ChainService 供应链图注册：节点、边、定稿与确认
type ChainService struct {
	base
	cache *topologyCache
}

type CreateChainReq struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type AddNodeReq struct {
	Role           string               `json:"role" binding:"required"`
	Label          string               `json:"label"`
	Position       *entity.NodePosition `json:"position"`
	AssignedUserID *string              `json:"assigned_user_id"`
}

type AssignUserReq struct {
	UserID string `json:"user_id" binding:"required"`
}

type AddEdgeReq struct {
	SourceNodeID string `json:"source_node_id" binding:"required"`
	TargetNodeID string `json:"target_node_id" binding:"required"`
}

// AssignedUser 节点上的参与方
type AssignedUser struct {
	NodeID string          `json:"node_id"`
	Role   entity.NodeRole `json:"role"`
	UserID string          `json:"user_id"`
	Label  string          `json:"label"`
}

// CreateChain 创建草稿供应链
func (s *ChainService) CreateChain(ctx context.Context, req CreateChainReq, actor Actor) (*entity.SupplyChain, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.InvalidInput, "供应链名称不能为空")
	}
	now := s.now()
	chain := &entity.SupplyChain{
		ID:               uuid.New().String(),
		Code:             idgen.MustGenerate(idgen.PrefixSupplyChain, now),
		Name:             name,
		Description:      req.Description,
		BlockchainStatus: entity.ChainStatusDraft,
		CreatedBy:        actor.UserID,
		Version:          1,
	}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		if err := r.Chain.Create(ctx, chain); err != nil {
			return fmt.Errorf("创建供应链失败: %w", err)
		}
		return r.ActivityLog.LogTransition(ctx, entity.EntitySupplyChain, chain.ID, chain.Code, "create", "", string(chain.BlockchainStatus), "创建供应链: "+name, actor.UserID)
	})
	if err != nil {
		return nil, err
	}
	ob := &outbox{}
	ob.add(events.TopicChainCreated, entity.EntitySupplyChain, chain.ID, chain.Code, "", string(chain.BlockchainStatus), actor.UserID, now)
	s.flush(ctx, ob)
	return chain, nil
}

// GetChain 查询供应链（含拓扑）
func (s *ChainService) GetChain(ctx context.Context, chainID string) (*entity.SupplyChain, error) {
	if cached := s.cache.get(ctx, chainID); cached != nil {
		return cached, nil
	}
	chain, err := s.repos.Chain.FindByID(ctx, chainID)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "供应链", chainID)
	}
	s.cache.set(ctx, chain)
	return chain, nil
}

// ListChains 查询供应链列表
func (s *ChainService) ListChains(ctx context.Context, status string, page repository.Page) ([]entity.SupplyChain, int64, error) {
	chains, total, err := s.repos.Chain.List(ctx, status, page)
	if err != nil {
		return nil, 0, fmt.Errorf("查询供应链失败: %w", err)
	}
	return chains, total, nil
}

// AddNode 添加节点（仅草稿）
func (s *ChainService) AddNode(ctx context.Context, chainID string, req AddNodeReq, actor Actor) (*entity.GraphNode, error) {
	role, err := entity.ParseNodeRole(req.Role)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "节点角色 %s 无效", req.Role)
	}
	pos := entity.NodePosition{}
	if req.Position != nil {
		pos = *req.Position
	}
	posJSON, _ := json.Marshal(pos)

	node := &entity.GraphNode{
		ID:            uuid.New().String(),
		SupplyChainID: chainID,
		Role:          role,
		Label:         req.Label,
		Position:      posJSON,
		Status:        entity.NodeStatusActive,
	}
	if req.AssignedUserID != nil && *req.AssignedUserID != "" {
		node.AssignedUserID = req.AssignedUserID
	}

	var chain *entity.SupplyChain
	err = s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		chain, err = s.lockDraft(ctx, r, chainID)
		if err != nil {
			return err
		}
		if err := r.Chain.CreateNode(ctx, node); err != nil {
			return fmt.Errorf("创建节点失败: %w", err)
		}
		return s.touch(ctx, r, chain)
	})
	if err != nil {
		return nil, err
	}
	ob := &outbox{}
	ob.add(events.TopicNodeAdded, entity.EntitySupplyChain, chainID, chain.Code, "", string(role), actor.UserID, s.now())
	s.flush(ctx, ob)
	return node, nil
}

// AssignUser 将用户分配到节点（仅草稿）
func (s *ChainService) AssignUser(ctx context.Context, chainID, nodeID string, req AssignUserReq, actor Actor) (*entity.GraphNode, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, apperr.New(apperr.InvalidInput, "用户不能为空")
	}
	var node *entity.GraphNode
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		chain, err := s.lockDraft(ctx, r, chainID)
		if err != nil {
			return err
		}
		node, err = r.Chain.FindNode(ctx, chainID, nodeID)
		if err != nil {
			return notFound(err, apperr.NotFound, "节点", nodeID)
		}
		if err := r.Chain.UpdateNode(ctx, node, map[string]interface{}{"assigned_user_id": userID}); err != nil {
			return fmt.Errorf("分配用户失败: %w", err)
		}
		node.AssignedUserID = &userID
		return s.touch(ctx, r, chain)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// AddEdge 添加有向边（仅草稿）：两端同链、无自环、不重复
func (s *ChainService) AddEdge(ctx context.Context, chainID string, req AddEdgeReq, actor Actor) (*entity.GraphEdge, error) {
	if req.SourceNodeID == req.TargetNodeID {
		return nil, apperr.New(apperr.InvalidTopology, "不允许自环")
	}
	edge := &entity.GraphEdge{
		ID:            uuid.New().String(),
		SupplyChainID: chainID,
		SourceNodeID:  req.SourceNodeID,
		TargetNodeID:  req.TargetNodeID,
	}
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		chain, err := s.lockDraft(ctx, r, chainID)
		if err != nil {
			return err
		}
		for _, id := range []string{req.SourceNodeID, req.TargetNodeID} {
			if _, err := r.Chain.FindNode(ctx, chainID, id); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return apperr.New(apperr.InvalidTopology, "节点 %s 不属于供应链 %s", id, chainID)
				}
				return fmt.Errorf("查询节点失败: %w", err)
			}
		}
		exists, err := r.Chain.EdgeExists(ctx, chainID, req.SourceNodeID, req.TargetNodeID)
		if err != nil {
			return fmt.Errorf("查询边失败: %w", err)
		}
		if exists {
			return apperr.New(apperr.InvalidTopology, "边 %s → %s 已存在", req.SourceNodeID, req.TargetNodeID)
		}
		if err := r.Chain.CreateEdge(ctx, edge); err != nil {
			return fmt.Errorf("创建边失败: %w", err)
		}
		return s.touch(ctx, r, chain)
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// Finalize 定稿：DRAFT → FINALIZED，仅一次，且至少有一条边
func (s *ChainService) Finalize(ctx context.Context, chainID string, actor Actor) (*entity.SupplyChain, error) {
	var chain *entity.SupplyChain
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		chain, err = s.lockDraft(ctx, r, chainID)
		if err != nil {
			return err
		}
		edges, err := r.Chain.CountEdges(ctx, chainID)
		if err != nil {
			return fmt.Errorf("统计边失败: %w", err)
		}
		if edges == 0 {
			return apperr.New(apperr.InvalidTopology, "供应链至少需要一条边才能定稿")
		}
		now := s.now()
		if err := r.Chain.UpdateVersioned(ctx, chain, map[string]interface{}{
			"blockchain_status": entity.ChainStatusFinalized,
			"finalized_at":      now,
		}); err != nil {
			return conflict(err, "供应链")
		}
		chain.BlockchainStatus = entity.ChainStatusFinalized
		chain.FinalizedAt = &now
		return r.ActivityLog.LogTransition(ctx, entity.EntitySupplyChain, chain.ID, chain.Code, "finalize", string(entity.ChainStatusDraft), string(entity.ChainStatusFinalized), "供应链定稿", actor.UserID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("supply chain finalized", zap.String("chain_id", chainID))
	ob := &outbox{}
	ob.add(events.TopicChainFinalized, entity.EntitySupplyChain, chain.ID, chain.Code, string(entity.ChainStatusDraft), string(entity.ChainStatusFinalized), actor.UserID, s.now())
	s.flush(ctx, ob)
	return s.GetChain(ctx, chainID)
}

// Confirm 管理员确认：FINALIZED → CONFIRMED；已确认时直接返回
func (s *ChainService) Confirm(ctx context.Context, chainID string, actor Actor) (*entity.SupplyChain, error) {
	if !actor.Admin {
		return nil, apperr.New(apperr.Forbidden, "只有管理员可以确认供应链")
	}
	var chain *entity.SupplyChain
	changed := false
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		chain, err = r.Chain.FindForUpdate(ctx, chainID)
		if err != nil {
			return notFound(err, apperr.NotFound, "供应链", chainID)
		}
		if chain.BlockchainStatus == entity.ChainStatusConfirmed {
			return nil
		}
		if !chain.BlockchainStatus.CanTransitionTo(entity.ChainStatusConfirmed) {
			return apperr.New(apperr.InvalidTransition, "供应链状态 %s 不允许确认", chain.BlockchainStatus)
		}
		now := s.now()
		if err := r.Chain.UpdateVersioned(ctx, chain, map[string]interface{}{
			"blockchain_status": entity.ChainStatusConfirmed,
			"confirmed_at":      now,
		}); err != nil {
			return conflict(err, "供应链")
		}
		changed = true
		return r.ActivityLog.LogTransition(ctx, entity.EntitySupplyChain, chain.ID, chain.Code, "confirm", string(entity.ChainStatusFinalized), string(entity.ChainStatusConfirmed), "管理员确认供应链", actor.UserID)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.cache.invalidate(ctx, chainID)
		ob := &outbox{}
		ob.add(events.TopicChainConfirmed, entity.EntitySupplyChain, chain.ID, chain.Code, string(entity.ChainStatusFinalized), string(entity.ChainStatusConfirmed), actor.UserID, s.now())
		s.flush(ctx, ob)
	}
	return s.GetChain(ctx, chainID)
}

// DeleteNode 删除节点。先在同一快照内检查依赖（含已终结的历史单据），再检查定稿状态。
func (s *ChainService) DeleteNode(ctx context.Context, chainID, nodeID string, actor Actor) error {
	var code string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := s.repos.WithTx(tx)
		chain, err := r.Chain.FindForUpdate(ctx, chainID)
		if err != nil {
			return notFound(err, apperr.NotFound, "供应链", chainID)
		}
		code = chain.Code
		node, err := r.Chain.FindNode(ctx, chainID, nodeID)
		if err != nil {
			return notFound(err, apperr.NotFound, "节点", nodeID)
		}

		userID := ""
		if node.AssignedUserID != nil {
			userID = *node.AssignedUserID
		}
		deps, err := r.Chain.CountNodeDependencies(ctx, chainID, nodeID, userID)
		if err != nil {
			return fmt.Errorf("检查节点依赖失败: %w", err)
		}
		if deps.Total() > 0 {
			return apperr.New(apperr.NodeHasDependencies,
				"节点仍被引用：台账物项 %d，物料申请 %d，订单 %d，运输 %d",
				deps.LedgerItems, deps.MaterialRequests, deps.Orders, deps.Transports)
		}
		if chain.BlockchainStatus != entity.ChainStatusDraft {
			return apperr.New(apperr.ChainFinalized, "供应链已定稿，结构不可修改")
		}
		if err := r.Chain.DeleteNode(ctx, chainID, nodeID); err != nil {
			return fmt.Errorf("删除节点失败: %w", err)
		}
		return s.touch(ctx, r, chain)
	}, repository.SnapshotTxOptions(s.db)...)
	if err != nil {
		return err
	}
	ob := &outbox{}
	ob.add(events.TopicNodeDeleted, entity.EntitySupplyChain, chainID, code, "", "", actor.UserID, s.now())
	s.flush(ctx, ob)
	return nil
}

// GetAssignedUsers 返回链内已分配用户的节点，可按角色过滤
func (s *ChainService) GetAssignedUsers(ctx context.Context, chainID, role string) ([]AssignedUser, error) {
	var nodeRole entity.NodeRole
	if role != "" {
		r, err := entity.ParseNodeRole(role)
		if err != nil {
			return nil, apperr.New(apperr.InvalidInput, "节点角色 %s 无效", role)
		}
		nodeRole = r
	}
	chain, err := s.GetChain(ctx, chainID)
	if err != nil {
		return nil, err
	}
	users := []AssignedUser{}
	for _, n := range chain.Nodes {
		if n.AssignedUserID == nil || (nodeRole != "" && n.Role != nodeRole) {
			continue
		}
		users = append(users, AssignedUser{NodeID: n.ID, Role: n.Role, UserID: *n.AssignedUserID, Label: n.Label})
	}
	return users, nil
}

// HasFlow 判断两个参与方之间是否存在物流路径
func (s *ChainService) HasFlow(ctx context.Context, chainID, fromUser, fromRole, toUser, toRole string) (bool, error) {
	from, err := entity.ParseNodeRole(fromRole)
	if err != nil {
		return false, apperr.New(apperr.InvalidInput, "节点角色 %s 无效", fromRole)
	}
	to, err := entity.ParseNodeRole(toRole)
	if err != nil {
		return false, apperr.New(apperr.InvalidInput, "节点角色 %s 无效", toRole)
	}
	chain, err := s.GetChain(ctx, chainID)
	if err != nil {
		return false, err
	}
	return hasFlow(chain, fromUser, from, toUser, to), nil
}

// loadOperational 加载可承载业务的供应链（已定稿或已确认）
func (s *ChainService) loadOperational(ctx context.Context, r *repository.Repositories, chainID string) (*entity.SupplyChain, error) {
	chain := s.cache.get(ctx, chainID)
	if chain == nil {
		var err error
		chain, err = r.Chain.FindByID(ctx, chainID)
		if err != nil {
			return nil, notFound(err, apperr.NotFound, "供应链", chainID)
		}
		s.cache.set(ctx, chain)
	}
	if !chain.IsOperational() {
		return nil, apperr.New(apperr.InvalidTopology, "供应链 %s 尚未定稿", chain.Code)
	}
	return chain, nil
}

// lockDraft 锁定供应链并要求处于草稿状态
func (s *ChainService) lockDraft(ctx context.Context, r *repository.Repositories, chainID string) (*entity.SupplyChain, error) {
	chain, err := r.Chain.FindForUpdate(ctx, chainID)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "供应链", chainID)
	}
	if chain.BlockchainStatus != entity.ChainStatusDraft {
		return nil, apperr.New(apperr.ChainFinalized, "供应链已定稿，结构不可修改")
	}
	return chain, nil
}

// touch 结构变更时递增版本，使并发的定稿与结构修改互相冲突
func (s *ChainService) touch(ctx context.Context, r *repository.Repositories, chain *entity.SupplyChain) error {
	if err := r.Chain.UpdateVersioned(ctx, chain, map[string]interface{}{}); err != nil {
		return conflict(err, "供应链")
	}
	return nil
}
