package repository

import (
	"context"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"gorm.io/gorm"
)

// ChainRepository 供应链图仓库
type ChainRepository struct {
	db *gorm.DB
}

func NewChainRepository(db *gorm.DB) *ChainRepository {
	return &ChainRepository{db: db}
}

func (r *ChainRepository) Create(ctx context.Context, chain *entity.SupplyChain) error {
	return r.db.WithContext(ctx).Omit("Nodes", "Edges").Create(chain).Error
}

// FindByID 查询供应链（含节点与边）
func (r *ChainRepository) FindByID(ctx context.Context, id string) (*entity.SupplyChain, error) {
	var chain entity.SupplyChain
	err := r.db.WithContext(ctx).
		Preload("Nodes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Preload("Edges", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).First(&chain).Error
	if err != nil {
		return nil, translate(err)
	}
	return &chain, nil
}

// FindForUpdate 锁定供应链行（不含节点与边）
func (r *ChainRepository) FindForUpdate(ctx context.Context, id string) (*entity.SupplyChain, error) {
	var chain entity.SupplyChain
	if err := forUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&chain).Error; err != nil {
		return nil, translate(err)
	}
	return &chain, nil
}

// List 查询供应链列表
func (r *ChainRepository) List(ctx context.Context, status string, page Page) ([]entity.SupplyChain, int64, error) {
	var chains []entity.SupplyChain
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.SupplyChain{})
	if status != "" {
		query = query.Where("blockchain_status = ?", status)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := page.apply(query.Order("created_at DESC")).Find(&chains).Error
	return chains, total, err
}

// UpdateVersioned 带版本号更新供应链
func (r *ChainRepository) UpdateVersioned(ctx context.Context, chain *entity.SupplyChain, fields map[string]interface{}) error {
	if err := updateVersioned(r.db.WithContext(ctx), &entity.SupplyChain{}, chain.ID, chain.Version, fields); err != nil {
		return err
	}
	chain.Version++
	return nil
}

func (r *ChainRepository) CreateNode(ctx context.Context, node *entity.GraphNode) error {
	return r.db.WithContext(ctx).Create(node).Error
}

// FindNode 查询链内节点
func (r *ChainRepository) FindNode(ctx context.Context, chainID, nodeID string) (*entity.GraphNode, error) {
	var node entity.GraphNode
	err := r.db.WithContext(ctx).Where("id = ? AND supply_chain_id = ?", nodeID, chainID).First(&node).Error
	if err != nil {
		return nil, translate(err)
	}
	return &node, nil
}

func (r *ChainRepository) UpdateNode(ctx context.Context, node *entity.GraphNode, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.GraphNode{}).Where("id = ?", node.ID).Updates(fields).Error
}

// ListNodes 查询链内节点，role 为空时返回全部
func (r *ChainRepository) ListNodes(ctx context.Context, chainID string, role entity.NodeRole) ([]entity.GraphNode, error) {
	var nodes []entity.GraphNode
	query := r.db.WithContext(ctx).Where("supply_chain_id = ?", chainID)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	err := query.Order("created_at ASC, id ASC").Find(&nodes).Error
	return nodes, err
}

func (r *ChainRepository) CreateEdge(ctx context.Context, edge *entity.GraphEdge) error {
	return r.db.WithContext(ctx).Create(edge).Error
}

// EdgeExists 判断边是否已存在
func (r *ChainRepository) EdgeExists(ctx context.Context, chainID, sourceID, targetID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.GraphEdge{}).
		Where("supply_chain_id = ? AND source_node_id = ? AND target_node_id = ?", chainID, sourceID, targetID).
		Count(&count).Error
	return count > 0, err
}

// CountEdges 统计链内边数
func (r *ChainRepository) CountEdges(ctx context.Context, chainID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.GraphEdge{}).Where("supply_chain_id = ?", chainID).Count(&count).Error
	return count, err
}

// DeleteNode 删除节点及其关联的边
func (r *ChainRepository) DeleteNode(ctx context.Context, chainID, nodeID string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("supply_chain_id = ? AND (source_node_id = ? OR target_node_id = ?)", chainID, nodeID, nodeID).
		Delete(&entity.GraphEdge{}).Error; err != nil {
		return err
	}
	return db.Where("id = ? AND supply_chain_id = ?", nodeID, chainID).Delete(&entity.GraphNode{}).Error
}

// NodeDependencies 节点的依赖统计
type NodeDependencies struct {
	LedgerItems      int64 `json:"ledger_items"`
	MaterialRequests int64 `json:"material_requests"`
	Orders           int64 `json:"orders"`
	Transports       int64 `json:"transports"`
}

func (d NodeDependencies) Total() int64 {
	return d.LedgerItems + d.MaterialRequests + d.Orders + d.Transports
}

// CountNodeDependencies 统计引用该节点（或其分配用户在本链内）的业务数据，含已终结的历史记录
func (r *ChainRepository) CountNodeDependencies(ctx context.Context, chainID, nodeID, userID string) (NodeDependencies, error) {
	var deps NodeDependencies
	db := r.db.WithContext(ctx)

	transports := db.Model(&entity.Transport{}).
		Where("supply_chain_id = ? AND (source_node_id = ? OR destination_node_id = ?)", chainID, nodeID, nodeID)
	if userID != "" {
		transports = db.Model(&entity.Transport{}).
			Where("supply_chain_id = ? AND (source_node_id = ? OR destination_node_id = ? OR distributor_id = ?)", chainID, nodeID, nodeID, userID)
	}
	if err := transports.Count(&deps.Transports).Error; err != nil {
		return deps, err
	}
	if userID == "" {
		return deps, nil
	}

	if err := db.Model(&entity.LedgerItem{}).
		Where("supply_chain_id = ? AND owner_id = ?", chainID, userID).
		Count(&deps.LedgerItems).Error; err != nil {
		return deps, err
	}
	if err := db.Model(&entity.MaterialRequest{}).
		Where("supply_chain_id = ? AND (supplier_id = ? OR manufacturer_id = ?)", chainID, userID, userID).
		Count(&deps.MaterialRequests).Error; err != nil {
		return deps, err
	}
	if err := db.Model(&entity.Order{}).
		Where("supply_chain_id = ? AND (customer_id = ? OR manufacturer_id = ? OR distributor_id = ?)", chainID, userID, userID, userID).
		Count(&deps.Orders).Error; err != nil {
		return deps, err
	}
	return deps, nil
}
