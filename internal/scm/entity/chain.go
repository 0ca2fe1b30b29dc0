package entity

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// ChainStatus 供应链链上状态
type ChainStatus string

const (
	ChainStatusDraft     ChainStatus = "DRAFT"
	ChainStatusFinalized ChainStatus = "FINALIZED"
	ChainStatusConfirmed ChainStatus = "CONFIRMED"
)

// ValidChainTransitions 合法的链状态流转
var ValidChainTransitions = map[ChainStatus][]ChainStatus{
	ChainStatusDraft:     {ChainStatusFinalized},
	ChainStatusFinalized: {ChainStatusConfirmed},
}

func (s ChainStatus) CanTransitionTo(next ChainStatus) bool {
	return contains(ValidChainTransitions[s], next)
}

// NodeRole 节点角色
type NodeRole string

const (
	RoleSupplier     NodeRole = "Supplier"
	RoleManufacturer NodeRole = "Manufacturer"
	RoleDistributor  NodeRole = "Distributor"
	RoleCustomer     NodeRole = "Customer"
	RoleUnassigned   NodeRole = "Unassigned"
	RoleQA           NodeRole = "QA"
	RoleWarehouse    NodeRole = "Warehouse"
)

var nodeRoles = []NodeRole{
	RoleSupplier, RoleManufacturer, RoleDistributor, RoleCustomer,
	RoleUnassigned, RoleQA, RoleWarehouse,
}

// ParseNodeRole 校验并转换节点角色，未知角色返回错误
func ParseNodeRole(s string) (NodeRole, error) {
	r := NodeRole(s)
	if !contains(nodeRoles, r) {
		return "", fmt.Errorf("unknown node role %q", s)
	}
	return r, nil
}

// IsIntermediary 可作为物流中转的角色
func (r NodeRole) IsIntermediary() bool {
	return r == RoleQA || r == RoleWarehouse || r == RoleUnassigned
}

// SupplyChain 供应链
type SupplyChain struct {
	ID               string      `json:"id" gorm:"primaryKey;size:36"`
	Code             string      `json:"code" gorm:"size:32;not null;uniqueIndex"`
	Name             string      `json:"name" gorm:"size:128;not null"`
	Description      string      `json:"description" gorm:"type:text"`
	BlockchainStatus ChainStatus `json:"blockchain_status" gorm:"size:20;not null;index"`
	CreatedBy        string      `json:"created_by" gorm:"size:64"`
	FinalizedAt      *time.Time  `json:"finalized_at"`
	ConfirmedAt      *time.Time  `json:"confirmed_at"`
	Version          int64       `json:"version" gorm:"not null"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`

	Nodes []GraphNode `json:"nodes,omitempty" gorm:"foreignKey:SupplyChainID"`
	Edges []GraphEdge `json:"edges,omitempty" gorm:"foreignKey:SupplyChainID"`
}

func (SupplyChain) TableName() string {
	return "scm_supply_chains"
}

// IsOperational 已定稿（或已确认）的链才能承载业务
func (c *SupplyChain) IsOperational() bool {
	return c.BlockchainStatus == ChainStatusFinalized || c.BlockchainStatus == ChainStatusConfirmed
}

// NodePosition 画布坐标
type NodePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GraphNode 供应链节点
type GraphNode struct {
	ID             string         `json:"id" gorm:"primaryKey;size:36"`
	SupplyChainID  string         `json:"supply_chain_id" gorm:"size:36;not null;index"`
	Role           NodeRole       `json:"role" gorm:"size:20;not null"`
	Label          string         `json:"label" gorm:"size:128"`
	AssignedUserID *string        `json:"assigned_user_id" gorm:"size:64;index"`
	Position       datatypes.JSON `json:"position"`
	Status         string         `json:"status" gorm:"size:20;not null"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (GraphNode) TableName() string {
	return "scm_graph_nodes"
}

// AssignedTo 节点是否分配给指定用户
func (n *GraphNode) AssignedTo(userID string) bool {
	return n.AssignedUserID != nil && *n.AssignedUserID == userID
}

// 节点状态
const (
	NodeStatusActive = "active"
)

// GraphEdge 有向边，方向即允许的物流方向
type GraphEdge struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	SupplyChainID string    `json:"supply_chain_id" gorm:"size:36;not null;uniqueIndex:uk_scm_edge"`
	SourceNodeID  string    `json:"source_node_id" gorm:"size:36;not null;uniqueIndex:uk_scm_edge"`
	TargetNodeID  string    `json:"target_node_id" gorm:"size:36;not null;uniqueIndex:uk_scm_edge"`
	CreatedAt     time.Time `json:"created_at"`
}

func (GraphEdge) TableName() string {
	return "scm_graph_edges"
}
