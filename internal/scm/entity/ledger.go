package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ItemType 台账物项类型
type ItemType string

const (
	ItemTypeRawMaterial       ItemType = "raw-material"
	ItemTypeAllocatedMaterial ItemType = "allocated-material"
	ItemTypeRecycledMaterial  ItemType = "recycled-material"
	ItemTypeProduct           ItemType = "product"
	ItemTypeReturnedProduct   ItemType = "returned-product"
)

var itemTypes = []ItemType{
	ItemTypeRawMaterial, ItemTypeAllocatedMaterial, ItemTypeRecycledMaterial,
	ItemTypeProduct, ItemTypeReturnedProduct,
}

// ParseItemType 校验物项类型
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !contains(itemTypes, t) {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// IsMaterial 是否为原材料类物项（可被生产消耗）
func (t ItemType) IsMaterial() bool {
	return t == ItemTypeRawMaterial || t == ItemTypeAllocatedMaterial || t == ItemTypeRecycledMaterial
}

// ItemStatus 台账物项状态
type ItemStatus string

const (
	ItemStatusCreated    ItemStatus = "Created"
	ItemStatusAllocated  ItemStatus = "Allocated"
	ItemStatusReserved   ItemStatus = "Reserved"
	ItemStatusInTransit  ItemStatus = "InTransit"
	ItemStatusProcessing ItemStatus = "Processing"
	ItemStatusCompleted  ItemStatus = "Completed"
	ItemStatusRejected   ItemStatus = "Rejected"
)

var itemStatuses = []ItemStatus{
	ItemStatusCreated, ItemStatusAllocated, ItemStatusReserved, ItemStatusInTransit,
	ItemStatusProcessing, ItemStatusCompleted, ItemStatusRejected,
}

// ParseItemStatus 校验物项状态
func ParseItemStatus(s string) (ItemStatus, error) {
	st := ItemStatus(s)
	if !contains(itemStatuses, st) {
		return "", fmt.Errorf("unknown item status %q", s)
	}
	return st, nil
}

// Consumable 处于该状态的物料批次可投入生产
func (s ItemStatus) Consumable() bool {
	return s == ItemStatusCreated || s == ItemStatusAllocated || s == ItemStatusCompleted
}

// 物项关联的业务单据类型
const (
	RefTypeRequest = "material_request"
	RefTypeBatch   = "production_batch"
	RefTypeOrder   = "order"
)

// LedgerItem 台账物项：某一方持有的一批物料或成品
type LedgerItem struct {
	ID            string          `json:"id" gorm:"primaryKey;size:36"`
	ItemType      ItemType        `json:"item_type" gorm:"size:32;not null"`
	MaterialID    string          `json:"material_id" gorm:"size:64;not null;index"`
	OwnerID       string          `json:"owner_id" gorm:"size:64;not null;index"`
	Quantity      decimal.Decimal `json:"quantity" gorm:"type:decimal(20,6);not null"`
	SupplyChainID string          `json:"supply_chain_id" gorm:"size:36;not null;index"`
	Status        ItemStatus      `json:"status" gorm:"size:20;not null"`
	IsActive      bool            `json:"is_active" gorm:"not null;index"`
	ParentItemID  *string         `json:"parent_item_id" gorm:"size:36;index"`
	ReferenceType string          `json:"reference_type" gorm:"size:32;index:idx_scm_ledger_ref"`
	ReferenceID   string          `json:"reference_id" gorm:"size:36;index:idx_scm_ledger_ref"`
	LastTxHash    string          `json:"last_tx_hash" gorm:"size:64"`
	TxCount       int             `json:"tx_count" gorm:"not null"`
	Version       int64           `json:"version" gorm:"not null"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (LedgerItem) TableName() string {
	return "scm_ledger_items"
}

// Held 物项被业务流程占用（预留、在途、生产中或已分配给申请），只能由对应流程变更
func (i *LedgerItem) Held() bool {
	switch i.Status {
	case ItemStatusReserved, ItemStatusInTransit, ItemStatusProcessing:
		return true
	case ItemStatusAllocated:
		return i.ReferenceType == RefTypeRequest
	}
	return false
}

// TxOperation 台账交易类型
type TxOperation string

const (
	TxOpMint       TxOperation = "mint"
	TxOpSplit      TxOperation = "split"
	TxOpTransfer   TxOperation = "transfer"
	TxOpStatus     TxOperation = "status"
	TxOpDeactivate TxOperation = "deactivate"
	TxOpRelease    TxOperation = "release"
)

// LedgerTransaction 只追加的哈希链交易记录
type LedgerTransaction struct {
	TxHash       string          `json:"tx_hash" gorm:"primaryKey;size:64"`
	Nonce        string          `json:"nonce" gorm:"size:36;not null"`
	PrevHash     string          `json:"prev_hash" gorm:"size:64"`
	ItemID       string          `json:"item_id" gorm:"size:36;not null;index:idx_scm_tx_item"`
	ItemSeq      int             `json:"item_seq" gorm:"not null;index:idx_scm_tx_item"`
	SourceItemID string          `json:"source_item_id" gorm:"size:36"`
	Operation    TxOperation     `json:"operation" gorm:"size:20;not null"`
	FromOwner    string          `json:"from_owner" gorm:"size:64"`
	ToOwner      string          `json:"to_owner" gorm:"size:64"`
	Quantity     decimal.Decimal `json:"quantity" gorm:"type:decimal(20,6)"`
	Status       ItemStatus      `json:"status" gorm:"size:20"`
	Payload      datatypes.JSON  `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (LedgerTransaction) TableName() string {
	return "scm_ledger_transactions"
}

// ComputeHash 计算交易哈希：sha256(规范化 JSON)
func (t *LedgerTransaction) ComputeHash() string {
	var payload interface{}
	if len(t.Payload) > 0 {
		// 重新编码以消除 jsonb 存储带来的键序与空白差异
		if err := json.Unmarshal(t.Payload, &payload); err != nil {
			payload = string(t.Payload)
		}
	}
	canonical := struct {
		Nonce        string      `json:"nonce"`
		PrevHash     string      `json:"prev_hash"`
		ItemID       string      `json:"item_id"`
		ItemSeq      int         `json:"item_seq"`
		SourceItemID string      `json:"source_item_id"`
		Operation    TxOperation `json:"operation"`
		FromOwner    string      `json:"from_owner"`
		ToOwner      string      `json:"to_owner"`
		Quantity     string      `json:"quantity"`
		Status       ItemStatus  `json:"status"`
		Payload      interface{} `json:"payload"`
		CreatedAt    string      `json:"created_at"`
	}{
		Nonce:        t.Nonce,
		PrevHash:     t.PrevHash,
		ItemID:       t.ItemID,
		ItemSeq:      t.ItemSeq,
		SourceItemID: t.SourceItemID,
		Operation:    t.Operation,
		FromOwner:    t.FromOwner,
		ToOwner:      t.ToOwner,
		Quantity:     t.Quantity.String(),
		Status:       t.Status,
		Payload:      payload,
		CreatedAt:    t.CreatedAt.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Verify 校验记录未被篡改
func (t *LedgerTransaction) Verify() bool {
	return t.TxHash != "" && t.TxHash == t.ComputeHash()
}
