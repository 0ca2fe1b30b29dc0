package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// LedgerService 台账：记录物项的归属与数量，每次变更追加一条哈希链交易
type LedgerService struct {
	base
	tracking *Tracking
}

// MintReq 铸造物项
type MintReq struct {
	OwnerID       string          `json:"owner_id"`
	ItemType      string          `json:"item_type" binding:"required"`
	MaterialID    string          `json:"material_id" binding:"required"`
	Quantity      decimal.Decimal `json:"quantity"`
	SupplyChainID string          `json:"supply_chain_id" binding:"required"`
	ParentItemID  *string         `json:"parent_item_id"`
}

// TransferReq 转移物项
type TransferReq struct {
	NewOwnerID string          `json:"new_owner_id" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

// TransferResult 转移结果：源物项（剩余部分）与新物项
type TransferResult struct {
	Source      *entity.LedgerItem `json:"source"`
	Transferred *entity.LedgerItem `json:"transferred"`
}

// ItemHistory 溯源链上的一个物项及其交易
type ItemHistory struct {
	Item         entity.LedgerItem          `json:"item"`
	Transactions []entity.LedgerTransaction `json:"transactions"`
}

// TraceResult 物项溯源结果（根 → 当前）
type TraceResult struct {
	Chain    []ItemHistory `json:"chain"`
	Verified bool          `json:"verified"`
}

// TransactionDetail 交易详情
type TransactionDetail struct {
	Transaction *entity.LedgerTransaction `json:"transaction"`
	Verified    bool                      `json:"verified"`
}

type mintParams struct {
	OwnerID       string
	ItemType      entity.ItemType
	MaterialID    string
	Quantity      decimal.Decimal
	SupplyChainID string
	ParentItemID  *string
	Status        entity.ItemStatus
	RefType       string
	RefID         string
	PrevHash      string
	SourceItemID  string
	Payload       map[string]string
}

type txMeta struct {
	SourceItemID string
	FromOwner    string
	ToOwner      string
	Quantity     decimal.Decimal
	Status       entity.ItemStatus
	Payload      map[string]string
}

type transferOpts struct {
	// Detach 新物项不继承源物项的关联单据
	Detach  bool
	Status  entity.ItemStatus
	RefType string
	RefID   string
	Payload map[string]string
}

// Mint 铸造新物项
func (s *LedgerService) Mint(ctx context.Context, req MintReq, actor Actor) (*entity.LedgerItem, error) {
	itemType, err := entity.ParseItemType(req.ItemType)
	if err != nil {
		return nil, apperr.New(apperr.InvalidInput, "物项类型 %s 无效", req.ItemType)
	}
	if !req.Quantity.IsPositive() {
		return nil, apperr.New(apperr.InvalidInput, "数量必须大于0")
	}
	owner := actor.resolve(req.OwnerID)
	if owner == "" {
		return nil, apperr.New(apperr.InvalidInput, "物项必须有持有人")
	}

	var item *entity.LedgerItem
	err = s.transaction(ctx, func(r *repository.Repositories) error {
		if _, err := r.Chain.FindByID(ctx, req.SupplyChainID); err != nil {
			return notFound(err, apperr.NotFound, "供应链", req.SupplyChainID)
		}
		p := mintParams{
			OwnerID:       owner,
			ItemType:      itemType,
			MaterialID:    req.MaterialID,
			Quantity:      req.Quantity,
			SupplyChainID: req.SupplyChainID,
			Status:        entity.ItemStatusCreated,
		}
		if req.ParentItemID != nil && *req.ParentItemID != "" {
			parent, err := r.Ledger.FindItem(ctx, *req.ParentItemID)
			if err != nil {
				return notFound(err, apperr.ItemNotFound, "父物项", *req.ParentItemID)
			}
			p.ParentItemID = &parent.ID
			p.PrevHash = parent.LastTxHash
			p.SourceItemID = parent.ID
		}
		item, err = s.mintTx(ctx, r, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("ledger item minted", zap.String("item_id", item.ID), zap.String("owner", item.OwnerID), zap.String("quantity", item.Quantity.String()))
	return item, nil
}

// Transfer 转移物项：部分转移拆分出新物项，全量转移后源物项失效
func (s *LedgerService) Transfer(ctx context.Context, itemID string, req TransferReq, actor Actor) (*TransferResult, error) {
	var result *TransferResult
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		item, err := r.Ledger.FindItem(ctx, itemID)
		if err != nil {
			return notFound(err, apperr.ItemNotFound, "台账物项", itemID)
		}
		if !actor.Is(item.OwnerID) {
			return apperr.New(apperr.Forbidden, "只有持有人可以转移物项")
		}
		if item.Held() {
			return apperr.New(apperr.InvalidTransition, "物项 %s 处于 %s 状态，被业务单据占用，不能直接转移", itemID, item.Status)
		}
		result, err = s.transferTx(ctx, r, itemID, req.NewOwnerID, req.Quantity, transferOpts{Detach: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	ob := &outbox{}
	ob.add(events.TopicLedgerTransferred, "ledger_item", result.Transferred.ID, "", "", string(result.Transferred.Status), actor.UserID, s.now())
	s.flush(ctx, ob)
	return result, nil
}

// Deactivate 使物项失效
func (s *LedgerService) Deactivate(ctx context.Context, itemID string, actor Actor) (*entity.LedgerItem, error) {
	var item *entity.LedgerItem
	err := s.transaction(ctx, func(r *repository.Repositories) error {
		var err error
		item, err = r.Ledger.FindItemForUpdate(ctx, itemID)
		if err != nil {
			return notFound(err, apperr.ItemNotFound, "台账物项", itemID)
		}
		if !actor.Is(item.OwnerID) {
			return apperr.New(apperr.Forbidden, "只有持有人可以注销物项")
		}
		if !item.IsActive {
			return apperr.New(apperr.ItemInactive, "物项 %s 已失效", itemID)
		}
		if item.Held() {
			return apperr.New(apperr.InvalidTransition, "物项 %s 处于 %s 状态，被业务单据占用，不能注销", itemID, item.Status)
		}
		return s.deactivateTx(ctx, r, item, item.Status)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// GetItem 查询物项
func (s *LedgerService) GetItem(ctx context.Context, itemID string) (*entity.LedgerItem, error) {
	item, err := s.repos.Ledger.FindItem(ctx, itemID)
	if err != nil {
		return nil, notFound(err, apperr.ItemNotFound, "台账物项", itemID)
	}
	return item, nil
}

// GetItemsByOwner 查询某参与方持有的物项
func (s *LedgerService) GetItemsByOwner(ctx context.Context, ownerID string, activeOnly bool) ([]entity.LedgerItem, error) {
	items, err := s.repos.Ledger.ListItems(ctx, repository.ItemFilter{OwnerID: ownerID, ActiveOnly: activeOnly})
	if err != nil {
		return nil, fmt.Errorf("查询物项失败: %w", err)
	}
	return items, nil
}

// GetTransaction 按哈希查询交易并校验
func (s *LedgerService) GetTransaction(ctx context.Context, hash string) (*TransactionDetail, error) {
	tx, err := s.repos.Ledger.FindTransaction(ctx, hash)
	if err != nil {
		return nil, notFound(err, apperr.NotFound, "交易", hash)
	}
	return &TransactionDetail{Transaction: tx, Verified: tx.Verify()}, nil
}

// TraceItemHistory 沿 parentItemId 回溯到最初铸造的物项，返回根到当前的完整链路
func (s *LedgerService) TraceItemHistory(ctx context.Context, itemID string) (*TraceResult, error) {
	item, err := s.repos.Ledger.FindItem(ctx, itemID)
	if err != nil {
		return nil, notFound(err, apperr.ItemNotFound, "台账物项", itemID)
	}

	lineage := []entity.LedgerItem{*item}
	seen := map[string]bool{item.ID: true}
	for cur := item; cur.ParentItemID != nil; {
		if seen[*cur.ParentItemID] {
			return nil, fmt.Errorf("物项 %s 的父链存在环", itemID)
		}
		parent, err := s.repos.Ledger.FindItem(ctx, *cur.ParentItemID)
		if err != nil {
			return nil, notFound(err, apperr.ItemNotFound, "父物项", *cur.ParentItemID)
		}
		seen[parent.ID] = true
		lineage = append(lineage, *parent)
		cur = parent
	}

	result := &TraceResult{Verified: true}
	var parentHashes map[string]bool
	for i := len(lineage) - 1; i >= 0; i-- {
		txs, err := s.repos.Ledger.ListTransactions(ctx, lineage[i].ID)
		if err != nil {
			return nil, fmt.Errorf("查询交易失败: %w", err)
		}
		if !verifyChain(txs, parentHashes) {
			result.Verified = false
		}
		parentHashes = make(map[string]bool, len(txs))
		for _, tx := range txs {
			parentHashes[tx.TxHash] = true
		}
		result.Chain = append(result.Chain, ItemHistory{Item: lineage[i], Transactions: txs})
	}
	return result, nil
}

// verifyChain 校验单个物项的交易链：哈希正确、前后相连，首条指向父物项的某条交易
func verifyChain(txs []entity.LedgerTransaction, parentHashes map[string]bool) bool {
	for i := range txs {
		if !txs[i].Verify() {
			return false
		}
		if i == 0 {
			if parentHashes != nil && txs[i].PrevHash != "" && !parentHashes[txs[i].PrevHash] {
				return false
			}
			continue
		}
		if txs[i].PrevHash != txs[i-1].TxHash {
			return false
		}
	}
	return true
}

var historyExportHeaders = []string{
	"物项ID", "序号", "操作", "转出方", "转入方", "数量", "状态", "交易哈希", "前序哈希", "时间",
}

// ExportHistory 导出物项溯源链为 xlsx
func (s *LedgerService) ExportHistory(ctx context.Context, itemID string) (*excelize.File, string, error) {
	trace, err := s.TraceItemHistory(ctx, itemID)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "History"
	f.SetSheetName("Sheet1", sheet)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return nil, "", fmt.Errorf("create header style: %w", err)
	}
	for i, h := range historyExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(sheet, col+"1", h)
		f.SetCellStyle(sheet, col+"1", col+"1", headerStyle)
	}

	row := 2
	for _, h := range trace.Chain {
		for _, tx := range h.Transactions {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), tx.ItemID)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), tx.ItemSeq)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), string(tx.Operation))
			f.SetCellValue(sheet, fmt.Sprintf("D%d", row), tx.FromOwner)
			f.SetCellValue(sheet, fmt.Sprintf("E%d", row), tx.ToOwner)
			f.SetCellValue(sheet, fmt.Sprintf("F%d", row), tx.Quantity.String())
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), string(tx.Status))
			f.SetCellValue(sheet, fmt.Sprintf("H%d", row), tx.TxHash)
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), tx.PrevHash)
			f.SetCellValue(sheet, fmt.Sprintf("J%d", row), tx.CreatedAt.Format("2006-01-02 15:04:05"))
			row++
		}
	}

	colWidths := []float64{38, 6, 12, 20, 20, 14, 12, 66, 66, 20}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
	return f, fmt.Sprintf("ledger_history_%s.xlsx", itemID), nil
}

// === 事务内操作，供各引擎在自身事务中调用 ===

func (s *LedgerService) mintTx(ctx context.Context, r *repository.Repositories, p mintParams) (*entity.LedgerItem, error) {
	item := &entity.LedgerItem{
		ID:            uuid.New().String(),
		ItemType:      p.ItemType,
		MaterialID:    p.MaterialID,
		OwnerID:       p.OwnerID,
		Quantity:      p.Quantity,
		SupplyChainID: p.SupplyChainID,
		Status:        p.Status,
		IsActive:      true,
		ParentItemID:  p.ParentItemID,
		ReferenceType: p.RefType,
		ReferenceID:   p.RefID,
		Version:       1,
	}

	var rec *entity.LedgerTransaction
	if s.tracking.Enabled() {
		rec = s.newRecord(item.ID, 1, entity.TxOpMint, p.PrevHash, txMeta{
			SourceItemID: p.SourceItemID,
			ToOwner:      item.OwnerID,
			Quantity:     item.Quantity,
			Status:       item.Status,
			Payload:      p.Payload,
		})
		item.LastTxHash = rec.TxHash
		item.TxCount = 1
	}

	if err := r.Ledger.CreateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("创建台账物项失败: %w", err)
	}
	if rec != nil {
		if err := r.Ledger.CreateTransaction(ctx, rec); err != nil {
			return nil, fmt.Errorf("写入台账交易失败: %w", err)
		}
		s.metrics.observeLedgerTx(string(rec.Operation))
	}
	return item, nil
}

// transferTx 锁定源物项后拆分；数量不足或物项失效时不做任何写入
func (s *LedgerService) transferTx(ctx context.Context, r *repository.Repositories, itemID, newOwnerID string, qty decimal.Decimal, opts transferOpts) (*TransferResult, error) {
	if newOwnerID == "" {
		return nil, apperr.New(apperr.InvalidInput, "接收方不能为空")
	}
	if !qty.IsPositive() {
		return nil, apperr.New(apperr.InvalidInput, "转移数量必须大于0")
	}

	item, err := r.Ledger.FindItemForUpdate(ctx, itemID)
	if err != nil {
		return nil, notFound(err, apperr.ItemNotFound, "台账物项", itemID)
	}
	if !item.IsActive {
		return nil, apperr.New(apperr.ItemInactive, "物项 %s 已失效", itemID)
	}
	if qty.GreaterThan(item.Quantity) {
		return nil, apperr.New(apperr.InsufficientQuantity, "物项 %s 可用数量 %s，不足 %s", itemID, item.Quantity, qty)
	}

	remaining := item.Quantity.Sub(qty)
	full := remaining.IsZero()
	fields := map[string]interface{}{"quantity": remaining}
	op := entity.TxOpSplit
	if full {
		fields["is_active"] = false
		op = entity.TxOpTransfer
	}
	if _, err := s.applyTx(ctx, r, item, fields, op, txMeta{
		FromOwner: item.OwnerID,
		ToOwner:   newOwnerID,
		Quantity:  qty,
		Status:    item.Status,
		Payload:   opts.Payload,
	}); err != nil {
		return nil, err
	}
	item.Quantity = remaining
	item.IsActive = !full

	status := item.Status
	if opts.Status != "" {
		status = opts.Status
	}
	refType, refID := item.ReferenceType, item.ReferenceID
	if opts.Detach {
		refType, refID = "", ""
	}
	if opts.RefType != "" {
		refType, refID = opts.RefType, opts.RefID
	}
	child, err := s.mintTx(ctx, r, mintParams{
		OwnerID:       newOwnerID,
		ItemType:      item.ItemType,
		MaterialID:    item.MaterialID,
		Quantity:      qty,
		SupplyChainID: item.SupplyChainID,
		ParentItemID:  &item.ID,
		Status:        status,
		RefType:       refType,
		RefID:         refID,
		PrevHash:      item.LastTxHash,
		SourceItemID:  item.ID,
		Payload:       opts.Payload,
	})
	if err != nil {
		return nil, err
	}
	return &TransferResult{Source: item, Transferred: child}, nil
}

// setStatusTx 变更物项状态（可同时变更关联单据）
func (s *LedgerService) setStatusTx(ctx context.Context, r *repository.Repositories, item *entity.LedgerItem, status entity.ItemStatus, op entity.TxOperation, refType, refID string) error {
	fields := map[string]interface{}{"status": status, "reference_type": refType, "reference_id": refID}
	if _, err := s.applyTx(ctx, r, item, fields, op, txMeta{
		FromOwner: item.OwnerID,
		ToOwner:   item.OwnerID,
		Quantity:  item.Quantity,
		Status:    status,
	}); err != nil {
		return err
	}
	item.Status = status
	item.ReferenceType, item.ReferenceID = refType, refID
	return nil
}

// deactivateTx 使物项失效并置为终态
func (s *LedgerService) deactivateTx(ctx context.Context, r *repository.Repositories, item *entity.LedgerItem, status entity.ItemStatus) error {
	fields := map[string]interface{}{"is_active": false, "status": status}
	if _, err := s.applyTx(ctx, r, item, fields, entity.TxOpDeactivate, txMeta{
		FromOwner: item.OwnerID,
		Quantity:  item.Quantity,
		Status:    status,
	}); err != nil {
		return err
	}
	item.IsActive = false
	item.Status = status
	return nil
}

// applyTx 带版本号更新物项，并在开启追踪时追加一条接在 lastTxHash 之后的交易
func (s *LedgerService) applyTx(ctx context.Context, r *repository.Repositories, item *entity.LedgerItem, fields map[string]interface{}, op entity.TxOperation, meta txMeta) (*entity.LedgerTransaction, error) {
	var rec *entity.LedgerTransaction
	if s.tracking.Enabled() {
		rec = s.newRecord(item.ID, item.TxCount+1, op, item.LastTxHash, meta)
		fields["last_tx_hash"] = rec.TxHash
		fields["tx_count"] = item.TxCount + 1
	}
	if err := r.Ledger.UpdateItemVersioned(ctx, item, fields); err != nil {
		return nil, conflict(err, "台账物项")
	}
	if rec == nil {
		return nil, nil
	}
	if err := r.Ledger.CreateTransaction(ctx, rec); err != nil {
		return nil, fmt.Errorf("写入台账交易失败: %w", err)
	}
	item.LastTxHash = rec.TxHash
	item.TxCount++
	s.metrics.observeLedgerTx(string(op))
	return rec, nil
}

func (s *LedgerService) newRecord(itemID string, seq int, op entity.TxOperation, prevHash string, meta txMeta) *entity.LedgerTransaction {
	rec := &entity.LedgerTransaction{
		Nonce:        uuid.New().String(),
		PrevHash:     prevHash,
		ItemID:       itemID,
		ItemSeq:      seq,
		SourceItemID: meta.SourceItemID,
		Operation:    op,
		FromOwner:    meta.FromOwner,
		ToOwner:      meta.ToOwner,
		Quantity:     meta.Quantity,
		Status:       meta.Status,
		CreatedAt:    s.now().UTC().Truncate(time.Microsecond),
	}
	if len(meta.Payload) > 0 {
		rec.Payload, _ = json.Marshal(meta.Payload)
	}
	rec.TxHash = rec.ComputeHash()
	return rec
}
