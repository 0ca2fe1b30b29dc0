package service

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/bitfantasy/nimo-scm/internal/scm/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	supplierID     = "u-supplier"
	manufacturerID = "u-maker"
	distributorID  = "u-carrier"
	customerID     = "u-customer"
)

var (
	admin        = Actor{UserID: "u-admin", Admin: true}
	supplier     = Actor{UserID: supplierID}
	manufacturer = Actor{UserID: manufacturerID}
	distributor  = Actor{UserID: distributorID}
	customer     = Actor{UserID: customerID}
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	svc   *Services
	now   time.Time
	chain *entity.SupplyChain
	nodes map[entity.NodeRole]*entity.GraphNode
}

// newFixture 准备一条已定稿的供应链：供应商 → 制造商 → 承运商 → 客户
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		now:   now,
		nodes: make(map[entity.NodeRole]*entity.GraphNode),
	}
	f.svc = NewServices(db, repository.NewRepositories(db), Options{
		Now: func() time.Time { return f.now },
	})

	f.chain = f.draftChain()
	f.chain = f.finalize(f.chain.ID)
	return f
}

func (f *fixture) draftChain() *entity.SupplyChain {
	f.t.Helper()
	chain, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "铝壳供应链"}, admin)
	require.NoError(f.t, err)

	roles := []struct {
		role entity.NodeRole
		user string
	}{
		{entity.RoleSupplier, supplierID},
		{entity.RoleManufacturer, manufacturerID},
		{entity.RoleDistributor, distributorID},
		{entity.RoleCustomer, customerID},
	}
	var prev *entity.GraphNode
	for _, r := range roles {
		user := r.user
		node, err := f.svc.Chain.AddNode(f.ctx, chain.ID, AddNodeReq{Role: string(r.role), Label: string(r.role), AssignedUserID: &user}, admin)
		require.NoError(f.t, err)
		f.nodes[r.role] = node
		if prev != nil {
			_, err = f.svc.Chain.AddEdge(f.ctx, chain.ID, AddEdgeReq{SourceNodeID: prev.ID, TargetNodeID: node.ID}, admin)
			require.NoError(f.t, err)
		}
		prev = node
	}
	return chain
}

func (f *fixture) finalize(chainID string) *entity.SupplyChain {
	f.t.Helper()
	chain, err := f.svc.Chain.Finalize(f.ctx, chainID, admin)
	require.NoError(f.t, err)
	return chain
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

// mintMaterial 给制造商铸造一批原料
func (f *fixture) mintMaterial(materialID, qty string) *entity.LedgerItem {
	f.t.Helper()
	item, err := f.svc.Ledger.Mint(f.ctx, MintReq{
		ItemType:      string(entity.ItemTypeRawMaterial),
		MaterialID:    materialID,
		Quantity:      dec(qty),
		SupplyChainID: f.chain.ID,
	}, manufacturer)
	require.NoError(f.t, err)
	return item
}

// allocatedRequest 制造商申请、供应商全额批准并分配
func (f *fixture) allocatedRequest(materialID, qty string) *entity.MaterialRequest {
	f.t.Helper()
	mr, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: materialID, MaterialName: materialID, Unit: "kg", Quantity: dec(qty)}},
	}, manufacturer)
	require.NoError(f.t, err)

	_, err = f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{{ItemID: mr.Items[0].ID, ApprovedQuantity: dec(qty)}}}, supplier)
	require.NoError(f.t, err)
	mr, err = f.svc.Request.Allocate(f.ctx, mr.ID, supplier)
	require.NoError(f.t, err)
	return mr
}

// product 制造商登记产品：每件消耗 perUnit 的 materialID
func (f *fixture) product(materialID, perUnit string) *entity.Product {
	f.t.Helper()
	p, err := f.svc.Production.CreateProduct(f.ctx, CreateProductReq{
		Name: "铝壳",
		Unit: "pcs",
		BOM:  []BOMLineReq{{MaterialID: materialID, QuantityPerUnit: dec(perUnit), Unit: "kg"}},
	}, manufacturer)
	require.NoError(f.t, err)
	return p
}

// stock 生产并完工 qty 件成品
func (f *fixture) stock(p *entity.Product, materialID, qty string) *entity.ProductionBatch {
	f.t.Helper()
	lot := f.mintMaterial(materialID, qty)
	batch, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec(qty),
		Materials:     []BatchMaterialReq{{MaterialID: materialID, BlockchainItemID: lot.ID}},
	}, manufacturer)
	require.NoError(f.t, err)
	batch, err = f.svc.Production.Complete(f.ctx, batch.ID, CompleteBatchReq{QualityNotes: "外观尺寸合格"}, manufacturer)
	require.NoError(f.t, err)
	return batch
}

func (f *fixture) order(p *entity.Product, qty string) *entity.Order {
	f.t.Helper()
	o, err := f.svc.Order.CreateOrder(f.ctx, CreateOrderReq{
		SupplyChainID:         f.chain.ID,
		ShippingAddress:       "深圳市南山区",
		RequestedDeliveryDate: "2026-03-10",
		Items:                 []OrderItemReq{{ProductID: p.ID, Quantity: dec(qty), Price: dec("12.5")}},
	}, customer)
	require.NoError(f.t, err)
	return o
}
