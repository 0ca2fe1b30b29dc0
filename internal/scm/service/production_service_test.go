package service

import (
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBatchConsumesLot(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "2")
	lot := f.mintMaterial("AL-6061", "500")

	batch, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("100"),
		Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID}},
	}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusInProduction, batch.Status)
	require.Len(t, batch.Materials, 1)
	assert.True(t, batch.Materials[0].Quantity.Equal(dec("200")))

	stored, err := f.svc.Ledger.GetItem(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(dec("300")))

	consumed, err := f.svc.Ledger.GetItem(f.ctx, batch.Materials[0].ConsumedItemID)
	require.NoError(t, err)
	assert.Equal(t, entity.ItemStatusProcessing, consumed.Status)
	assert.Equal(t, batch.ID, consumed.ReferenceID)
}

func TestCreateBatchInsufficientMaterial(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	lot := f.mintMaterial("AL-6061", "100")

	_, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("200"),
		Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID, Quantity: dec("150")}},
	}, manufacturer)
	requireKind(t, err, apperr.InsufficientQuantity)

	_, err = f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("50"),
		Materials:     []BatchMaterialReq{{MaterialID: "CU-T2", BlockchainItemID: lot.ID}},
	}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)

	stored, err := f.svc.Ledger.GetItem(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(dec("100")))
}

func TestCreateBatchConcurrentOnSameLot(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	lot := f.mintMaterial("AL-6061", "500")

	quantities := []string{"200", "400"}
	errs := make([]error, len(quantities))
	var wg sync.WaitGroup
	for i, q := range quantities {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			_, errs[i] = f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
				ProductID:     p.ID,
				SupplyChainID: f.chain.ID,
				Quantity:      dec(q),
				Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID, Quantity: dec(q)}},
			}, manufacturer)
		}(i, q)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperr.InsufficientQuantity, apperr.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	stored, err := f.svc.Ledger.GetItem(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.False(t, stored.Quantity.IsNegative())
	assert.True(t, stored.Quantity.Equal(dec("300")) || stored.Quantity.Equal(dec("100")))
}

func TestBatchWithDeliveredMaterial(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	mr := f.allocatedRequest("AL-6061", "500")

	tr := f.scheduleMaterial(mr)
	_, err := f.svc.Transport.RecordPickup(f.ctx, tr.ID, distributor)
	require.NoError(t, err)
	_, err = f.svc.Transport.RecordDelivery(f.ctx, tr.ID, distributor)
	require.NoError(t, err)

	mr, err = f.svc.Request.GetRequest(f.ctx, mr.ID)
	require.NoError(t, err)
	require.NotNil(t, mr.Items[0].ReceivedItemID)

	batch, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("200"),
		Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: *mr.Items[0].ReceivedItemID}},
	}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusInProduction, batch.Status)
}

func TestBatchLifecycle(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	lot := f.mintMaterial("AL-6061", "100")

	batch, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("100"),
		Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID}},
	}, manufacturer)
	require.NoError(t, err)

	_, err = f.svc.Production.StartQC(f.ctx, batch.ID, supplier)
	requireKind(t, err, apperr.Forbidden)

	batch, err = f.svc.Production.StartQC(f.ctx, batch.ID, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusInQC, batch.Status)

	_, err = f.svc.Production.Complete(f.ctx, batch.ID, CompleteBatchReq{}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)

	batch, err = f.svc.Production.Complete(f.ctx, batch.ID, CompleteBatchReq{QualityNotes: "抽检 20 件合格"}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusCompleted, batch.Status)
	require.NotNil(t, batch.ProductItemID)

	// 重复完工不再铸造成品
	_, err = f.svc.Production.Complete(f.ctx, batch.ID, CompleteBatchReq{QualityNotes: "重复"}, manufacturer)
	require.NoError(t, err)
	available, err := f.svc.Production.AvailableProductQuantity(f.ctx, manufacturerID, p.ID, f.chain.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("100")))

	_, err = f.svc.Production.Reject(f.ctx, batch.ID, RejectBatchReq{Reason: "返工"}, manufacturer)
	requireKind(t, err, apperr.InvalidTransition)

	consumed, err := f.svc.Ledger.GetItem(f.ctx, batch.Materials[0].ConsumedItemID)
	require.NoError(t, err)
	assert.False(t, consumed.IsActive)

	trace, err := f.svc.Ledger.TraceItemHistory(f.ctx, *batch.ProductItemID)
	require.NoError(t, err)
	assert.True(t, trace.Verified)
	assert.Equal(t, lot.ID, trace.Chain[0].Item.ID)
}

func TestBatchReject(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	lot := f.mintMaterial("AL-6061", "100")

	batch, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:     p.ID,
		SupplyChainID: f.chain.ID,
		Quantity:      dec("40"),
		Materials:     []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID}},
	}, manufacturer)
	require.NoError(t, err)

	_, err = f.svc.Production.Reject(f.ctx, batch.ID, RejectBatchReq{}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)

	batch, err = f.svc.Production.Reject(f.ctx, batch.ID, RejectBatchReq{Reason: "氧化层不合格"}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.BatchStatusRejected, batch.Status)

	again, err := f.svc.Production.Reject(f.ctx, batch.ID, RejectBatchReq{Reason: "重复"}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, "氧化层不合格", again.RejectReason)

	consumed, err := f.svc.Ledger.GetItem(f.ctx, batch.Materials[0].ConsumedItemID)
	require.NoError(t, err)
	assert.False(t, consumed.IsActive)
	assert.Equal(t, entity.ItemStatusRejected, consumed.Status)

	// 报废不退料
	stored, err := f.svc.Ledger.GetItem(f.ctx, lot.ID)
	require.NoError(t, err)
	assert.True(t, stored.Quantity.Equal(dec("60")))

	_, err = f.svc.Production.Complete(f.ctx, batch.ID, CompleteBatchReq{QualityNotes: "x"}, manufacturer)
	requireKind(t, err, apperr.InvalidTransition)
}

func TestCreateBatchLinksOrder(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	o := f.order(p, "10")
	lot := f.mintMaterial("AL-6061", "10")

	_, err := f.svc.Production.CreateBatch(f.ctx, CreateBatchReq{
		ProductID:      p.ID,
		SupplyChainID:  f.chain.ID,
		Quantity:       dec("10"),
		RelatedOrderID: &o.ID,
		Materials:      []BatchMaterialReq{{MaterialID: "AL-6061", BlockchainItemID: lot.ID}},
	}, manufacturer)
	require.NoError(t, err)

	o, err = f.svc.Order.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusInProduction, o.Status)
	assert.Equal(t, manufacturerID, o.ManufacturerID)
}

func TestCreateProductValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Production.CreateProduct(f.ctx, CreateProductReq{Name: "铝壳"}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)

	_, err = f.svc.Production.CreateProduct(f.ctx, CreateProductReq{
		Name: "铝壳",
		BOM: []BOMLineReq{
			{MaterialID: "AL-6061", QuantityPerUnit: dec("1")},
			{MaterialID: "AL-6061", QuantityPerUnit: dec("2")},
		},
	}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)

	p := f.product("AL-6061", "1.5")
	got, err := f.svc.Production.GetProduct(f.ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, got.BOM, 1)
	assert.True(t, got.BOM[0].QuantityPerUnit.Equal(dec("1.5")))

	list, err := f.svc.Production.ListProducts(f.ctx, manufacturerID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
