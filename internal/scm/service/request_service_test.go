package service

import (
	"testing"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestAllocateScenario(t *testing.T) {
	f := newFixture(t)
	mr := f.allocatedRequest("AL-6061", "500")

	assert.Equal(t, entity.RequestStatusAllocated, mr.Status)
	require.Len(t, mr.Items, 1)
	require.NotNil(t, mr.Items[0].BlockchainItemID)
	assert.NotEmpty(t, mr.BlockchainTxHash)

	lot, err := f.svc.Ledger.GetItem(f.ctx, *mr.Items[0].BlockchainItemID)
	require.NoError(t, err)
	assert.True(t, lot.Quantity.Equal(dec("500")))
	assert.Equal(t, entity.ItemStatusAllocated, lot.Status)
	assert.Equal(t, supplierID, lot.OwnerID)
	assert.Equal(t, entity.ItemTypeAllocatedMaterial, lot.ItemType)
	assert.Equal(t, mr.ID, lot.ReferenceID)
}

func TestRequestAllocateIdempotent(t *testing.T) {
	f := newFixture(t)
	mr := f.allocatedRequest("AL-6061", "500")

	again, err := f.svc.Request.Allocate(f.ctx, mr.ID, supplier)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusAllocated, again.Status)

	items, err := f.svc.Ledger.repos.Ledger.ListItems(f.ctx, repository.ItemFilter{
		ReferenceType: entity.RefTypeRequest,
		ReferenceID:   mr.ID,
	})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRequestCreateTopology(t *testing.T) {
	f := newFixture(t)

	// 制造商不能作为供应商
	_, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    manufacturerID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("1")}},
	}, manufacturer)
	requireKind(t, err, apperr.InvalidTopology)

	// 客户不是制造商
	_, err = f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("1")}},
	}, customer)
	requireKind(t, err, apperr.InvalidTopology)

	// 草稿链不能承载业务
	draft, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "草稿"}, admin)
	require.NoError(t, err)
	_, err = f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: draft.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("1")}},
	}, manufacturer)
	requireKind(t, err, apperr.InvalidTopology)

	_, err = f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("0")}},
	}, manufacturer)
	requireKind(t, err, apperr.InvalidInput)
}

func TestRequestApproveValidation(t *testing.T) {
	f := newFixture(t)
	mr, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items: []RequestItemReq{
			{MaterialID: "AL-6061", Quantity: dec("500")},
			{MaterialID: "CU-T2", Quantity: dec("20")},
		},
	}, manufacturer)
	require.NoError(t, err)
	a, b := mr.Items[0].ID, mr.Items[1].ID

	tests := []struct {
		name      string
		approvals []ApprovalReq
	}{
		{"missing item", []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("500")}}},
		{"over requested", []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("501")}, {ItemID: b, ApprovedQuantity: dec("20")}}},
		{"duplicate", []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("1")}, {ItemID: a, ApprovedQuantity: dec("1")}}},
		{"unknown item", []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("1")}, {ItemID: "x", ApprovedQuantity: dec("1")}}},
		{"negative", []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("-1")}, {ItemID: b, ApprovedQuantity: dec("1")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: tt.approvals}, supplier)
			requireKind(t, err, apperr.InvalidApproval)
		})
	}

	_, err = f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("1")}, {ItemID: b, ApprovedQuantity: dec("1")}}}, manufacturer)
	requireKind(t, err, apperr.Forbidden)

	// 部分批准：被驳回的明细不参与状态推导
	approved, err := f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{
		{ItemID: a, ApprovedQuantity: dec("300")},
		{ItemID: b, ApprovedQuantity: dec("0")},
	}}, supplier)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusApproved, approved.Status)

	_, err = f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{{ItemID: a, ApprovedQuantity: dec("1")}, {ItemID: b, ApprovedQuantity: dec("1")}}}, supplier)
	requireKind(t, err, apperr.InvalidTransition)

	allocated, err := f.svc.Request.Allocate(f.ctx, mr.ID, supplier)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusAllocated, allocated.Status)
	assert.Nil(t, allocated.Items[1].BlockchainItemID)
}

func TestRequestRejectAll(t *testing.T) {
	f := newFixture(t)
	mr, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("500")}},
	}, manufacturer)
	require.NoError(t, err)

	out, err := f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{{ItemID: mr.Items[0].ID, ApprovedQuantity: dec("0")}}}, supplier)
	require.NoError(t, err)
	assert.Equal(t, entity.RequestStatusRejected, out.Status)

	_, err = f.svc.Request.Allocate(f.ctx, mr.ID, supplier)
	requireKind(t, err, apperr.InvalidTransition)
}

func TestRequestActivityLog(t *testing.T) {
	f := newFixture(t)
	mr := f.allocatedRequest("AL-6061", "500")

	logs, err := f.svc.Activity.ListByEntity(f.ctx, entity.EntityMaterialRequest, mr.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "create", logs[0].Action)
	assert.Equal(t, string(entity.RequestStatusApproved), logs[1].ToStatus)
	assert.Equal(t, string(entity.RequestStatusAllocated), logs[2].ToStatus)
}
