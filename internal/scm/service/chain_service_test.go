package service

import (
	"testing"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainFinalize(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, entity.ChainStatusFinalized, f.chain.BlockchainStatus)
	assert.NotNil(t, f.chain.FinalizedAt)
	assert.Len(t, f.chain.Nodes, 4)
	assert.Len(t, f.chain.Edges, 3)

	_, err := f.svc.Chain.Finalize(f.ctx, f.chain.ID, admin)
	requireKind(t, err, apperr.ChainFinalized)

	_, err = f.svc.Chain.AddNode(f.ctx, f.chain.ID, AddNodeReq{Role: string(entity.RoleQA)}, admin)
	requireKind(t, err, apperr.ChainFinalized)
}

func TestChainFinalizeRequiresEdge(t *testing.T) {
	f := newFixture(t)
	chain, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "空链"}, admin)
	require.NoError(t, err)
	_, err = f.svc.Chain.AddNode(f.ctx, chain.ID, AddNodeReq{Role: string(entity.RoleSupplier)}, admin)
	require.NoError(t, err)

	_, err = f.svc.Chain.Finalize(f.ctx, chain.ID, admin)
	requireKind(t, err, apperr.InvalidTopology)
}

func TestChainAddEdgeValidation(t *testing.T) {
	f := newFixture(t)
	chain, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "草稿"}, admin)
	require.NoError(t, err)
	a, err := f.svc.Chain.AddNode(f.ctx, chain.ID, AddNodeReq{Role: string(entity.RoleSupplier)}, admin)
	require.NoError(t, err)
	b, err := f.svc.Chain.AddNode(f.ctx, chain.ID, AddNodeReq{Role: string(entity.RoleManufacturer)}, admin)
	require.NoError(t, err)

	_, err = f.svc.Chain.AddEdge(f.ctx, chain.ID, AddEdgeReq{SourceNodeID: a.ID, TargetNodeID: a.ID}, admin)
	requireKind(t, err, apperr.InvalidTopology)

	// 节点属于另一条链
	_, err = f.svc.Chain.AddEdge(f.ctx, chain.ID, AddEdgeReq{SourceNodeID: a.ID, TargetNodeID: f.nodes[entity.RoleCustomer].ID}, admin)
	requireKind(t, err, apperr.InvalidTopology)

	_, err = f.svc.Chain.AddEdge(f.ctx, chain.ID, AddEdgeReq{SourceNodeID: a.ID, TargetNodeID: b.ID}, admin)
	require.NoError(t, err)
	_, err = f.svc.Chain.AddEdge(f.ctx, chain.ID, AddEdgeReq{SourceNodeID: a.ID, TargetNodeID: b.ID}, admin)
	requireKind(t, err, apperr.InvalidTopology)

	_, err = f.svc.Chain.AddNode(f.ctx, chain.ID, AddNodeReq{Role: "Broker"}, admin)
	requireKind(t, err, apperr.InvalidInput)
}

func TestChainConfirm(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Chain.Confirm(f.ctx, f.chain.ID, manufacturer)
	requireKind(t, err, apperr.Forbidden)

	chain, err := f.svc.Chain.Confirm(f.ctx, f.chain.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, entity.ChainStatusConfirmed, chain.BlockchainStatus)

	chain, err = f.svc.Chain.Confirm(f.ctx, f.chain.ID, admin)
	require.NoError(t, err)
	assert.Equal(t, entity.ChainStatusConfirmed, chain.BlockchainStatus)

	draft, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "草稿"}, admin)
	require.NoError(t, err)
	_, err = f.svc.Chain.Confirm(f.ctx, draft.ID, admin)
	requireKind(t, err, apperr.InvalidTransition)
}

func TestChainDeleteNode(t *testing.T) {
	f := newFixture(t)

	// 已定稿且无依赖：依赖检查通过后被定稿状态拦截
	err := f.svc.Chain.DeleteNode(f.ctx, f.chain.ID, f.nodes[entity.RoleDistributor].ID, admin)
	requireKind(t, err, apperr.ChainFinalized)

	// 草稿链上的节点可以删除，连带的边一并删除
	draft, err := f.svc.Chain.CreateChain(f.ctx, CreateChainReq{Name: "草稿"}, admin)
	require.NoError(t, err)
	a, err := f.svc.Chain.AddNode(f.ctx, draft.ID, AddNodeReq{Role: string(entity.RoleWarehouse)}, admin)
	require.NoError(t, err)
	b, err := f.svc.Chain.AddNode(f.ctx, draft.ID, AddNodeReq{Role: string(entity.RoleQA)}, admin)
	require.NoError(t, err)
	_, err = f.svc.Chain.AddEdge(f.ctx, draft.ID, AddEdgeReq{SourceNodeID: a.ID, TargetNodeID: b.ID}, admin)
	require.NoError(t, err)

	require.NoError(t, f.svc.Chain.DeleteNode(f.ctx, draft.ID, a.ID, admin))
	got, err := f.svc.Chain.GetChain(f.ctx, draft.ID)
	require.NoError(t, err)
	assert.Len(t, got.Nodes, 1)
	assert.Empty(t, got.Edges)

	err = f.svc.Chain.DeleteNode(f.ctx, draft.ID, a.ID, admin)
	requireKind(t, err, apperr.NotFound)
}

func TestChainDeleteNodeWithDependencies(t *testing.T) {
	f := newFixture(t)
	mr, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    supplierID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "AL-6061", Quantity: dec("500")}},
	}, manufacturer)
	require.NoError(t, err)

	err = f.svc.Chain.DeleteNode(f.ctx, f.chain.ID, f.nodes[entity.RoleSupplier].ID, admin)
	requireKind(t, err, apperr.NodeHasDependencies)

	// 终态单据仍然保留依赖
	_, err = f.svc.Request.Approve(f.ctx, mr.ID, ApproveReq{Approvals: []ApprovalReq{{ItemID: mr.Items[0].ID, ApprovedQuantity: dec("0")}}}, supplier)
	require.NoError(t, err)
	err = f.svc.Chain.DeleteNode(f.ctx, f.chain.ID, f.nodes[entity.RoleSupplier].ID, admin)
	requireKind(t, err, apperr.NodeHasDependencies)
}

func TestChainAssignedUsersAndFlow(t *testing.T) {
	f := newFixture(t)

	users, err := f.svc.Chain.GetAssignedUsers(f.ctx, f.chain.ID, string(entity.RoleManufacturer))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, manufacturerID, users[0].UserID)

	all, err := f.svc.Chain.GetAssignedUsers(f.ctx, f.chain.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	ok, err := f.svc.Chain.HasFlow(f.ctx, f.chain.ID, supplierID, "Supplier", manufacturerID, "Manufacturer")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Chain.HasFlow(f.ctx, f.chain.ID, manufacturerID, "Manufacturer", supplierID, "Supplier")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasFlowThroughIntermediaries(t *testing.T) {
	chain := &entity.SupplyChain{
		Nodes: []entity.GraphNode{
			{ID: "s", Role: entity.RoleSupplier, AssignedUserID: strPtr("sup")},
			{ID: "w", Role: entity.RoleWarehouse},
			{ID: "q", Role: entity.RoleQA},
			{ID: "m", Role: entity.RoleManufacturer, AssignedUserID: strPtr("mk")},
			{ID: "m2", Role: entity.RoleManufacturer, AssignedUserID: strPtr("mk2")},
			{ID: "d", Role: entity.RoleDistributor, AssignedUserID: strPtr("dist")},
		},
		Edges: []entity.GraphEdge{
			{SourceNodeID: "s", TargetNodeID: "w"},
			{SourceNodeID: "w", TargetNodeID: "q"},
			{SourceNodeID: "q", TargetNodeID: "m"},
			{SourceNodeID: "s", TargetNodeID: "d"},
			{SourceNodeID: "d", TargetNodeID: "m2"},
		},
	}
	assert.True(t, hasFlow(chain, "sup", entity.RoleSupplier, "mk", entity.RoleManufacturer))
	// 承运商不是中转节点
	assert.False(t, hasFlow(chain, "sup", entity.RoleSupplier, "mk2", entity.RoleManufacturer))
	assert.False(t, hasFlow(chain, "nobody", entity.RoleSupplier, "mk", entity.RoleManufacturer))
}

func strPtr(s string) *string { return &s }
