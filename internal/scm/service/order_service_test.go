package service

import (
	"testing"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	o := f.order(p, "10")

	assert.Equal(t, entity.OrderStatusRequested, o.Status)
	assert.Equal(t, customerID, o.CustomerID)
	assert.True(t, o.TotalAmount.Equal(dec("125")))
	require.NotNil(t, o.RequestedDeliveryDate)

	_, err := f.svc.Order.CreateOrder(f.ctx, CreateOrderReq{
		SupplyChainID: f.chain.ID,
		Items:         []OrderItemReq{{ProductID: p.ID, Quantity: dec("1")}},
	}, supplier)
	requireKind(t, err, apperr.InvalidTopology)

	_, err = f.svc.Order.CreateOrder(f.ctx, CreateOrderReq{
		SupplyChainID: f.chain.ID,
		Items:         []OrderItemReq{{ProductID: "missing", Quantity: dec("1")}},
	}, customer)
	requireKind(t, err, apperr.NotFound)

	_, err = f.svc.Order.CreateOrder(f.ctx, CreateOrderReq{SupplyChainID: f.chain.ID}, customer)
	requireKind(t, err, apperr.InvalidInput)
}

func TestFulfillInsufficientInventory(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "5")
	o := f.order(p, "10")

	_, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	requireKind(t, err, apperr.InsufficientInventory)

	o, err = f.svc.Order.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusRequested, o.Status)

	available, err := f.svc.Production.AvailableProductQuantity(f.ctx, manufacturerID, p.ID, f.chain.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("5")))
}

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "6")
	f.stock(p, "AL-6061", "6")
	o := f.order(p, "10")

	_, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: customerID}, manufacturer)
	requireKind(t, err, apperr.InvalidTopology)

	res, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusReadyForShipment, res.Order.Status)
	require.NotNil(t, res.Transport)
	assert.Equal(t, entity.TransportTypeProduct, res.Transport.Type)
	assert.Equal(t, f.nodes[entity.RoleManufacturer].ID, res.Transport.SourceNodeID)
	assert.Equal(t, f.nodes[entity.RoleCustomer].ID, res.Transport.DestinationNodeID)

	// 先进先出：第一批 6 件全部预留，第二批预留 4 件
	require.Len(t, res.Reserved, 2)
	assert.True(t, res.Reserved[0].Quantity.Equal(dec("6")))
	assert.True(t, res.Reserved[1].Quantity.Equal(dec("4")))
	available, err := f.svc.Production.AvailableProductQuantity(f.ctx, manufacturerID, p.ID, f.chain.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("2")))

	// 重复履约直接返回
	again, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusReadyForShipment, again.Order.Status)

	_, err = f.svc.Transport.RecordPickup(f.ctx, res.Transport.ID, distributor)
	require.NoError(t, err)
	o, err = f.svc.Order.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusInTransit, o.Status)

	// In Transit 不能回到 Ready for Shipment
	_, err = f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	requireKind(t, err, apperr.InvalidTransition)
	_, err = f.svc.Order.Cancel(f.ctx, o.ID, customer)
	requireKind(t, err, apperr.InvalidTransition)
	_, err = f.svc.Order.ConfirmDelivery(f.ctx, o.ID, customer)
	requireKind(t, err, apperr.InvalidTransition)

	_, err = f.svc.Transport.RecordDelivery(f.ctx, res.Transport.ID, distributor)
	require.NoError(t, err)
	o, err = f.svc.Order.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusDelivered, o.Status)

	owned, err := f.svc.Ledger.GetItemsByOwner(f.ctx, customerID, true)
	require.NoError(t, err)
	total := dec("0")
	for _, it := range owned {
		total = total.Add(it.Quantity)
	}
	assert.True(t, total.Equal(dec("10")))

	_, err = f.svc.Order.ConfirmDelivery(f.ctx, o.ID, manufacturer)
	requireKind(t, err, apperr.Forbidden)

	o, err = f.svc.Order.ConfirmDelivery(f.ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCompleted, o.Status)
	_, err = f.svc.Order.ConfirmDelivery(f.ctx, o.ID, customer)
	require.NoError(t, err)

	tr, err := f.svc.Transport.GetTransport(f.ctx, res.Transport.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransportStatusConfirmed, tr.Status)

	logs, err := f.svc.Activity.ListByEntity(f.ctx, entity.EntityOrder, o.ID)
	require.NoError(t, err)
	var statuses []string
	for _, l := range logs {
		statuses = append(statuses, l.ToStatus)
	}
	assert.Equal(t, []string{
		string(entity.OrderStatusRequested),
		string(entity.OrderStatusReadyForShipment),
		string(entity.OrderStatusInTransit),
		string(entity.OrderStatusDelivered),
		string(entity.OrderStatusCompleted),
	}, statuses)
}

func TestFulfillRequiresDeliveryDate(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "5")
	o, err := f.svc.Order.CreateOrder(f.ctx, CreateOrderReq{
		SupplyChainID: f.chain.ID,
		Items:         []OrderItemReq{{ProductID: p.ID, Quantity: dec("5"), Price: dec("1")}},
	}, customer)
	require.NoError(t, err)

	_, err = f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	requireKind(t, err, apperr.InvalidSchedule)

	res, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{
		DistributorID:         distributorID,
		ScheduledPickupDate:   "2026-03-03",
		ScheduledDeliveryDate: "2026-03-04",
	}, manufacturer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusReadyForShipment, res.Order.Status)
}

func TestFulfillByAdminPicksManufacturer(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "3")
	o := f.order(p, "3")

	res, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, admin)
	require.NoError(t, err)
	assert.Equal(t, manufacturerID, res.Order.ManufacturerID)
}

func TestCancelOrderReleasesReservation(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "8")
	o := f.order(p, "5")

	res, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	require.NoError(t, err)

	_, err = f.svc.Order.Cancel(f.ctx, o.ID, supplier)
	requireKind(t, err, apperr.Forbidden)

	o, err = f.svc.Order.Cancel(f.ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, o.Status)
	assert.NotNil(t, o.CancelledAt)

	o, err = f.svc.Order.Cancel(f.ctx, o.ID, customer)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, o.Status)

	tr, err := f.svc.Transport.GetTransport(f.ctx, res.Transport.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransportStatusCancelled, tr.Status)

	available, err := f.svc.Production.AvailableProductQuantity(f.ctx, manufacturerID, p.ID, f.chain.ID)
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("8")))

	reserved, err := f.svc.Ledger.repos.Ledger.ListItems(f.ctx, repository.ItemFilter{Status: entity.ItemStatusReserved, ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, reserved)

	list, total, err := f.svc.Order.ListOrders(f.ctx, repository.OrderFilter{CustomerID: customerID, Status: entity.OrderStatusCancelled}, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
}

func TestLedgerRefusesHeldItems(t *testing.T) {
	f := newFixture(t)
	p := f.product("AL-6061", "1")
	f.stock(p, "AL-6061", "8")
	o := f.order(p, "5")

	res, err := f.svc.Order.FulfillFromStock(f.ctx, o.ID, FulfillReq{DistributorID: distributorID}, manufacturer)
	require.NoError(t, err)

	reserved, err := f.svc.Ledger.repos.Ledger.ListItems(f.ctx, repository.ItemFilter{
		ReferenceType: entity.RefTypeOrder,
		ReferenceID:   o.ID,
		ActiveOnly:    true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, reserved)
	held := reserved[0]
	assert.Equal(t, entity.ItemStatusReserved, held.Status)

	_, err = f.svc.Ledger.Transfer(f.ctx, held.ID, TransferReq{NewOwnerID: supplierID, Quantity: held.Quantity}, manufacturer)
	requireKind(t, err, apperr.InvalidTransition)
	_, err = f.svc.Ledger.Deactivate(f.ctx, held.ID, manufacturer)
	requireKind(t, err, apperr.InvalidTransition)

	// 未预留的库存可以自由转移，新物项不带订单或批次关联
	free, err := f.svc.Ledger.repos.Ledger.ListItems(f.ctx, repository.ItemFilter{
		OwnerID:    manufacturerID,
		ItemType:   entity.ItemTypeProduct,
		Status:     entity.ItemStatusCompleted,
		ActiveOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, free, 1)
	moved, err := f.svc.Ledger.Transfer(f.ctx, free[0].ID, TransferReq{NewOwnerID: supplierID, Quantity: dec("1")}, manufacturer)
	require.NoError(t, err)
	assert.Empty(t, moved.Transferred.ReferenceType)
	assert.Empty(t, moved.Transferred.ReferenceID)

	// 在途物项同样不能绕过运输流程
	_, err = f.svc.Transport.RecordPickup(f.ctx, res.Transport.ID, distributor)
	require.NoError(t, err)
	inTransit, err := f.svc.Ledger.GetItem(f.ctx, held.ID)
	require.NoError(t, err)
	if inTransit.IsActive {
		_, err = f.svc.Ledger.Transfer(f.ctx, inTransit.ID, TransferReq{NewOwnerID: supplierID, Quantity: inTransit.Quantity}, manufacturer)
		requireKind(t, err, apperr.InvalidTransition)
	}

	_, err = f.svc.Transport.RecordDelivery(f.ctx, res.Transport.ID, distributor)
	require.NoError(t, err)
	o, err = f.svc.Order.GetOrder(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusDelivered, o.Status)
}

func TestLedgerRefusesAllocatedLot(t *testing.T) {
	f := newFixture(t)
	mr := f.allocatedRequest("AL-6061", "500")
	lotID := *mr.Items[0].BlockchainItemID

	_, err := f.svc.Ledger.Transfer(f.ctx, lotID, TransferReq{NewOwnerID: distributorID, Quantity: dec("100")}, supplier)
	requireKind(t, err, apperr.InvalidTransition)
	_, err = f.svc.Ledger.Deactivate(f.ctx, lotID, supplier)
	requireKind(t, err, apperr.InvalidTransition)

	lot, err := f.svc.Ledger.GetItem(f.ctx, lotID)
	require.NoError(t, err)
	assert.True(t, lot.IsActive)
	assert.True(t, lot.Quantity.Equal(dec("500")))
}
