package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(ctx context.Context, topic string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := event.(events.Event); ok {
		r.events = append(r.events, ev)
	}
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}

func TestEventsAndMetricsAfterCommit(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec := &recorder{}
	f.svc = NewServices(f.db, repository.NewRepositories(f.db), Options{
		Now:       func() time.Time { return f.now },
		Publisher: rec,
		Metrics:   metrics,
	})

	mr := f.allocatedRequest("MAT-AL", "50")
	require.Equal(t, entity.RequestStatusAllocated, mr.Status)

	assert.Equal(t, []string{
		events.TopicRequestCreated,
		events.TopicRequestApproved,
		events.TopicRequestAllocated,
	}, rec.topics())
	last := rec.events[len(rec.events)-1]
	assert.Equal(t, mr.ID, last.EntityID)
	assert.Equal(t, string(entity.RequestStatusAllocated), last.ToStatus)
	assert.Equal(t, supplierID, last.ActorID)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues(entity.EntityMaterialRequest, string(entity.RequestStatusAllocated))))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ledgerTxs.WithLabelValues(string(entity.TxOpMint))))
}

func TestFailedOperationPublishesNothing(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	f.svc = NewServices(f.db, repository.NewRepositories(f.db), Options{
		Now:       func() time.Time { return f.now },
		Publisher: rec,
	})

	_, err := f.svc.Request.CreateRequest(f.ctx, CreateRequestReq{
		SupplierID:    customerID,
		SupplyChainID: f.chain.ID,
		Items:         []RequestItemReq{{MaterialID: "MAT-AL", Quantity: dec("1")}},
	}, manufacturer)
	require.Error(t, err)
	assert.Empty(t, rec.topics())
}

func TestTopologyCacheDisabledWithoutRedis(t *testing.T) {
	c := newTopologyCache(nil, 0, zap.NewNop())
	assert.Equal(t, 24*time.Hour, c.ttl)
	c.set(context.Background(), &entity.SupplyChain{ID: "x", BlockchainStatus: entity.ChainStatusFinalized})
	assert.Nil(t, c.get(context.Background(), "x"))
	c.invalidate(context.Background(), "x")
}
