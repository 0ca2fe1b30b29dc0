// Package events 发布供应链领域事件（事务提交后发出）
package events

import (
	"context"
	"time"
)

// 事件主题
const (
	TopicChainCreated   = "scm.chain.created"
	TopicChainFinalized = "scm.chain.finalized"
	TopicChainConfirmed = "scm.chain.confirmed"
	TopicNodeAdded      = "scm.node.added"
	TopicNodeDeleted    = "scm.node.deleted"

	TopicRequestCreated   = "scm.request.created"
	TopicRequestApproved  = "scm.request.approved"
	TopicRequestRejected  = "scm.request.rejected"
	TopicRequestAllocated = "scm.request.allocated"
	TopicRequestUpdated   = "scm.request.updated"

	TopicBatchCreated   = "scm.batch.created"
	TopicBatchQC        = "scm.batch.qc"
	TopicBatchCompleted = "scm.batch.completed"
	TopicBatchRejected  = "scm.batch.rejected"

	TopicOrderCreated   = "scm.order.created"
	TopicOrderUpdated   = "scm.order.updated"
	TopicOrderCancelled = "scm.order.cancelled"

	TopicTransportScheduled = "scm.transport.scheduled"
	TopicTransportPickedUp  = "scm.transport.picked_up"
	TopicTransportDelivered = "scm.transport.delivered"
	TopicTransportCancelled = "scm.transport.cancelled"

	TopicLedgerTransferred = "scm.ledger.transferred"
)

// Event 状态流转事件
type Event struct {
	Topic      string    `json:"topic"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	EntityCode string    `json:"entity_code,omitempty"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Fanout 同时向多个发布者发送，返回第一个错误
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic string, event any) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, topic, event); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var first error
	for _, p := range f {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
