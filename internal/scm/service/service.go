// Package service 供应链核心业务：台账、供应链图、物料申请、生产、订单履约与运输协调
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/apperr"
	"github.com/bitfantasy/nimo-scm/internal/scm/events"
	"github.com/bitfantasy/nimo-scm/internal/scm/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Ledger     *LedgerService
	Chain      *ChainService
	Request    *RequestService
	Production *ProductionService
	Order      *OrderService
	Transport  *TransportService
	Activity   *ActivityService
	Tracking   *Tracking
}

// Options 服务依赖，除 DB 外均可为空
type Options struct {
	Logger    *zap.Logger
	Publisher events.Publisher
	Tracking  *Tracking
	Redis     *redis.Client
	CacheTTL  time.Duration
	Metrics   *Metrics
	Now       func() time.Time
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, repos *repository.Repositories, opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = &events.NoopPublisher{}
	}
	if opts.Tracking == nil {
		opts.Tracking = NewTracking(true)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := base{
		db:        db,
		repos:     repos,
		logger:    opts.Logger,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}

	ledger := &LedgerService{base: b.named("ledger"), tracking: opts.Tracking}
	chain := &ChainService{base: b.named("chain"), cache: newTopologyCache(opts.Redis, opts.CacheTTL, opts.Logger)}
	transport := &TransportService{base: b.named("transport"), ledger: ledger, chain: chain}
	return &Services{
		Ledger:     ledger,
		Chain:      chain,
		Request:    &RequestService{base: b.named("request"), ledger: ledger, chain: chain},
		Production: &ProductionService{base: b.named("production"), ledger: ledger, chain: chain},
		Order:      &OrderService{base: b.named("order"), ledger: ledger, chain: chain, transport: transport},
		Transport:  transport,
		Activity:   &ActivityService{repo: repos.ActivityLog},
		Tracking:   opts.Tracking,
	}
}

// Actor 当前操作人
type Actor struct {
	UserID string
	Admin  bool
}

// Is 操作人是否为指定参与方（管理员可代任意参与方操作）
func (a Actor) Is(userID string) bool {
	return a.Admin || (a.UserID != "" && a.UserID == userID)
}

// resolve 管理员可显式指定参与方，其余情况取操作人自己
func (a Actor) resolve(override string) string {
	if a.Admin && override != "" {
		return override
	}
	return a.UserID
}

type base struct {
	db        *gorm.DB
	repos     *repository.Repositories
	logger    *zap.Logger
	publisher events.Publisher
	metrics   *Metrics
	now       func() time.Time
}

func (b base) named(name string) base {
	b.logger = b.logger.Named(name)
	return b
}

// transaction 在事务内执行，fn 只能使用传入的事务仓库
func (b *base) transaction(ctx context.Context, fn func(r *repository.Repositories) error) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(b.repos.WithTx(tx))
	})
}

// outbox 事务内收集事件，提交后统一发布
type outbox struct {
	events []events.Event
}

func (o *outbox) add(topic, entityType, id, code, from, to, actorID string, at time.Time) {
	o.events = append(o.events, events.Event{
		Topic:      topic,
		EntityType: entityType,
		EntityID:   id,
		EntityCode: code,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		At:         at,
	})
}

// flush 发布事件；发布失败不影响已提交的业务
func (b *base) flush(ctx context.Context, ob *outbox) {
	for _, ev := range ob.events {
		b.metrics.observeTransition(ev.EntityType, ev.ToStatus)
		if err := b.publisher.Publish(ctx, ev.Topic, ev); err != nil {
			b.logger.Warn("publish event failed", zap.String("topic", ev.Topic), zap.String("entity_id", ev.EntityID), zap.Error(err))
		}
	}
}

// notFound 将仓库层的 ErrNotFound 转换为业务错误
func notFound(err error, kind apperr.Kind, what, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.New(kind, "%s %s 不存在", what, id)
	}
	return fmt.Errorf("查询%s失败: %w", what, err)
}

// conflict 将版本冲突转换为可重试错误
func conflict(err error, what string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return apperr.New(apperr.ConcurrentModification, "%s已被并发修改，请重试", what)
	}
	return fmt.Errorf("更新%s失败: %w", what, err)
}

// parseDate 支持 2006-01-02 与 RFC3339
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// startOfDay 当天零点（按 t 所在时区）
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
