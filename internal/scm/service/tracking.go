package service

import "sync/atomic"

// Tracking 台账上链能力开关。启动时由配置设定，关闭后物项照常流转但不再追加哈希链交易。
type Tracking struct {
	enabled atomic.Bool
}

func NewTracking(enabled bool) *Tracking {
	t := &Tracking{}
	t.enabled.Store(enabled)
	return t
}

// Enabled 当前是否记录交易
func (t *Tracking) Enabled() bool {
	return t.enabled.Load()
}

// SetEnabled 管理员切换
func (t *Tracking) SetEnabled(enabled bool) {
	t.enabled.Store(enabled)
}
