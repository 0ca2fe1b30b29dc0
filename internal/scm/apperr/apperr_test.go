package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(InsufficientQuantity, "可用数量 %s 不足", "10")
	assert.Equal(t, InsufficientQuantity, KindOf(err))
	assert.Equal(t, "InsufficientQuantity: 可用数量 10 不足", err.Error())

	wrapped := fmt.Errorf("创建批次失败: %w", err)
	assert.True(t, Is(wrapped, InsufficientQuantity))
	assert.Equal(t, "可用数量 10 不足", MessageOf(wrapped))

	assert.Equal(t, Internal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.False(t, Is(nil, NotFound))
}

func TestRetryable(t *testing.T) {
	assert.True(t, ConcurrentModification.Retryable())
	for _, k := range []Kind{NotFound, InvalidTransition, InsufficientQuantity, ChainFinalized, InvalidInput} {
		assert.False(t, k.Retryable(), k)
	}
}
