// Package idgen 生成带前缀的业务编码（MR-20261018-XXXXXX 形式）
package idgen

import (
	"fmt"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// 业务编码前缀
const (
	PrefixSupplyChain = "SC"
	PrefixRequest     = "MR"
	PrefixProduct     = "PD"
	PrefixBatch       = "PB"
	PrefixOrder       = "SO"
	PrefixTransport   = "TR"
)

// Alphabet 随机部分字符集（去掉易混淆的 0/O/1/I）
var Alphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length 随机部分长度
var Length = 6

// Generate 生成 前缀-日期-随机串
func Generate(prefix string, now time.Time) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), id), nil
}

// MustGenerate 同 Generate，失败时 panic（字符集固定，实际不会失败）
func MustGenerate(prefix string, now time.Time) string {
	code, err := Generate(prefix, now)
	if err != nil {
		panic(err)
	}
	return code
}
