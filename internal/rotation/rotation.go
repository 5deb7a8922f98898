package rotation

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrEmptyCandidates 候选域名列表为空
	ErrEmptyCandidates = errors.New("empty candidate set")
)

// DefaultMaxTrial 单次试探序列的默认长度上限。
const DefaultMaxTrial = 15

// Cursor 是进程级的轮换游标。
//
// 所有形态的候选列表（显式指定与轮换池）共享同一个游标，
// 让负载在服务生命周期内摊到全部域名上，而不是每次请求都
// 从同一个起点开始。游标只起公平分配作用，不是正确性令牌：
// 并发请求偶尔选中同一起点只会略微提高撞号概率，由开通层的
// 重试策略兜底。
type Cursor struct {
	n atomic.Uint64
}

// NewCursor 创建游标，起点为 0。
func NewCursor() *Cursor {
	return &Cursor{}
}

// Pos 返回当前游标值。
func (c *Cursor) Pos() uint64 {
	return c.n.Load()
}

// Advance 将游标推进一位。
func (c *Cursor) Advance() {
	c.n.Add(1)
}

// Next 从候选列表中选出当前游标指向的域名并推进游标。
//
// 取值总是对当前列表长度取模，列表在两次调用之间收缩也不会越界。
func (c *Cursor) Next(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrEmptyCandidates
	}

	idx := int(c.n.Load() % uint64(len(candidates)))
	selected := candidates[idx]
	c.n.Add(1)
	return selected, nil
}

// Sequence 以当前游标为起点构建环形试探序列。
//
// 序列长度为 min(len(candidates), max)，max 非正时取 DefaultMaxTrial。
// 本方法不推进游标；成功或整轮耗尽后由调用方显式 Advance 一次，
// 保证下一个请求换一个起点。
func (c *Cursor) Sequence(candidates []string, max int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyCandidates
	}
	if max <= 0 {
		max = DefaultMaxTrial
	}

	length := len(candidates)
	if length > max {
		length = max
	}

	start := int(c.n.Load() % uint64(len(candidates)))
	sequence := make([]string, 0, length)
	for i := 0; i < length; i++ {
		sequence = append(sequence, candidates[(start+i)%len(candidates)])
	}
	return sequence, nil
}
