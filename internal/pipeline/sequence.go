package pipeline

import (
	"fmt"
	"sync"
)

// Sequence 为一次批量运行分配工件名（case_001、case_002 …）。
// 由批处理驱动持有并显式传递，不使用全局计数器。
type Sequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequence 从 start 开始编号；start<1 时从 1 开始。
func NewSequence(prefix string, start int) *Sequence {
	return &Sequence{prefix: prefix, next: max(start, 1)}
}

// Next 返回下一个名称及其序号。序号至少补零到 3 位。
func (s *Sequence) Next() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.next
	s.next++
	return fmt.Sprintf("%s_%03d", s.prefix, n), n
}
