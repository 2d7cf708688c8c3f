package execution

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"yqhp/web-runner/pkg/types"
)

// DefaultCapacity 默认保留的执行记录数
const DefaultCapacity = 50

var (
	// ErrExecutionNotFound 执行记录不存在
	ErrExecutionNotFound = errors.New("执行记录不存在")
	// ErrInvalidTestcase 测试用例不合法
	ErrInvalidTestcase = errors.New("测试用例不合法")
)

// Store 内存中的执行记录，容量有限，超出时按写入顺序淘汰最旧的记录。
// 记录在提交时写入，写入顺序即开始顺序。
type Store struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *Record]
	capacity int
	onEvict  func(*Record)
}

// NewStore 创建存储，capacity <= 0 时使用 DefaultCapacity
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{capacity: capacity}
	s.cache, _ = lru.NewWithEvict[string, *Record](capacity, s.evicted)
	return s
}

// OnEvict 设置淘汰回调，回调内不得再调用 Store
func (s *Store) OnEvict(fn func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// evicted 在持有 s.mu 时由 cache 回调
func (s *Store) evicted(_ string, r *Record) {
	if s.onEvict != nil {
		s.onEvict(r)
	}
}

// Capacity 容量
func (s *Store) Capacity() int {
	return s.capacity
}

// Put 保存记录，已满时淘汰最早写入的记录
func (s *Store) Put(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(r.ID(), r)
}

// Get 按 ID 查找，不影响淘汰顺序
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cache.Peek(id)
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return r, nil
}

// List 按写入顺序从新到旧返回
func (s *Store) List() []*Record {
	s.mu.Lock()
	records := s.cache.Values()
	s.mu.Unlock()

	// Values 为从旧到新
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

// Prune 淘汰最旧的记录直到数量不超过 limit，返回淘汰数量
func (s *Store) Prune(limit int) int {
	if limit < 0 {
		limit = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for s.cache.Len() > limit {
		if _, _, ok := s.cache.RemoveOldest(); !ok {
			break
		}
		n++
	}
	return n
}

// Len 记录数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Counts 返回运行中与总记录数
func (s *Store) Counts() (running, total int) {
	s.mu.Lock()
	records := s.cache.Values()
	s.mu.Unlock()
	for _, r := range records {
		if r.Status() == types.ExecutionStatusRunning {
			running++
		}
	}
	return running, len(records)
}

// AppendLog 把日志追加到对应记录，实现 notify.LogAppender
func (s *Store) AppendLog(executionID string, entry types.LogEntry) {
	r, err := s.Get(executionID)
	if err != nil {
		return
	}
	r.AppendLog(entry)
}
