package warmup

import (
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	lru "github.com/hashicorp/golang-lru"
)

// PreEntry 预热阶段条目，Count 只通过原子操作修改
type PreEntry struct {
	FirstSeen uint64
	Count     atomic.Uint32
}

func newPreEntry(now uint64) *PreEntry {
	e := &PreEntry{FirstSeen: now}
	e.Count.Store(1)
	return e
}

// HotStore 快车道存储：地址 -> 晋升时间戳
type HotStore interface {
	Get(addr uint32) (uint64, bool)
	// Contains 只查存在性，不影响淘汰顺序
	Contains(addr uint32) bool
	Set(addr uint32, ts uint64)
	Len() int
	Clear()
}

// PreStore 预热计数存储
type PreStore interface {
	Get(addr uint32) (*PreEntry, bool)
	// Peek 读取条目，不刷新最近使用位置
	Peek(addr uint32) (*PreEntry, bool)
	Add(addr uint32, e *PreEntry)
	Len() int
	Clear()
}

// RistrettoStore 基于 ristretto 的热点存储，近似 LRU，容量按条目计
type RistrettoStore struct {
	cache *ristretto.Cache
}

// NewRistrettoStore 创建热点存储
func NewRistrettoStore(size int) (*RistrettoStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid hot cache size: %d", size)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        int64(size) * 10,
		MaxCost:            int64(size),
		BufferItems:        64,
		Metrics:            true,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{cache: cache}, nil
}

func (s *RistrettoStore) Get(addr uint32) (uint64, bool) {
	v, ok := s.cache.Get(uint64(addr))
	if !ok {
		return 0, false
	}
	ts, ok := v.(uint64)
	return ts, ok
}

// Contains 走 GetTTL，不记访问频率也不计命中
func (s *RistrettoStore) Contains(addr uint32) bool {
	_, ok := s.cache.GetTTL(uint64(addr))
	return ok
}

// Set 写入是异步的，新键在缓冲区刷新后才可见
func (s *RistrettoStore) Set(addr uint32, ts uint64) {
	s.cache.Set(uint64(addr), ts, 1)
}

// Wait 等待缓冲写入生效
func (s *RistrettoStore) Wait() {
	s.cache.Wait()
}

func (s *RistrettoStore) Len() int {
	m := s.cache.Metrics
	if m == nil {
		return 0
	}
	n := int64(m.KeysAdded()) - int64(m.KeysEvicted())
	if n < 0 {
		return 0
	}
	return int(n)
}

// Evictions 被挤出的条目数
func (s *RistrettoStore) Evictions() uint64 {
	if s.cache.Metrics == nil {
		return 0
	}
	return s.cache.Metrics.KeysEvicted()
}

func (s *RistrettoStore) Clear() {
	s.cache.Clear()
}

// Close 释放后台协程
func (s *RistrettoStore) Close() {
	s.cache.Close()
}

// LRUStore 基于 golang-lru 的严格 LRU 预热存储
type LRUStore struct {
	cache     *lru.Cache
	evictions atomic.Uint64
}

// NewLRUStore 创建预热存储
func NewLRUStore(size int) (*LRUStore, error) {
	s := &LRUStore{}
	cache, err := lru.NewWithEvict(size, func(_, _ interface{}) {
		s.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

func (s *LRUStore) Get(addr uint32) (*PreEntry, bool) {
	v, ok := s.cache.Get(addr)
	if !ok {
		return nil, false
	}
	e, ok := v.(*PreEntry)
	return e, ok
}

func (s *LRUStore) Peek(addr uint32) (*PreEntry, bool) {
	v, ok := s.cache.Peek(addr)
	if !ok {
		return nil, false
	}
	e, ok := v.(*PreEntry)
	return e, ok
}

// Add 并发首次写入时后写者覆盖
func (s *LRUStore) Add(addr uint32, e *PreEntry) {
	s.cache.Add(addr, e)
}

func (s *LRUStore) Len() int {
	return s.cache.Len()
}

// Evictions 被挤出的条目数
func (s *LRUStore) Evictions() uint64 {
	return s.evictions.Load()
}

func (s *LRUStore) Clear() {
	s.cache.Purge()
}
