// Package warmup 两级预热缓存。
//
// 地址第一次命中直连名单时进入预热表（计数 1），之后每次命中名单累加计数；
// 计数和存活时间同时达到阈值后写入快车道。快车道命中时不再查询名单和预热表。
// 无论处于哪一级，只要地址已在预热表或快车道中，当前报文都按直连处理。
package warmup

import (
	"sync/atomic"
	"time"
)

const (
	DefaultHotSize        = 1024
	DefaultPreSize        = 4096
	DefaultPromotePackets = 20
	DefaultPromoteAfter   = 10 * time.Second
)

// Clock 纳秒时钟
type Clock func() uint64

var processStart = time.Now()

// MonotonicClock 进程内单调时钟
func MonotonicClock() uint64 {
	return uint64(time.Since(processStart))
}

// AllowList 直连名单
type AllowList interface {
	Contains(addr uint32) bool
}

// Options 缓存参数，零值字段使用默认值
type Options struct {
	HotSize        int
	PreSize        int
	PromotePackets uint32
	PromoteAfter   time.Duration
	Clock          Clock
}

func (o *Options) applyDefaults() {
	if o.HotSize <= 0 {
		o.HotSize = DefaultHotSize
	}
	if o.PreSize <= 0 {
		o.PreSize = DefaultPreSize
	}
	if o.PromotePackets == 0 {
		o.PromotePackets = DefaultPromotePackets
	}
	if o.PromoteAfter <= 0 {
		o.PromoteAfter = DefaultPromoteAfter
	}
	if o.Clock == nil {
		o.Clock = MonotonicClock
	}
}

// Stats 缓存统计
type Stats struct {
	HotHits    uint64 `json:"hot_hits"`    // 快车道命中
	PreHits    uint64 `json:"pre_hits"`    // 预热表命中
	NewEntries uint64 `json:"new_entries"` // 新建预热条目
	Promotions uint64 `json:"promotions"`  // 晋升次数
	Misses     uint64 `json:"misses"`      // 名单未命中
	HotEvicted uint64 `json:"hot_evicted"` // 快车道被挤出
	PreEvicted uint64 `json:"pre_evicted"` // 预热表被挤出
	HotSize    int    `json:"hot_size"`
	PreSize    int    `json:"pre_size"`
	HotMax     int    `json:"hot_max"`
	PreMax     int    `json:"pre_max"`
}

// Cache 两级预热缓存，可并发使用
type Cache struct {
	hot  HotStore
	pre  PreStore
	opts Options

	promoteAfter uint64

	hotHits    atomic.Uint64
	preHits    atomic.Uint64
	newEntries atomic.Uint64
	promotions atomic.Uint64
	misses     atomic.Uint64
}

// New 使用 ristretto 快车道和 golang-lru 预热表创建缓存
func New(opts Options) (*Cache, error) {
	opts.applyDefaults()
	hot, err := NewRistrettoStore(opts.HotSize)
	if err != nil {
		return nil, err
	}
	pre, err := NewLRUStore(opts.PreSize)
	if err != nil {
		hot.Close()
		return nil, err
	}
	return NewWithStores(hot, pre, opts), nil
}

// NewWithStores 注入自定义存储
func NewWithStores(hot HotStore, pre PreStore, opts Options) *Cache {
	opts.applyDefaults()
	return &Cache{
		hot:          hot,
		pre:          pre,
		opts:         opts,
		promoteAfter: uint64(opts.PromoteAfter),
	}
}

// Accept 判断地址当前是否走直连
func (c *Cache) Accept(addr uint32, allow AllowList) bool {
	if _, ok := c.hot.Get(addr); ok {
		c.hotHits.Add(1)
		return true
	}

	if allow == nil || !allow.Contains(addr) {
		c.misses.Add(1)
		return false
	}

	now := c.opts.Clock()
	e, ok := c.pre.Get(addr)
	if !ok {
		c.pre.Add(addr, newPreEntry(now))
		c.newEntries.Add(1)
		return true
	}

	c.preHits.Add(1)
	count := e.Count.Add(1)
	if count >= c.opts.PromotePackets && now >= e.FirstSeen && now-e.FirstSeen >= c.promoteAfter {
		c.hot.Set(addr, now)
		c.promotions.Add(1)
	}
	return true
}

// Promoted 地址是否已在快车道
// 与 Provisional 一样只读：不计命中，也不改变两级缓存的淘汰顺序
func (c *Cache) Promoted(addr uint32) bool {
	return c.hot.Contains(addr)
}

// Provisional 查看预热条目
func (c *Cache) Provisional(addr uint32) (*PreEntry, bool) {
	return c.pre.Peek(addr)
}

// Sync 等待快车道异步写入生效
func (c *Cache) Sync() {
	if w, ok := c.hot.(interface{ Wait() }); ok {
		w.Wait()
	}
}

// Reset 清空两级缓存
func (c *Cache) Reset() {
	c.hot.Clear()
	c.pre.Clear()
}

// Stats 获取统计快照
func (c *Cache) Stats() Stats {
	return Stats{
		HotHits:    c.hotHits.Load(),
		PreHits:    c.preHits.Load(),
		NewEntries: c.newEntries.Load(),
		Promotions: c.promotions.Load(),
		Misses:     c.misses.Load(),
		HotEvicted: evictions(c.hot),
		PreEvicted: evictions(c.pre),
		HotSize:    c.hot.Len(),
		PreSize:    c.pre.Len(),
		HotMax:     c.opts.HotSize,
		PreMax:     c.opts.PreSize,
	}
}

func evictions(store interface{}) uint64 {
	if e, ok := store.(interface{ Evictions() uint64 }); ok {
		return e.Evictions()
	}
	return 0
}

// Close 释放存储
func (c *Cache) Close() {
	if cl, ok := c.hot.(interface{ Close() }); ok {
		cl.Close()
	}
}
