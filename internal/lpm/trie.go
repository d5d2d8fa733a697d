// Package lpm 最长前缀匹配字典
//
// 按位比较的二叉前缀树，语义与内核 BPF_MAP_TYPE_LPM_TRIE 一致：
// 条目 (prefix, bits) 命中查询 (key, qbits) 当且仅当 bits <= qbits
// 且两者前 bits 位相同；多个条目命中时取 bits 最大者。
// 查找最多遍历 8*MaxKeyLen 个节点，无内存分配。
package lpm

import (
	"errors"
	"sync"
)

// ErrPrefixLen 前缀长度超出键长度
var ErrPrefixLen = errors.New("lpm: prefix length out of range")

// trieNode 扁平数组中的节点，children 为下标，-1 表示无子节点
type trieNode struct {
	children [2]int32
	hasValue bool
	value    uint32
}

// Trie 并发安全的最长前缀匹配表
type Trie struct {
	mu       sync.RWMutex
	maxBytes int
	nodes    []trieNode
	entries  int
}

// New 创建最长前缀匹配表，maxBytes 为键的最大字节数
func New(maxBytes int) *Trie {
	return &Trie{
		maxBytes: maxBytes,
		nodes:    []trieNode{{children: [2]int32{-1, -1}}},
	}
}

func bitAt(key []byte, i int) int {
	return int(key[i>>3]>>(7-uint(i&7))) & 1
}

func (t *Trie) checkLen(key []byte, bits int) error {
	if bits < 0 || bits > 8*t.maxBytes || bits > 8*len(key) {
		return ErrPrefixLen
	}
	return nil
}

// Insert 插入或覆盖一个前缀
func (t *Trie) Insert(key []byte, bits int, value uint32) error {
	if err := t.checkLen(key, bits); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int32(0)
	for i := 0; i < bits; i++ {
		b := bitAt(key, i)
		child := t.nodes[idx].children[b]
		if child == -1 {
			child = int32(len(t.nodes))
			t.nodes[idx].children[b] = child
			t.nodes = append(t.nodes, trieNode{children: [2]int32{-1, -1}})
		}
		idx = child
	}
	if !t.nodes[idx].hasValue {
		t.entries++
	}
	t.nodes[idx].hasValue = true
	t.nodes[idx].value = value
	return nil
}

// Delete 删除一个精确前缀，返回是否存在
// 节点本身保留，表在 Replace 时整体重建
func (t *Trie) Delete(key []byte, bits int) bool {
	if t.checkLen(key, bits) != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := int32(0)
	for i := 0; i < bits; i++ {
		idx = t.nodes[idx].children[bitAt(key, i)]
		if idx == -1 {
			return false
		}
	}
	if !t.nodes[idx].hasValue {
		return false
	}
	t.nodes[idx].hasValue = false
	t.nodes[idx].value = 0
	t.entries--
	return true
}

// Lookup 最长前缀匹配，返回命中条目的值与前缀长度
func (t *Trie) Lookup(key []byte, bits int) (value uint32, matched int, ok bool) {
	if t.checkLen(key, bits) != nil {
		return 0, 0, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int32(0)
	if n := t.nodes[0]; n.hasValue {
		value, matched, ok = n.value, 0, true
	}
	for i := 0; i < bits; i++ {
		idx = t.nodes[idx].children[bitAt(key, i)]
		if idx == -1 {
			break
		}
		if n := t.nodes[idx]; n.hasValue {
			value, matched, ok = n.value, i+1, true
		}
	}
	return value, matched, ok
}

// Replace 用另一张表的内容整体替换本表
func (t *Trie) Replace(other *Trie) {
	other.mu.RLock()
	nodes := make([]trieNode, len(other.nodes))
	copy(nodes, other.nodes)
	entries := other.entries
	other.mu.RUnlock()

	t.mu.Lock()
	t.nodes = nodes
	t.entries = entries
	t.mu.Unlock()
}

// Len 条目数量
func (t *Trie) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries
}

// Walk 按位序深度优先遍历全部条目，fn 返回 false 时停止
// key 只在回调期间有效
func (t *Trie) Walk(fn func(key []byte, bits int, value uint32) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key := make([]byte, t.maxBytes)
	t.walk(0, key, 0, fn)
}

func (t *Trie) walk(idx int32, key []byte, depth int, fn func([]byte, int, uint32) bool) bool {
	n := t.nodes[idx]
	if n.hasValue && !fn(key, depth, n.value) {
		return false
	}
	i, bit := depth>>3, byte(1)<<(7-uint(depth&7))
	for b, child := range n.children {
		if child == -1 {
			continue
		}
		if b == 1 {
			key[i] |= bit
		}
		ok := t.walk(child, key, depth+1, fn)
		key[i] &^= bit
		if !ok {
			return false
		}
	}
	return true
}
