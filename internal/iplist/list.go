// Package iplist IPv4 前缀名单（直连名单、拒绝名单），按最长前缀匹配查询
package iplist

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/cespare/xxhash/v2"

	"dnsSteer/internal/lpm"
)

// Key 名单键，Addr 为按网络字节序解释的数值（10.0.0.1 == 0x0A000001）
type Key struct {
	PrefixBits uint32
	Addr       uint32
}

// HostKey 32 位主机路由键
func HostKey(addr uint32) Key {
	return Key{PrefixBits: 32, Addr: addr}
}

func (k Key) bytes() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], k.Addr)
	return b
}

// String CIDR 形式
func (k Key) String() string {
	return fmt.Sprintf("%s/%d", ToAddr(k.Addr), k.PrefixBits)
}

// FromAddr netip.Addr 转数值，非 IPv4 返回 false
func FromAddr(a netip.Addr) (uint32, bool) {
	a = a.Unmap()
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

// ToAddr 数值转 netip.Addr
func ToAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// KeyFromPrefix netip.Prefix 转名单键
func KeyFromPrefix(p netip.Prefix) (Key, error) {
	v, ok := FromAddr(p.Masked().Addr())
	if !ok {
		return Key{}, fmt.Errorf("not an IPv4 prefix: %s", p)
	}
	return Key{PrefixBits: uint32(p.Bits()), Addr: v}, nil
}

// List 并发安全的 IPv4 前缀名单
type List struct {
	trie *lpm.Trie
}

// New 创建空名单
func New() *List {
	return &List{trie: lpm.New(4)}
}

// Insert 插入前缀
func (l *List) Insert(k Key, value uint32) error {
	b := k.bytes()
	return l.trie.Insert(b[:], int(k.PrefixBits), value)
}

// InsertPrefix 插入 netip.Prefix
func (l *List) InsertPrefix(p netip.Prefix, value uint32) error {
	k, err := KeyFromPrefix(p)
	if err != nil {
		return err
	}
	return l.Insert(k, value)
}

// Delete 删除精确前缀
func (l *List) Delete(k Key) bool {
	b := k.bytes()
	return l.trie.Delete(b[:], int(k.PrefixBits))
}

// Lookup 主机地址的最长前缀匹配
func (l *List) Lookup(addr uint32) (uint32, bool) {
	b := HostKey(addr).bytes()
	v, _, ok := l.trie.Lookup(b[:], 32)
	return v, ok
}

// Contains 地址是否被任一前缀覆盖
func (l *List) Contains(addr uint32) bool {
	_, ok := l.Lookup(addr)
	return ok
}

// Replace 用新加载的名单整体替换
func (l *List) Replace(other *List) {
	l.trie.Replace(other.trie)
}

// Fingerprint 名单内容摘要，只取决于前缀集合与取值，与插入顺序无关
func (l *List) Fingerprint() uint64 {
	d := xxhash.New()
	var rec [9]byte
	l.trie.Walk(func(key []byte, bits int, value uint32) bool {
		copy(rec[:4], key)
		rec[4] = byte(bits)
		binary.BigEndian.PutUint32(rec[5:], value)
		d.Write(rec[:])
		return true
	})
	return d.Sum64()
}

// Len 前缀数量
func (l *List) Len() int {
	return l.trie.Len()
}
