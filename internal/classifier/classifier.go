// Package classifier 判断 IPv4 报文是否打直连标记
package classifier

import (
	"dnsSteer/internal/warmup"
)

// AddrSet 地址集合，*iplist.List 满足该接口
type AddrSet interface {
	Contains(addr uint32) bool
}

// Acceptor 预热缓存
type Acceptor interface {
	Accept(addr uint32, allow warmup.AllowList) bool
}

type addrRange struct {
	base uint32
	mask uint32
}

var privateRanges = []addrRange{
	{0x0A000000, 0xFF000000}, // 10.0.0.0/8
	{0xAC100000, 0xFFF00000}, // 172.16.0.0/12
	{0xC0A80000, 0xFFFF0000}, // 192.168.0.0/16
}

var loopbackRange = addrRange{0x7F000000, 0xFF000000} // 127.0.0.0/8

// Options 分类器参数
type Options struct {
	IncludeLoopback bool
}

// Classifier 直连判定，名单与缓存均为注入的并发安全存储
type Classifier struct {
	deny            AddrSet
	allow           warmup.AllowList
	cache           Acceptor
	includeLoopback bool
}

// New 创建分类器，deny/allow 可为 nil
func New(deny AddrSet, allow warmup.AllowList, cache Acceptor, opts Options) *Classifier {
	return &Classifier{
		deny:            deny,
		allow:           allow,
		cache:           cache,
		includeLoopback: opts.IncludeLoopback,
	}
}

// IsPrivate 是否为内网地址
func (c *Classifier) IsPrivate(addr uint32) bool {
	for _, r := range privateRanges {
		if addr&r.mask == r.base {
			return true
		}
	}
	return c.includeLoopback && addr&loopbackRange.mask == loopbackRange.base
}

func (c *Classifier) denied(addr uint32) bool {
	return c.deny != nil && c.deny.Contains(addr)
}

// Classify 返回 true 表示走直连
// 拒绝名单先于任何缓存检查，被拒绝的地址不会进入预热缓存
func (c *Classifier) Classify(src, dst uint32) bool {
	srcPrivate := c.IsPrivate(src)
	dstPrivate := c.IsPrivate(dst)
	if srcPrivate && dstPrivate {
		return false
	}

	if c.denied(src) || c.denied(dst) {
		return false
	}

	if c.cache == nil {
		return false
	}
	if !dstPrivate && c.cache.Accept(dst, c.allow) {
		return true
	}
	if !srcPrivate && c.cache.Accept(src, c.allow) {
		return true
	}
	return false
}
