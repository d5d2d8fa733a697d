// Package domain 从 DNS 查询报文中提取域名匹配键，并在国内域名表中做最长后缀匹配。
//
// 匹配键保存域名字节的逆序，使后缀匹配变为前缀匹配：
//
//	"\x05baidu\x03com"  ->  "moc\x03udiab\x05"
//
// 报文中的长度字节被保留在键里，因此 "www.baidu.com" 命中 "baidu.com"，
// 而 "xbaidu.com" 不会命中。
package domain

import (
	"fmt"

	"github.com/miekg/dns"
)

// MaxLen 匹配键最大字节数
const MaxLen = 64

// Key 域名匹配键
type Key struct {
	PrefixBits uint32
	Bytes      [MaxLen]byte
}

// ScanMode 问题名扫描方式
type ScanMode int

const (
	// ScanRaw 把问题名当作不透明字节串，读到终止字节为止
	ScanRaw ScanMode = iota
	// ScanLabels 按长度前缀逐个读取 label，不依赖终止字节
	ScanLabels
)

// ParseScanMode 解析配置中的扫描方式
func ParseScanMode(s string) (ScanMode, error) {
	switch s {
	case "", "raw":
		return ScanRaw, nil
	case "labels":
		return ScanLabels, nil
	default:
		return ScanRaw, fmt.Errorf("unknown key scan mode %q", s)
	}
}

// String 扫描方式名称
func (m ScanMode) String() string {
	if m == ScanLabels {
		return "labels"
	}
	return "raw"
}

// Len 键的有效字节数
func (k Key) Len() int {
	return int(k.PrefixBits / 8)
}

// Valid 前缀长度为 0 或超过上限的键不能存储也不能查询
func (k Key) Valid() bool {
	n := k.Len()
	return n > 0 && n <= MaxLen && k.PrefixBits%8 == 0
}

// Name 逆序还原出原始字节
func (k Key) Name() []byte {
	n := k.Len()
	if n > MaxLen {
		n = MaxLen
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = k.Bytes[n-1-i]
	}
	return out
}

// String 以点分形式显示，长度字节显示为 '.'
func (k Key) String() string {
	name := k.Name()
	for i, c := range name {
		if c < 0x20 || c > 0x7e {
			name[i] = '.'
		}
	}
	return string(name)
}

// NewKey 由原始名字字节构造匹配键
func NewKey(name []byte) (Key, bool) {
	var k Key
	n := len(name)
	if n == 0 || n > MaxLen {
		return k, false
	}
	for i := 0; i < n; i++ {
		k.Bytes[n-1-i] = name[i]
	}
	k.PrefixBits = uint32(8 * n)
	return k, true
}

// EncodeName 把文本域名编码为报文中的问题名格式（不含结尾的 0 字节）
func EncodeName(name string) ([]byte, error) {
	fqdn := dns.Fqdn(name)
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return nil, fmt.Errorf("invalid domain name %q", name)
	}
	buf := make([]byte, 256)
	off, err := dns.PackDomainName(fqdn, buf, 0, nil, false)
	if err != nil {
		return nil, fmt.Errorf("pack domain name %q: %w", name, err)
	}
	// 去掉根 label 的 0 字节
	return buf[:off-1], nil
}

// KeyFromDomain 由文本域名构造与报文扫描结果一致的匹配键
func KeyFromDomain(name string) (Key, error) {
	wire, err := EncodeName(name)
	if err != nil {
		return Key{}, err
	}
	k, ok := NewKey(wire)
	if !ok || k.Len() >= MaxLen {
		return Key{}, fmt.Errorf("domain name %q does not fit in %d bytes", name, MaxLen-1)
	}
	return k, nil
}

// Builder 问题名到匹配键的构造器，值类型，可并发使用
type Builder struct {
	Mode        ScanMode
	StopAtSpace bool // 空格字节 0x20 也视为终止符
	FoldCase    bool // ASCII 大写转小写
}

// Build 从 pkt[off:] 处的问题名构造匹配键
// pkt 的长度即为已校验的报文边界，任何读操作之前都先做边界检查。
// 名字为空、读到 MaxLen 字节仍未遇到终止符、或终止符在边界之外时返回 false。
func (b Builder) Build(pkt []byte, off int) (Key, bool) {
	if off < 0 || off >= len(pkt) {
		return Key{}, false
	}
	if b.Mode == ScanLabels {
		return b.scanLabels(pkt, off)
	}
	return b.scanRaw(pkt, off)
}

func (b Builder) fold(c byte) byte {
	if b.FoldCase && c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// scanRaw 逐字节扫描，从键尾向前写入
func (b Builder) scanRaw(pkt []byte, off int) (Key, bool) {
	var k Key
	n := 0
	for ; n < MaxLen; n++ {
		p := off + n
		if p >= len(pkt) {
			return Key{}, false
		}
		c := pkt[p]
		if c == 0 || (b.StopAtSpace && c == ' ') {
			break
		}
		k.Bytes[MaxLen-1-n] = b.fold(c)
	}
	if n == 0 || n >= MaxLen {
		return Key{}, false
	}
	return k.compact(n), true
}

// scanLabels 按 label 长度前缀扫描，压缩指针和扩展 label 类型直接拒绝
// 每轮至少消耗 2 字节，循环次数不超过 MaxLen/2
func (b Builder) scanLabels(pkt []byte, off int) (Key, bool) {
	var k Key
	n := 0
	p := off
	for n < MaxLen {
		if p >= len(pkt) {
			return Key{}, false
		}
		l := int(pkt[p])
		if l == 0 {
			break
		}
		if l&0xC0 != 0 {
			return Key{}, false
		}
		if n+1+l >= MaxLen || p+1+l > len(pkt) {
			return Key{}, false
		}
		k.Bytes[MaxLen-1-n] = byte(l)
		for j := 1; j <= l; j++ {
			k.Bytes[MaxLen-1-n-j] = b.fold(pkt[p+j])
		}
		n += 1 + l
		p += 1 + l
	}
	if n == 0 || n >= MaxLen {
		return Key{}, false
	}
	return k.compact(n), true
}

// compact 把写在尾部的 n 字节移到头部，其余清零
func (k Key) compact(n int) Key {
	copy(k.Bytes[:n], k.Bytes[MaxLen-n:])
	for i := n; i < MaxLen; i++ {
		k.Bytes[i] = 0
	}
	k.PrefixBits = uint32(8 * n)
	return k
}
