package domain

import (
	"dnsSteer/internal/lpm"
)

// Action 域名表中的动作标记
type Action uint32

const (
	// ActionSteer 转发到备用解析端口
	ActionSteer Action = 1
)

// Table 国内域名表，按逆序键做最长前缀匹配（即最长后缀匹配）
// 数据由外部加载，报文路径只读
type Table struct {
	trie *lpm.Trie
}

// NewTable 创建空的域名表
func NewTable() *Table {
	return &Table{trie: lpm.New(MaxLen)}
}

// Insert 插入或覆盖一条域名规则
func (t *Table) Insert(k Key, a Action) error {
	if !k.Valid() {
		return lpm.ErrPrefixLen
	}
	return t.trie.Insert(k.Bytes[:], int(k.PrefixBits), uint32(a))
}

// InsertDomain 插入文本域名
func (t *Table) InsertDomain(name string, a Action) error {
	k, err := KeyFromDomain(name)
	if err != nil {
		return err
	}
	return t.Insert(k, a)
}

// Delete 删除一条规则
func (t *Table) Delete(k Key) bool {
	if !k.Valid() {
		return false
	}
	return t.trie.Delete(k.Bytes[:], int(k.PrefixBits))
}

// Lookup 最长后缀匹配，未命中是常态而非错误
func (t *Table) Lookup(k Key) (Action, bool) {
	a, _, ok := t.Match(k)
	return a, ok
}

// Match 同 Lookup，额外返回命中规则的字节长度
func (t *Table) Match(k Key) (Action, int, bool) {
	if !k.Valid() {
		return 0, 0, false
	}
	v, bits, ok := t.trie.Lookup(k.Bytes[:], int(k.PrefixBits))
	if !ok || bits == 0 {
		// 0 长前缀不是合法条目
		return 0, 0, false
	}
	return Action(v), bits / 8, true
}

// Replace 用新加载的表整体替换
func (t *Table) Replace(other *Table) {
	t.trie.Replace(other.trie)
}

// Len 规则数量
func (t *Table) Len() int {
	return t.trie.Len()
}
