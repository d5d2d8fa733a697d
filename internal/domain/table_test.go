package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, name string) Key {
	t.Helper()
	k, ok := NewKey([]byte(name))
	require.True(t, ok)
	return k
}

func TestTableLongestSuffixWins(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.Insert(mustKey(t, "com"), Action(1)))
	require.NoError(t, table.Insert(mustKey(t, "example.com"), Action(2)))

	a, n, ok := table.Match(mustKey(t, "sub.example.com"))
	require.True(t, ok)
	assert.Equal(t, Action(2), a)
	assert.Equal(t, len("example.com"), n)

	a, ok = table.Lookup(mustKey(t, "other.com"))
	require.True(t, ok)
	assert.Equal(t, Action(1), a)

	_, ok = table.Lookup(mustKey(t, "example.org"))
	assert.False(t, ok)
}

func TestTableWireSuffixRespectsLabelBoundary(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.InsertDomain("baidu.com", ActionSteer))

	tests := []struct {
		name  string
		query string
		hit   bool
	}{
		{"exact", "baidu.com", true},
		{"subdomain", "www.baidu.com", true},
		{"deep subdomain", "a.b.baidu.com", true},
		{"label prefix", "xbaidu.com", false},
		{"parent", "com", false},
		{"other tld", "baidu.cn", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := KeyFromDomain(tt.query)
			require.NoError(t, err)
			_, ok := table.Lookup(k)
			assert.Equal(t, tt.hit, ok)
		})
	}
}

func TestTableRejectsInvalidKeys(t *testing.T) {
	table := NewTable()
	assert.Error(t, table.Insert(Key{}, ActionSteer))

	_, ok := table.Lookup(Key{})
	assert.False(t, ok)
	assert.False(t, table.Delete(Key{}))
}

func TestTableDeleteAndReplace(t *testing.T) {
	table := NewTable()
	require.NoError(t, table.InsertDomain("qq.com", ActionSteer))
	k, err := KeyFromDomain("qq.com")
	require.NoError(t, err)

	assert.True(t, table.Delete(k))
	_, ok := table.Lookup(k)
	assert.False(t, ok)

	next := NewTable()
	require.NoError(t, next.InsertDomain("qq.com", ActionSteer))
	require.NoError(t, next.InsertDomain("taobao.com", ActionSteer))
	table.Replace(next)

	assert.Equal(t, 2, table.Len())
	_, ok = table.Lookup(k)
	assert.True(t, ok)
}
