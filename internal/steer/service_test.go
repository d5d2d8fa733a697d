package steer

import (
	"context"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsSteer/internal/config"
	"dnsSteer/internal/iplist"
	"dnsSteer/internal/metrics"
	"dnsSteer/internal/packet"
	"dnsSteer/internal/utils"
)

type testFiles struct {
	dir     string
	domains string
	allow   string
	deny    string
}

func writeLists(t *testing.T) (*config.Config, testFiles) {
	t.Helper()
	dir := t.TempDir()
	f := testFiles{
		dir:     dir,
		domains: filepath.Join(dir, "domains.txt"),
		allow:   filepath.Join(dir, "allow.txt"),
		deny:    filepath.Join(dir, "deny.txt"),
	}
	require.NoError(t, os.WriteFile(f.domains, []byte("baidu.com\n*.qq.com\n"), 0644))
	require.NoError(t, os.WriteFile(f.allow, []byte("223.5.5.0/24\n"), 0644))
	require.NoError(t, os.WriteFile(f.deny, []byte("223.5.5.66\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.DomainListFile = f.domains
	cfg.AllowListFile = f.allow
	cfg.DenyListFile = f.deny
	cfg.KeyScanMode = "labels"
	return cfg, f
}

func queryFrame(t *testing.T, name string) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	payload, err := m.Pack()
	require.NoError(t, err)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP("192.168.1.10"), DstIP: net.ParseIP("114.114.114.114")}
	udp := &layers.UDP{SrcPort: 40000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return append([]byte(nil), buf.Bytes()...)
}

func dstPort(t *testing.T, data []byte) uint16 {
	t.Helper()
	f, err := packet.ParseIPv4(data)
	require.NoError(t, err)
	_, d, err := f.UDPPorts(data)
	require.NoError(t, err)
	return d
}

func TestServiceSteersFromLoadedLists(t *testing.T) {
	cfg, _ := writeLists(t)
	collector := metrics.NewCollector()
	s, err := New(cfg, utils.Discard(), collector, nil)
	require.NoError(t, err)
	defer s.Close()

	p := &packet.Packet{Data: queryFrame(t, "IM.QQ.COM")}
	s.Engine().Process(p)
	assert.Equal(t, uint16(15301), dstPort(t, p.Data))

	p = &packet.Packet{Data: queryFrame(t, "google.com")}
	s.Engine().Process(p)
	assert.Equal(t, uint16(53), dstPort(t, p.Data))

	deps := s.AdminDeps()
	assert.Equal(t, 2, deps.Domains.Len())
	assert.Equal(t, 1, deps.Allow.Len())
	assert.Equal(t, 1, deps.Deny.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.GetRedirects()))
}

func TestServiceReload(t *testing.T) {
	cfg, f := writeLists(t)
	s, err := New(cfg, utils.Discard(), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	addr, _ := iplist.FromAddr(netip.MustParseAddr("223.5.5.5"))
	assert.True(t, s.AdminDeps().Allow.Contains(addr))

	require.NoError(t, os.WriteFile(f.allow, []byte("1.1.1.1\n"), 0644))
	require.NoError(t, os.WriteFile(f.domains, []byte("163.com\n"), 0644))
	require.NoError(t, s.Reload())

	assert.False(t, s.AdminDeps().Allow.Contains(addr))
	p := &packet.Packet{Data: queryFrame(t, "baidu.com")}
	s.Engine().Process(p)
	assert.Equal(t, uint16(53), dstPort(t, p.Data))

	// 文件缺失时报错，但保留旧名单
	require.NoError(t, os.Remove(f.domains))
	err = s.Reload()
	require.Error(t, err)
	assert.Equal(t, 1, s.AdminDeps().Domains.Len())
}

func TestReloadKeepsWarmUpUntilAllowListChanges(t *testing.T) {
	cfg, f := writeLists(t)
	var now atomic.Uint64
	s, err := New(cfg, utils.Discard(), nil, now.Load)
	require.NoError(t, err)
	defer s.Close()

	addr, _ := iplist.FromAddr(netip.MustParseAddr("223.5.5.5"))
	allow := s.AdminDeps().Allow
	for i := 0; i < 20; i++ {
		require.True(t, s.Cache().Accept(addr, allow))
	}
	now.Add(uint64(10 * time.Second))
	require.True(t, s.Cache().Accept(addr, allow))
	s.Cache().Sync()
	require.True(t, s.Cache().Promoted(addr))

	// 名单文件未变，定期重载不应清空预热状态
	require.NoError(t, s.Reload())
	assert.True(t, s.Cache().Promoted(addr))
	_, ok := s.Cache().Provisional(addr)
	assert.True(t, ok)

	// 等价内容（顺序、写法不同）也视为未变
	require.NoError(t, os.WriteFile(f.allow, []byte("# same\n223.5.5.9/24\n"), 0644))
	require.NoError(t, s.Reload())
	assert.True(t, s.Cache().Promoted(addr))

	// 网段撤下后，已晋升的地址要按新名单重新验证
	require.NoError(t, os.WriteFile(f.allow, []byte("1.1.1.1\n"), 0644))
	require.NoError(t, s.Reload())
	assert.False(t, s.Cache().Promoted(addr))
	_, ok = s.Cache().Provisional(addr)
	assert.False(t, ok)
	assert.False(t, s.Cache().Accept(addr, allow))
}

func TestNewFailsOnMissingList(t *testing.T) {
	cfg, _ := writeLists(t)
	cfg.DenyListFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err := New(cfg, utils.Discard(), nil, nil)
	var se *utils.SteerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, utils.ErrCodeProvision, se.Code)
}

func TestRunBackgroundTasksStops(t *testing.T) {
	cfg, _ := writeLists(t)
	cfg.ListRefresh = "10ms"
	s, err := New(cfg, utils.Discard(), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.RunBackgroundTasks(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("background tasks did not stop")
	}
	s.LogStats()
}
