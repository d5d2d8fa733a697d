package replay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnsSteer/internal/classifier"
	"dnsSteer/internal/dispatch"
	"dnsSteer/internal/domain"
	"dnsSteer/internal/iplist"
	"dnsSteer/internal/utils"
	"dnsSteer/internal/warmup"
)

func udpFrame(t *testing.T, src, dst string, sport, dport uint16, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return append([]byte(nil), buf.Bytes()...)
}

func writeCapture(t *testing.T, start time.Time, step time.Duration, frames [][]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(snapLen, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * step),
			CaptureLength: len(f),
			Length:        len(f),
		}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return &buf
}

type rig struct {
	engine *dispatch.Engine
	cache  *warmup.Cache
	clock  *CaptureClock
}

func newRig(t *testing.T) rig {
	t.Helper()
	domains := domain.NewTable()
	require.NoError(t, domains.InsertDomain("baidu.com", domain.ActionSteer))
	allow := iplist.New()
	require.NoError(t, allow.InsertPrefix(netip.MustParsePrefix("223.5.5.5/32"), 1))

	clock := &CaptureClock{}
	cache, err := warmup.New(warmup.Options{HotSize: 64, PreSize: 64, Clock: clock.Now})
	require.NoError(t, err)
	t.Cleanup(cache.Close)

	cls := classifier.New(iplist.New(), allow, cache, classifier.Options{})
	return rig{
		engine: dispatch.NewEngine(domains, cls, dispatch.Options{}, nil, utils.Discard()),
		cache:  cache,
		clock:  clock,
	}
}

func TestRunRewritesAndMarks(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("www.baidu.com.", dns.TypeA)
	query, err := m.Pack()
	require.NoError(t, err)

	frames := [][]byte{udpFrame(t, "192.168.1.10", "114.114.114.114", 40000, 53, query)}
	flow := udpFrame(t, "223.5.5.5", "192.168.1.10", 443, 40001, []byte("data"))
	for i := 0; i < 25; i++ {
		frames = append(frames, flow)
	}
	start := time.Date(2026, 1, 29, 10, 0, 0, 0, time.UTC)
	in := writeCapture(t, start, 500*time.Millisecond, frames)

	r := newRig(t)
	var out bytes.Buffer
	res, err := Run(context.Background(), in, &out, r.engine, r.clock, utils.Discard())
	require.NoError(t, err)

	assert.Equal(t, 26, res.Packets)
	assert.Equal(t, 1, res.Rewritten)
	assert.Equal(t, 25, res.Marked)
	assert.Equal(t, uint64(1), res.Engine.Redirects)
	assert.Equal(t, uint64(start.Add(25*500*time.Millisecond).UnixNano()), r.clock.Now())

	r.cache.Sync()
	a, _ := iplist.FromAddr(netip.MustParseAddr("223.5.5.5"))
	promoted := r.cache.Promoted(a)
	assert.True(t, promoted)

	reader, err := pcapgo.NewReader(&out)
	require.NoError(t, err)
	data, _, err := reader.ReadPacketData()
	require.NoError(t, err)
	decoded := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	udp := decoded.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, layers.UDPPort(15301), udp.DstPort)

	n := 1
	for {
		_, _, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 26, n)
}

func TestRunWithoutOutput(t *testing.T) {
	in := writeCapture(t, time.Unix(100, 0), time.Second, [][]byte{
		udpFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, nil),
	})
	r := newRig(t)
	res, err := Run(context.Background(), in, nil, r.engine, nil, utils.Discard())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Packets)
	assert.Zero(t, res.Marked)
}

func TestRunRejectsBadInput(t *testing.T) {
	r := newRig(t)
	_, err := Run(context.Background(), bytes.NewReader([]byte("not a pcap")), nil, r.engine, r.clock, utils.Discard())
	var se *utils.SteerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, utils.ErrCodeReplay, se.Code)

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(snapLen, layers.LinkTypeRaw))
	_, err = Run(context.Background(), &buf, nil, r.engine, r.clock, utils.Discard())
	assert.Error(t, err)
}

func TestRunHonoursCancellation(t *testing.T) {
	in := writeCapture(t, time.Unix(100, 0), time.Second, [][]byte{
		udpFrame(t, "10.0.0.1", "10.0.0.2", 1000, 2000, nil),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := newRig(t)
	_, err := Run(ctx, in, nil, r.engine, r.clock, utils.Discard())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCaptureClockNeverGoesBack(t *testing.T) {
	var c CaptureClock
	c.Set(time.Unix(10, 0))
	c.Set(time.Unix(5, 0))
	assert.Equal(t, uint64(10*time.Second), c.Now())
}
