// Package dispatch 单报文分流入口。
//
// 目的端口为 DNS 端口的查询按域名表改写到备用解析端口；源端口为备用端口的
// 回包还原成 DNS 端口；其余 IPv4 报文交给分类器决定是否打直连标记。
// 任何情况下报文都放行，解析失败时原样放行。
package dispatch

import (
	"sync/atomic"

	"dnsSteer/internal/classifier"
	"dnsSteer/internal/domain"
	"dnsSteer/internal/metrics"
	"dnsSteer/internal/packet"
	"dnsSteer/internal/utils"
)

const (
	DefaultDNSPort    = 53
	DefaultAltDNSPort = 15301
	DefaultDirectMark = 0x88
)

// Verdict 处理结论
type Verdict int

const (
	VerdictPass Verdict = iota
)

func (v Verdict) String() string {
	if v == VerdictPass {
		return "pass"
	}
	return "unknown"
}

// 报文路径
const (
	pathDNS     = "dns"
	pathReverse = "reverse"
	pathIP      = "ip"
	pathOther   = "other"
)

// Options 引擎参数
type Options struct {
	DNSPort           uint16
	AltDNSPort        uint16
	DirectMark        uint32
	SteerAllProtocols bool
	Builder           domain.Builder
}

func (o *Options) applyDefaults() {
	if o.DNSPort == 0 {
		o.DNSPort = DefaultDNSPort
	}
	if o.AltDNSPort == 0 {
		o.AltDNSPort = DefaultAltDNSPort
	}
	if o.DirectMark == 0 {
		o.DirectMark = DefaultDirectMark
	}
}

// Stats 引擎计数
type Stats struct {
	Packets    uint64 `json:"packets"`
	Malformed  uint64 `json:"malformed"`
	DNSQueries uint64 `json:"dns_queries"`
	DomainHits uint64 `json:"domain_hits"`
	Redirects  uint64 `json:"redirects"`
	Restores   uint64 `json:"restores"`
	IPChecked  uint64 `json:"ip_checked"`
	Marked     uint64 `json:"marked"`
}

type counters struct {
	packets    atomic.Uint64
	malformed  atomic.Uint64
	dnsQueries atomic.Uint64
	domainHits atomic.Uint64
	redirects  atomic.Uint64
	restores   atomic.Uint64
	ipChecked  atomic.Uint64
	marked     atomic.Uint64
}

// Engine 分流引擎，可并发调用 Process
type Engine struct {
	opts       Options
	domains    *domain.Table
	classifier *classifier.Classifier
	metrics    *metrics.Collector
	logger     *utils.Logger
	counters   counters
}

// NewEngine 创建引擎，collector 可为 nil
func NewEngine(domains *domain.Table, cls *classifier.Classifier, opts Options, collector *metrics.Collector, logger *utils.Logger) *Engine {
	opts.applyDefaults()
	if logger == nil {
		logger = utils.Discard()
	}
	return &Engine{
		opts:       opts,
		domains:    domains,
		classifier: cls,
		metrics:    collector,
		logger:     logger,
	}
}

// Process 处理单个报文，可能原地改写 p.Data 或设置 p.Mark
func (e *Engine) Process(p *packet.Packet) Verdict {
	e.counters.packets.Add(1)

	f, err := packet.ParseIPv4(p.Data)
	if err != nil {
		if err != packet.ErrNotIPv4 {
			e.malformed(pathOther)
		} else {
			e.observe(pathOther, "pass")
		}
		return VerdictPass
	}

	if !f.IsUDP() {
		if e.opts.SteerAllProtocols {
			e.steerIP(p, f)
		} else {
			e.observe(pathOther, "pass")
		}
		return VerdictPass
	}

	// 后续分片的端口位置是载荷，只按地址走直连判断
	if f.LaterFragment() {
		e.steerIP(p, f)
		return VerdictPass
	}

	sport, dport, err := f.UDPPorts(p.Data)
	if err != nil {
		e.malformed(pathOther)
		return VerdictPass
	}

	switch {
	case dport == e.opts.DNSPort:
		e.steerQuery(p, f)
	case sport == e.opts.AltDNSPort:
		e.restoreReply(p, f)
	default:
		e.steerIP(p, f)
	}
	return VerdictPass
}

func (e *Engine) steerQuery(p *packet.Packet, f packet.Frame) {
	e.counters.dnsQueries.Add(1)

	off := f.QuestionOffset()
	if off > len(p.Data) {
		e.malformed(pathDNS)
		return
	}

	key, ok := e.opts.Builder.Build(p.Data, off)
	if !ok {
		e.observe(pathDNS, "no_key")
		return
	}
	if _, ok := e.domains.Lookup(key); !ok {
		e.observe(pathDNS, "miss")
		return
	}
	e.counters.domainHits.Add(1)
	if e.metrics != nil {
		e.metrics.GetDomainHits().Inc()
	}

	if err := packet.RewritePort(p.Data, f.DstPortOffset(), f.ChecksumOffset(), e.opts.AltDNSPort); err != nil {
		e.rewriteFailed(pathDNS, err)
		return
	}
	e.counters.redirects.Add(1)
	if e.metrics != nil {
		e.metrics.GetRedirects().Inc()
	}
	e.observe(pathDNS, "redirected")
	if e.logger.IsDebug() {
		e.logger.Debug("DNS 查询 %s 改写到端口 %d", key, e.opts.AltDNSPort)
	}
}

func (e *Engine) restoreReply(p *packet.Packet, f packet.Frame) {
	if err := packet.RewritePort(p.Data, f.SrcPortOffset(), f.ChecksumOffset(), e.opts.DNSPort); err != nil {
		e.rewriteFailed(pathReverse, err)
		return
	}
	e.counters.restores.Add(1)
	if e.metrics != nil {
		e.metrics.GetRestores().Inc()
	}
	e.observe(pathReverse, "restored")
}

func (e *Engine) steerIP(p *packet.Packet, f packet.Frame) {
	e.counters.ipChecked.Add(1)
	if e.classifier == nil || !e.classifier.Classify(f.Src, f.Dst) {
		e.observe(pathIP, "pass")
		return
	}
	p.Mark = e.opts.DirectMark
	e.counters.marked.Add(1)
	if e.metrics != nil {
		e.metrics.GetMarks().Inc()
	}
	e.observe(pathIP, "marked")
}

func (e *Engine) malformed(path string) {
	e.counters.malformed.Add(1)
	e.observe(path, "malformed")
}

func (e *Engine) rewriteFailed(path string, err error) {
	if e.metrics != nil {
		e.metrics.GetRewriteErrors().Inc()
	}
	e.observe(path, "rewrite_error")
	if e.logger.IsDebug() {
		e.logger.Debug("端口改写失败: %v", err)
	}
}

func (e *Engine) observe(path, result string) {
	if e.metrics != nil {
		e.metrics.GetPacketsTotal().WithLabelValues(path, result).Inc()
	}
}

// Stats 获取计数快照
func (e *Engine) Stats() Stats {
	return Stats{
		Packets:    e.counters.packets.Load(),
		Malformed:  e.counters.malformed.Load(),
		DNSQueries: e.counters.dnsQueries.Load(),
		DomainHits: e.counters.domainHits.Load(),
		Redirects:  e.counters.redirects.Load(),
		Restores:   e.counters.restores.Load(),
		IPChecked:  e.counters.ipChecked.Load(),
		Marked:     e.counters.marked.Load(),
	}
}
