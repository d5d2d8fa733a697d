package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dnsSteer/internal/warmup"
)

const namespace = "dnssteer"

// Collector 指标收集器
type Collector struct {
	registry      *prometheus.Registry
	packetsTotal  *prometheus.CounterVec
	domainHits    prometheus.Counter
	redirects     prometheus.Counter
	restores      prometheus.Counter
	marks         prometheus.Counter
	rewriteErrors prometheus.Counter
	tableEntries  *prometheus.GaugeVec
	listReloads   *prometheus.CounterVec
}

// NewCollector 创建新的指标收集器
func NewCollector() *Collector {
	return &Collector{
		registry: prometheus.NewRegistry(),
		packetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packets_total",
				Help:      "Packets processed, by path and outcome",
			},
			[]string{"path", "result"},
		),
		domainHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "domain_hits_total",
				Help:      "DNS queries matching the domain table",
			},
		),
		redirects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dns_redirects_total",
				Help:      "DNS queries redirected to the alternate resolver port",
			},
		),
		restores: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dns_restores_total",
				Help:      "Replies whose source port was restored to the DNS port",
			},
		),
		marks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "direct_marks_total",
				Help:      "Packets tagged with the direct forwarding mark",
			},
		),
		rewriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rewrite_errors_total",
				Help:      "Port rewrites abandoned because of bad offsets",
			},
		),
		tableEntries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_entries",
				Help:      "Entries loaded per table",
			},
			[]string{"table"},
		),
		listReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "list_reloads_total",
				Help:      "List reloads, by status",
			},
			[]string{"status"},
		),
	}
}

// Register 注册所有指标
func (c *Collector) Register() {
	c.registry.MustRegister(collectors.NewGoCollector())
	c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.registry.MustRegister(c.packetsTotal)
	c.registry.MustRegister(c.domainHits)
	c.registry.MustRegister(c.redirects)
	c.registry.MustRegister(c.restores)
	c.registry.MustRegister(c.marks)
	c.registry.MustRegister(c.rewriteErrors)
	c.registry.MustRegister(c.tableEntries)
	c.registry.MustRegister(c.listReloads)
}

// RegisterWarmup 导出预热缓存统计
func (c *Collector) RegisterWarmup(stats func() warmup.Stats) {
	counter := func(name, help string, labels prometheus.Labels, get func(warmup.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "warmup",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(get(stats())) })
	}
	gauge := func(tier string, get func(warmup.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "warmup",
			Name:        "entries",
			Help:        "Current entries per cache tier",
			ConstLabels: prometheus.Labels{"tier": tier},
		}, func() float64 { return float64(get(stats())) })
	}

	c.registry.MustRegister(
		counter("hits_total", "Warm-up cache hits per tier", prometheus.Labels{"tier": "hot"},
			func(s warmup.Stats) uint64 { return s.HotHits }),
		counter("hits_total", "Warm-up cache hits per tier", prometheus.Labels{"tier": "pre"},
			func(s warmup.Stats) uint64 { return s.PreHits }),
		counter("evictions_total", "Entries pushed out of a full cache tier", prometheus.Labels{"tier": "hot"},
			func(s warmup.Stats) uint64 { return s.HotEvicted }),
		counter("evictions_total", "Entries pushed out of a full cache tier", prometheus.Labels{"tier": "pre"},
			func(s warmup.Stats) uint64 { return s.PreEvicted }),
		counter("new_entries_total", "Provisional entries created", nil,
			func(s warmup.Stats) uint64 { return s.NewEntries }),
		counter("promotions_total", "Addresses promoted to the hot tier", nil,
			func(s warmup.Stats) uint64 { return s.Promotions }),
		counter("misses_total", "Lookups not covered by the allow list", nil,
			func(s warmup.Stats) uint64 { return s.Misses }),
		gauge("hot", func(s warmup.Stats) int { return s.HotSize }),
		gauge("pre", func(s warmup.Stats) int { return s.PreSize }),
	)
}

// Handler /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// GetPacketsTotal 获取报文计数指标
func (c *Collector) GetPacketsTotal() *prometheus.CounterVec {
	return c.packetsTotal
}

// GetDomainHits 获取域名命中指标
func (c *Collector) GetDomainHits() prometheus.Counter {
	return c.domainHits
}

// GetRedirects 获取重定向指标
func (c *Collector) GetRedirects() prometheus.Counter {
	return c.redirects
}

// GetRestores 获取回程还原指标
func (c *Collector) GetRestores() prometheus.Counter {
	return c.restores
}

// GetMarks 获取直连标记指标
func (c *Collector) GetMarks() prometheus.Counter {
	return c.marks
}

// GetRewriteErrors 获取改写失败指标
func (c *Collector) GetRewriteErrors() prometheus.Counter {
	return c.rewriteErrors
}

// SetTableEntries 更新表项数
func (c *Collector) SetTableEntries(table string, n int) {
	c.tableEntries.WithLabelValues(table).Set(float64(n))
}

// ObserveReload 记录名单重载结果
func (c *Collector) ObserveReload(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.listReloads.WithLabelValues(status).Inc()
}
