// Package steer 组装分流引擎：加载名单、创建缓存与分类器，并负责定期重载
package steer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dnsSteer/internal/admin"
	"dnsSteer/internal/classifier"
	"dnsSteer/internal/config"
	"dnsSteer/internal/dispatch"
	"dnsSteer/internal/domain"
	"dnsSteer/internal/iplist"
	"dnsSteer/internal/metrics"
	"dnsSteer/internal/utils"
	"dnsSteer/internal/warmup"
)

const statsInterval = time.Minute

// Service 分流服务
type Service struct {
	cfg        *config.Config
	logger     *utils.Logger
	metrics    *metrics.Collector
	domains    *domain.Table
	allow      *iplist.List
	deny       *iplist.List
	cache      *warmup.Cache
	classifier *classifier.Classifier
	engine     *dispatch.Engine
}

// New 按配置创建服务，clock 为 nil 时使用单调时钟
func New(cfg *config.Config, logger *utils.Logger, collector *metrics.Collector, clock warmup.Clock) (*Service, error) {
	mode, err := domain.ParseScanMode(cfg.KeyScanMode)
	if err != nil {
		return nil, utils.NewSteerError(utils.ErrCodeConfig, "invalid key_scan_mode", err)
	}

	cache, err := warmup.New(warmup.Options{
		HotSize:        cfg.Cache.HotSize,
		PreSize:        cfg.Cache.PreSize,
		PromotePackets: cfg.Cache.PromotePackets,
		PromoteAfter:   cfg.PromoteAfterDuration(),
		Clock:          clock,
	})
	if err != nil {
		return nil, utils.NewSteerError(utils.ErrCodeConfig, "failed to create warm-up cache", err)
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: collector,
		domains: domain.NewTable(),
		allow:   iplist.New(),
		deny:    iplist.New(),
		cache:   cache,
	}
	if err := s.Reload(); err != nil {
		cache.Close()
		return nil, err
	}

	s.classifier = classifier.New(s.deny, s.allow, cache, classifier.Options{IncludeLoopback: cfg.IncludeLoopback})
	s.engine = dispatch.NewEngine(s.domains, s.classifier, dispatch.Options{
		DNSPort:           cfg.DNSPort,
		AltDNSPort:        cfg.AltDNSPort,
		DirectMark:        cfg.DirectMark,
		SteerAllProtocols: cfg.SteerAllProtocols,
		Builder: domain.Builder{
			Mode:        mode,
			StopAtSpace: cfg.StopAtSpace,
			FoldCase:    cfg.FoldCase,
		},
	}, collector, logger)

	if collector != nil {
		collector.RegisterWarmup(cache.Stats)
	}

	if cfg.IncludeLoopback {
		logger.Info("回环地址 127.0.0.0/8 按内网地址处理")
	} else {
		logger.Info("回环地址 127.0.0.0/8 不按内网地址处理")
	}
	logger.Info("DNS 端口 %d -> %d, 直连标记 0x%x, 扫描方式 %s", cfg.DNSPort, cfg.AltDNSPort, cfg.DirectMark, mode)
	return s, nil
}

// Reload 重新加载全部名单，任一名单失败时保留该名单的旧内容
func (s *Service) Reload() error {
	var errs []error

	if err := s.reloadDomains(); err != nil {
		errs = append(errs, err)
	}

	deny, stats, err := iplist.LoadFile(s.cfg.DenyListFile, s.logger)
	if err != nil {
		errs = append(errs, err)
	} else {
		s.deny.Replace(deny)
		s.logger.Info("拒绝名单加载完成: %d 条, 跳过 %d 条", stats.Added, stats.Skipped)
	}

	allow, stats, err := iplist.LoadFile(s.cfg.AllowListFile, s.logger)
	if err != nil {
		errs = append(errs, err)
	} else {
		s.logger.Info("直连名单加载完成: %d 条, 跳过 %d 条", stats.Added, stats.Skipped)
		// 内容不变时保留预热状态；变化后已晋升的地址需要按新名单重新验证
		if allow.Fingerprint() != s.allow.Fingerprint() {
			s.allow.Replace(allow)
			s.cache.Reset()
			s.logger.Info("直连名单已变化，预热缓存已清空")
		}
	}

	if s.metrics != nil {
		s.metrics.SetTableEntries("domain", s.domains.Len())
		s.metrics.SetTableEntries("allow", s.allow.Len())
		s.metrics.SetTableEntries("deny", s.deny.Len())
	}

	err = errors.Join(errs...)
	if s.metrics != nil {
		s.metrics.ObserveReload(err)
	}
	if err != nil {
		return utils.NewSteerError(utils.ErrCodeProvision, "failed to reload lists", err)
	}
	return nil
}

func (s *Service) reloadDomains() error {
	table, stats, err := domain.LoadListFile(s.cfg.DomainListFile, s.logger)
	if err != nil {
		return err
	}
	s.logger.Info("域名名单加载完成: %d 条, 跳过 %d 条", stats.Added, stats.Skipped)

	if s.cfg.GeositeFile != "" {
		gs, err := domain.LoadGeositeFile(s.cfg.GeositeFile, s.cfg.GeositeGroup, table, s.logger)
		if err != nil {
			return fmt.Errorf("geosite group %s: %w", s.cfg.GeositeGroup, err)
		}
		s.logger.Info("geosite %s 加载完成: %d 条, 跳过 %d 条", s.cfg.GeositeGroup, gs.Added, gs.Skipped)
	}

	s.domains.Replace(table)
	return nil
}

// RunBackgroundTasks 定期重载名单并输出统计，ctx 取消后返回
func (s *Service) RunBackgroundTasks(ctx context.Context) {
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	var reloadC <-chan time.Time
	if d := s.cfg.ListRefreshDuration(); d > 0 {
		reloadTicker := time.NewTicker(d)
		defer reloadTicker.Stop()
		reloadC = reloadTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-reloadC:
			if err := s.Reload(); err != nil {
				s.logger.Error("名单重载失败: %v", err)
			}
		case <-statsTicker.C:
			s.LogStats()
		}
	}
}

// LogStats 输出引擎和缓存统计
func (s *Service) LogStats() {
	es := s.engine.Stats()
	cs := s.cache.Stats()
	s.logger.Info("报文 %d (异常 %d), DNS 改写 %d, 回程还原 %d, 直连标记 %d",
		es.Packets, es.Malformed, es.Redirects, es.Restores, es.Marked)
	s.logger.Info("预热缓存: 快车道 %d/%d 命中 %d 挤出 %d, 预热表 %d/%d 命中 %d 挤出 %d, 晋升 %d",
		cs.HotSize, cs.HotMax, cs.HotHits, cs.HotEvicted, cs.PreSize, cs.PreMax, cs.PreHits, cs.PreEvicted, cs.Promotions)
}

// Engine 分流引擎
func (s *Service) Engine() *dispatch.Engine {
	return s.engine
}

// Cache 预热缓存
func (s *Service) Cache() *warmup.Cache {
	return s.cache
}

// AdminDeps 管理端依赖
func (s *Service) AdminDeps() admin.Deps {
	return admin.Deps{
		Engine:     s.engine,
		Domains:    s.domains,
		Allow:      s.allow,
		Deny:       s.deny,
		Cache:      s.cache,
		Classifier: s.classifier,
		Metrics:    s.metrics,
		Reload:     s.Reload,
	}
}

// Close 释放缓存
func (s *Service) Close() {
	s.cache.Close()
}
