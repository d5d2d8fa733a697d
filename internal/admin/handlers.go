package admin

import (
	"encoding/json"
	"net/http"
	"net/netip"
	"strings"

	"github.com/go-chi/chi/v5"

	"dnsSteer/internal/dispatch"
	"dnsSteer/internal/domain"
	"dnsSteer/internal/iplist"
	"dnsSteer/internal/utils"
	"dnsSteer/internal/warmup"
)

// TableSizes 各表条目数
type TableSizes struct {
	Domains int `json:"domains"`
	Allow   int `json:"allow"`
	Deny    int `json:"deny"`
}

// StatsResponse /stats 响应
type StatsResponse struct {
	Engine dispatch.Stats `json:"engine"`
	Warmup warmup.Stats   `json:"warmup"`
	Tables TableSizes     `json:"tables"`
}

// DomainLookup /lookup/domain 响应
type DomainLookup struct {
	Domain  string `json:"domain"`
	Key     string `json:"key"`
	Matched bool   `json:"matched"`
	Suffix  string `json:"suffix,omitempty"`
}

// IPLookup /lookup/ip 响应
type IPLookup struct {
	Addr        string `json:"addr"`
	Private     bool   `json:"private"`
	Denied      bool   `json:"denied"`
	Allowed     bool   `json:"allowed"`
	Promoted    bool   `json:"promoted"`
	Provisional uint32 `json:"provisional_count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, msg string) {
	writeJSON(w, statusCode, errorResponse{Error: msg})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse
	if s.deps.Engine != nil {
		resp.Engine = s.deps.Engine.Stats()
	}
	if s.deps.Cache != nil {
		resp.Warmup = s.deps.Cache.Stats()
	}
	if s.deps.Domains != nil {
		resp.Tables.Domains = s.deps.Domains.Len()
	}
	if s.deps.Allow != nil {
		resp.Tables.Allow = s.deps.Allow.Len()
	}
	if s.deps.Deny != nil {
		resp.Tables.Deny = s.deps.Deny.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookupDomain(w http.ResponseWriter, r *http.Request) {
	name := utils.NormalizeDomain(utils.SanitizeDomainName(chi.URLParam(r, "name")))
	if name == "" || s.deps.Domains == nil {
		writeError(w, http.StatusBadRequest, "invalid domain")
		return
	}
	key, err := domain.KeyFromDomain(name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := DomainLookup{Domain: name, Key: key.String()}
	if _, n, ok := s.deps.Domains.Match(key); ok {
		resp.Matched = true
		// 匹配部分是键的前 n 字节，反转回来即命中的后缀
		suffix := key
		suffix.PrefixBits = uint32(8 * n)
		resp.Suffix = strings.TrimPrefix(suffix.String(), ".")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookupIP(w http.ResponseWriter, r *http.Request) {
	a, err := netip.ParseAddr(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	v, ok := iplist.FromAddr(a)
	if !ok {
		writeError(w, http.StatusBadRequest, "only IPv4 is supported")
		return
	}

	resp := IPLookup{Addr: a.Unmap().String()}
	if s.deps.Classifier != nil {
		resp.Private = s.deps.Classifier.IsPrivate(v)
	}
	if s.deps.Deny != nil {
		resp.Denied = s.deps.Deny.Contains(v)
	}
	if s.deps.Allow != nil {
		resp.Allowed = s.deps.Allow.Contains(v)
	}
	if s.deps.Cache != nil {
		resp.Promoted = s.deps.Cache.Promoted(v)
		if e, ok := s.deps.Cache.Provisional(v); ok {
			resp.Provisional = e.Count.Load()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reload == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}
	if err := s.deps.Reload(); err != nil {
		s.logger.Error("名单重载失败: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.handleStats(w, r)
}
