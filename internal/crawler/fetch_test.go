package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"lawcrawler/internal/detect"
	"lawcrawler/internal/identity"
	"lawcrawler/internal/shared/types"
)

func newTestFetcher(banThresholdConf types.DetectConf) (*Fetcher, *detect.Analyzer) {
	cfg := types.CrawlerConf{
		RequestTimeoutSec: 5,
		HostRatePerMinute: 6000,
	}
	poolCfg := types.PoolConf{
		FreeDeathThreshold: 5,
		PaidDeathThreshold: 10,
		CooldownSec:        300,
	}
	pool := identity.NewPool(poolCfg, nil, nil)
	analyzer := detect.NewAnalyzer(banThresholdConf)
	return NewFetcher(cfg, poolCfg, pool, analyzer), analyzer
}

var cleanPage = strings.Repeat("正文段落内容。", 300)

func TestFetcherGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("request carries no User-Agent")
		}
		if r.Header.Get("Accept-Language") == "" {
			t.Error("request carries no Accept-Language")
		}
		w.Write([]byte(cleanPage))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testDetectConf())
	resp, err := f.Get(context.Background(), srv.URL, detect.OpSearch)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.Hostile() {
		t.Errorf("clean response classified as %s", resp.Verdict)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		t.Error("body not captured")
	}
	// 池为空时降级为直连
	if resp.Identity == nil || resp.Identity.ID != "direct" {
		t.Errorf("identity = %v, want the direct fallback", resp.Identity)
	}
}

// 封禁级别的响应直接以 ErrBanSignal 返回，调用方不会拿到正文。
func TestFetcherBanSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(testDetectConf())

	// 首个请求即 403：滚动阻断率瞬间到 1.0，级别直接升至 Extreme
	_, err := f.Get(context.Background(), srv.URL, detect.OpSearch)
	if !errors.Is(err, ErrBanSignal) {
		t.Fatalf("err = %v, want ErrBanSignal", err)
	}
}

// 偶发的敌意响应带着检测结论正常返回，由策略决定如何处置。
func TestFetcherHostileBelowBanThreshold(t *testing.T) {
	var block atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if block.Load() {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(cleanPage))
	}))
	defer srv.Close()

	f, analyzer := newTestFetcher(testDetectConf())

	for i := 0; i < 20; i++ {
		if _, err := f.Get(context.Background(), srv.URL, detect.OpDefault); err != nil {
			t.Fatalf("warmup request %d: %v", i, err)
		}
	}

	block.Store(true)
	resp, err := f.Get(context.Background(), srv.URL, detect.OpDefault)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.Hostile() {
		t.Error("403 response not flagged hostile")
	}
	if resp.Verdict != detect.VerdictIPBanned {
		t.Errorf("verdict = %s, want ip_banned", resp.Verdict)
	}
	if analyzer.ShouldTreatAsBanned() {
		t.Error("single hostile response escalated to ban")
	}
}
