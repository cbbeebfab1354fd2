package crawler

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
	"h12.io/socks"

	"lawcrawler/internal/detect"
	"lawcrawler/internal/identity"
	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// 单次响应体读取上限。法规全文在百 KB 量级，超过它的一律截断。
const maxBodyBytes = 8 << 20

// userAgents 是轮换的桌面浏览器标识。
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Response 是一次受控请求的结果。Verdict 已由检测器分类，
// 身份上报（成功/失败/隔离）也已完成，调用方不需要再做记账。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Verdict    detect.Verdict
	Identity   *model.NetworkIdentity
}

// Hostile reports whether the response was classified as an anti-crawler
// reaction rather than real content.
func (r *Response) Hostile() bool {
	return r.Verdict != detect.VerdictNormal
}

// Fetcher 是所有 HTTP 型策略共用的受控请求客户端。每个请求按顺序经过:
// 站点级速率限制 → 自适应延迟 → 身份选择 → 指纹伪装的传输层 →
// 响应检测分类 → 身份上报。
type Fetcher struct {
	cfg        types.CrawlerConf
	pool       *identity.Pool
	analyzer   *detect.Analyzer
	preferPaid bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rng      *rand.Rand
}

// NewFetcher 创建共享请求客户端。
func NewFetcher(cfg types.CrawlerConf, poolCfg types.PoolConf, pool *identity.Pool, analyzer *detect.Analyzer) *Fetcher {
	return &Fetcher{
		cfg:        cfg,
		pool:       pool,
		analyzer:   analyzer,
		preferPaid: poolCfg.PreferPaid,
		limiters:   make(map[string]*rate.Limiter),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get 对 URL 执行一次受控 GET。
func (f *Fetcher) Get(ctx context.Context, rawURL string, kind detect.OperationKind) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return f.Do(ctx, req, kind)
}

// Do 执行一次受控请求。检测到封禁信号时当前身份被隔离，
// 并返回 ErrBanSignal 供编排器升级策略。
func (f *Fetcher) Do(ctx context.Context, req *http.Request, kind detect.OperationKind) (*Response, error) {
	l := logger.WithComponent("Crawler/Fetch")

	if err := f.limiterFor(req.URL.Hostname()).Wait(ctx); err != nil {
		return nil, err
	}
	if delay := f.analyzer.AdaptiveDelay(kind); delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	// 采集路径上顺带触发池的失活复检，不阻塞本次请求
	f.pool.RefreshInBackground(ctx)

	ident := f.pool.Acquire(f.preferPaid)
	if ident == nil {
		// 池空时降级为直连，而不是让采集停摆
		ident = model.Direct()
	}

	client, err := f.clientFor(ident)
	if err != nil {
		f.pool.ReportFailure(ident)
		return nil, err
	}
	defer client.CloseIdleConnections()

	f.decorate(req)

	start := time.Now()
	resp, err := client.Do(req.WithContext(ctx))
	elapsed := time.Since(start)
	if err != nil {
		f.pool.ReportFailure(ident)
		return nil, fmt.Errorf("request via %s failed: %w", ident.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		f.pool.ReportFailure(ident)
		return nil, fmt.Errorf("read body via %s failed: %w", ident.ID, err)
	}

	verdict, level := f.analyzer.Classify(req.URL.String(), resp.StatusCode, resp.Header, body, elapsed)
	if verdict == detect.VerdictNormal {
		f.pool.ReportSuccess(ident, elapsed)
	} else {
		f.pool.ReportFailure(ident)
		l.Warn().
			Str("url", req.URL.String()).
			Str("identity", ident.ID).
			Str("verdict", verdict.String()).
			Str("level", level.String()).
			Msg("Hostile response.")
		if f.analyzer.ShouldTreatAsBanned() {
			f.pool.Quarantine(ident)
			return nil, ErrBanSignal
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		Verdict:    verdict,
		Identity:   ident,
	}, nil
}

func (f *Fetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	limiter, ok := f.limiters[host]
	if !ok {
		perSec := rate.Limit(float64(f.cfg.HostRatePerMinute) / 60.0)
		limiter = rate.NewLimiter(perSec, 2)
		f.limiters[host] = limiter
	}
	return limiter
}

// decorate 补齐浏览器式请求头。调用方已设置的头不被覆盖。
func (f *Fetcher) decorate(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		f.mu.Lock()
		ua := userAgents[f.rng.Intn(len(userAgents))]
		f.mu.Unlock()
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	}
}

// clientFor 按身份构造传输层。直连的 TLS 握手使用 Chrome 指纹，
// 避免 Go 默认 ClientHello 被 JA3 规则直接识别。
func (f *Fetcher) clientFor(ident *model.NetworkIdentity) (*http.Client, error) {
	timeout := time.Duration(f.cfg.RequestTimeoutSec) * time.Second
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       timeout,
		TLSHandshakeTimeout:   timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch {
	case ident.Kind == model.KindDirect:
		transport.DialContext = dialer.DialContext
		transport.DialTLSContext = camouflagedTLSDial(dialer)
	case ident.Protocol == "socks4":
		// SOCKS4 没有密码字段，x/net 的拨号器也不支持它
		dial := socks.Dial(fmt.Sprintf("socks4://%s:%d?timeout=%ds",
			ident.Address, ident.Port, f.cfg.RequestTimeoutSec))
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}
	case ident.Protocol == "socks5":
		proxyAddr := fmt.Sprintf("%s:%d", ident.Address, ident.Port)
		var auth *proxy.Auth
		if ident.Username != "" {
			auth = &proxy.Auth{User: ident.Username, Password: ident.Password}
		}
		socksDialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS dialer: %w", err)
		}
		contextDialer, ok := socksDialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS dialer does not support context dialing")
		}
		transport.DialContext = contextDialer.DialContext
	default:
		proxyURL, err := url.Parse(ident.ProxyURL())
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL for %s: %w", ident.ID, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

// camouflagedTLSDial 返回使用 Chrome ClientHello 指纹的 TLS 拨号函数。
// ALPN 固定为 http/1.1：Transport 不会说 h2，不能让服务端协商出来。
func camouflagedTLSDial(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		raw, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			raw.Close()
			return nil, err
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}

		uconn := utls.UClient(raw, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: true,
		}, utls.HelloCustom)
		if err := uconn.ApplyPreset(&spec); err != nil {
			raw.Close()
			return nil, err
		}
		if err := uconn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		return uconn, nil
	}
}
