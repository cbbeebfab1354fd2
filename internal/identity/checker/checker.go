package checker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
)

const defaultProbeURL = "https://httpbin.org/ip"

// probeResponse 定义了回显端点 JSON 响应的结构。响应中必须带有出口IP字段，
// 作为请求确实经由该身份离开本机的证据（而不是缓存或本地应答）。
type probeResponse struct {
	IP     string `json:"ip"`
	Origin string `json:"origin"`
}

// Checker 对身份执行有界并发的健康检查。
type Checker struct {
	probeURL    string
	timeout     time.Duration
	concurrency int
}

// New 创建一个新的 Checker 实例。probeURL 为空时使用默认回显端点。
func New(probeURL string, timeout time.Duration, concurrency int) *Checker {
	if probeURL == "" {
		probeURL = defaultProbeURL
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Checker{
		probeURL:    probeURL,
		timeout:     timeout,
		concurrency: concurrency,
	}
}

// Check 对传入的身份执行并发健康检查，返回逐个身份的判定。
// 检查器不回写身份状态，回写由池在自己的锁下完成。
// 超时计为该身份的一次失败，而不是池级错误。
func (c *Checker) Check(ctx context.Context, identities []*model.NetworkIdentity) []model.ProbeResult {
	l := logger.WithComponent("IdentityPool/Checker")
	if len(identities) == 0 {
		return nil
	}

	l.Info().Int("count", len(identities)).Int("concurrency", c.concurrency).Msg("Starting health check batch...")

	var (
		mu      sync.Mutex
		results []model.ProbeResult
		wg      sync.WaitGroup
	)
	semaphore := make(chan struct{}, c.concurrency)

	for _, ident := range identities {
		if ident.Kind == model.KindDirect {
			continue
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(ident *model.NetworkIdentity) {
			defer wg.Done()
			defer func() { <-semaphore }()
			res := c.checkSingle(ctx, ident)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}(ident)
	}

	wg.Wait()
	l.Info().Int("checked", len(results)).Msg("Health check batch finished.")
	return results
}

// checkSingle 通过身份拉取回显端点，验证出口证据后给出判定。
func (c *Checker) checkSingle(ctx context.Context, ident *model.NetworkIdentity) model.ProbeResult {
	l := logger.WithComponent("IdentityPool/Checker")
	start := time.Now()

	err := c.probe(ctx, ident)
	latency := time.Since(start)

	if err != nil {
		l.Debug().Str("identity", ident.ID).Err(err).Msg("Health check failed.")
		return model.ProbeResult{ID: ident.ID}
	}

	l.Debug().Str("identity", ident.ID).Dur("latency", latency).Msg("Health check passed.")
	return model.ProbeResult{ID: ident.ID, OK: true, Latency: latency}
}

func (c *Checker) probe(ctx context.Context, ident *model.NetworkIdentity) error {
	client, err := c.clientFor(ident)
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.probeURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	var body probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("probe response is not the expected JSON: %w", err)
	}
	if body.IP == "" && body.Origin == "" {
		return fmt.Errorf("probe response carries no egress IP evidence")
	}
	return nil
}

// clientFor 按身份协议构造 HTTP 客户端。
func (c *Checker) clientFor(ident *model.NetworkIdentity) (*http.Client, error) {
	dialer := &net.Dialer{
		Timeout:   c.timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       c.timeout,
		TLSHandshakeTimeout:   c.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
	}

	switch ident.Protocol {
	case "socks4":
		// SOCKS4 没有密码字段，x/net 的拨号器也不支持它
		dial := socks.Dial(fmt.Sprintf("socks4://%s:%d?timeout=%ds",
			ident.Address, ident.Port, int(c.timeout.Seconds())))
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return dial(network, addr)
		}
	case "socks5":
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
		Timeout:   c.timeout,
	}, nil
}
