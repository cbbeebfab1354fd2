package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
)

// KuaidailiSource 实现了 Source 接口，用于抓取 www.kuaidaili.com 的免费代理。
type KuaidailiSource struct {
	collector *colly.Collector
}

// tempKuaidailiProxy 定义了用于解析 JS 变量中 JSON 的临时结构体。
type tempKuaidailiProxy struct {
	IP   string `json:"ip"`
	Port string `json:"port"`
}

// NewKuaidailiSource 创建一个新的 KuaidailiSource 实例。
func NewKuaidailiSource() Source {
	c := colly.NewCollector(
		colly.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	c.SetRequestTimeout(20 * time.Second)

	return &KuaidailiSource{
		collector: c,
	}
}

// Name 返回发现源的名称。
func (s *KuaidailiSource) Name() string {
	return "kuaidaili.com"
}

// Scrape 执行抓取操作。
func (s *KuaidailiSource) Scrape() ([]*model.NetworkIdentity, error) {
	l := logger.WithComponent("IdentityPool/Feed")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	var identities []*model.NetworkIdentity
	var scrapeErr error
	var mu sync.Mutex // 使用互斥锁来安全地追加到 identities 切片

	re := regexp.MustCompile(`(var|let|const)\s+fpsList\s*=\s*(\[.*?\]);`)

	s.collector.OnResponse(func(r *colly.Response) {
		matches := re.FindSubmatch(r.Body)
		if len(matches) < 3 {
			l.Warn().Str("url", r.Request.URL.String()).Msg("Could not find fpsList variable in response body.")
			return
		}

		jsonBody := matches[2]
		var tempList []*tempKuaidailiProxy
		if err := json.Unmarshal(jsonBody, &tempList); err != nil {
			l.Warn().Err(err).Str("url", r.Request.URL.String()).Msg("Failed to unmarshal fpsList JSON.")
			scrapeErr = err
			return
		}

		mu.Lock()
		defer mu.Unlock()

		for _, p := range tempList {
			address := strings.TrimSpace(p.IP)
			portStr := strings.TrimSpace(p.Port)

			port, err := strconv.Atoi(portStr)
			if err != nil {
				l.Warn().Str("address", address).Str("port", portStr).Str("source", s.Name()).Msg("Failed to parse port, skipping.")
				continue
			}

			identities = append(identities, newUntrusted(address, port, "http", s.Name()))
		}
	})

	s.collector.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		scrapeErr = err
	})

	for i := 1; i <= 2; i++ {
		url := fmt.Sprintf("https://www.kuaidaili.com/free/intr/%d/", i)
		l.Debug().Str("url", url).Msg("Visiting page...")
		s.collector.Visit(url)
		time.Sleep(2 * time.Second) // 在请求之间添加短暂延迟，避免对目标服务器造成过大压力
	}

	s.collector.Wait() // 等待所有排队的 Visit 请求完成

	if scrapeErr != nil {
		return nil, scrapeErr
	}

	l.Info().Int("count", len(identities)).Str("source", s.Name()).Msg("Scrape finished.")
	return identities, nil
}
