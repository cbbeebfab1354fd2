package feed

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lawcrawler/internal/identity/model"
	"lawcrawler/internal/shared/logger"
)

// ProxyListDownloadSource 实现了 Source 接口
type ProxyListDownloadSource struct {
	client *http.Client
}

// NewProxyListDownloadSource 创建一个新的实例
func NewProxyListDownloadSource() Source {
	return &ProxyListDownloadSource{
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (s *ProxyListDownloadSource) Name() string {
	return "proxy-list.download"
}

func (s *ProxyListDownloadSource) Scrape() ([]*model.NetworkIdentity, error) {
	l := logger.WithComponent("IdentityPool/Feed")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	var identities []*model.NetworkIdentity
	url := "https://www.proxy-list.download/HTTP?country=CN"

	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	doc.Find("table#example1 tbody#tabli tr").Each(func(j int, sel *goquery.Selection) {
		address := strings.TrimSpace(sel.Find("td").Eq(0).Text())
		portStr := strings.TrimSpace(sel.Find("td").Eq(1).Text())

		if address == "" || portStr == "" {
			return
		}

		port, err := strconv.Atoi(portStr)
		if err != nil {
			l.Warn().Str("address", address).Str("port", portStr).Msg("Failed to parse port, skipping.")
			return
		}

		// This source lists HTTP proxies only.
		identities = append(identities, newUntrusted(address, port, "http", s.Name()))
	})

	l.Info().Int("count", len(identities)).Str("source", s.Name()).Msg("Scrape finished.")
	return identities, nil
}
