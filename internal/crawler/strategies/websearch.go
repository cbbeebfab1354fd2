package strategies

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/detect"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

const defaultSearchEngineBase = "https://www.bing.com"

// 检索结果只保留这些域名后缀下的页面，其余一律视为噪声。
var trustedHostSuffixes = []string{".gov.cn", ".npc.gov.cn", ".court.gov.cn"}

// WebSearch 通过通用搜索引擎发现文档页面。召回广但噪声大，
// 解析依赖结果页的 DOM 结构，作为官方库失败后的回退路径。
type WebSearch struct {
	fetcher *crawler.Fetcher
	baseURL string
}

// NewWebSearch 创建搜索引擎策略。baseURL 为空时使用 Bing。
func NewWebSearch(fetcher *crawler.Fetcher, baseURL string) *WebSearch {
	if baseURL == "" {
		baseURL = defaultSearchEngineBase
	}
	return &WebSearch{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (w *WebSearch) Name() string { return "web-search" }

// Search 对引擎做精确短语检索，并将非政务域名的结果行过滤掉。
func (w *WebSearch) Search(ctx context.Context, keyword string) ([]match.Candidate, error) {
	query := fmt.Sprintf(`"%s" 全文`, keyword)
	searchURL := fmt.Sprintf("%s/search?q=%s", w.baseURL, url.QueryEscape(query))

	resp, err := w.fetcher.Get(ctx, searchURL, detect.OpSearch)
	if err != nil {
		return nil, err
	}
	if resp.Hostile() {
		return nil, fmt.Errorf("search engine response classified as %s", resp.Verdict)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search result page: %w", err)
	}

	var candidates []match.Candidate
	doc.Find("li.b_algo").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("h2 a").First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		title := strings.TrimSpace(anchor.Text())
		if title == "" || !trustedResultURL(href) {
			return
		}
		candidates = append(candidates, match.Candidate{
			Title: title,
			Ref:   href,
		})
	})

	l := logger.WithComponent("Crawler/WebSearch")
	l.Debug().
		Str("keyword", keyword).
		Int("candidates", len(candidates)).
		Msg("Search finished.")

	if len(candidates) == 0 {
		return nil, crawler.ErrNoMatch
	}
	return candidates, nil
}

// FetchDetail 拉取结果页并提取正文标题。
func (w *WebSearch) FetchDetail(ctx context.Context, cand *match.Candidate) (*types.Record, error) {
	resp, err := w.fetcher.Get(ctx, cand.Ref, detect.OpDetail)
	if err != nil {
		return nil, err
	}
	if resp.Hostile() {
		return nil, fmt.Errorf("result page %s classified as %s", cand.Ref, resp.Verdict)
	}

	title := cand.Title
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body)); err == nil {
		if pageTitle := firstNonEmptyText(doc, "h1", "title"); pageTitle != "" {
			title = pageTitle
		}
	}

	return &types.Record{
		Title:     title,
		SourceURL: cand.Ref,
		Source:    w.Name(),
		Content:   resp.Body,
		FetchedAt: time.Now(),
	}, nil
}

func trustedResultURL(href string) bool {
	u, err := url.Parse(href)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := u.Hostname()
	for _, suffix := range trustedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// firstNonEmptyText 按选择器顺序返回第一个非空文本。
func firstNonEmptyText(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
