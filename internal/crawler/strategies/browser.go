package strategies

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/detect"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

const defaultBrowserPortal = "https://flk.npc.gov.cn"

// Browser 驱动真实浏览器完成检索和取详情。最重的策略：每个页面都执行
// 完整的 JS，能越过纯 HTTP 策略过不去的挑战页，因此放在链的最后，
// 也是封禁升级的落点。
type Browser struct {
	analyzer  *detect.Analyzer
	portalURL string
	timeout   time.Duration

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewBrowser 创建浏览器策略。portalURL 为空时使用官方库门户。
func NewBrowser(analyzer *detect.Analyzer, portalURL string, timeout time.Duration) *Browser {
	if portalURL == "" {
		portalURL = defaultBrowserPortal
	}
	return &Browser{
		analyzer:  analyzer,
		portalURL: strings.TrimRight(portalURL, "/"),
		timeout:   timeout,
	}
}

func (b *Browser) Name() string { return "browser" }

// OpenSession 启动无头浏览器并打开一个标签页。
func (b *Browser) OpenSession(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tabCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		// 隐藏 webdriver 标记，挑战页会检查它
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1366, 768),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36"),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "zh-CN,zh;q=0.9,en;q=0.8",
		}),
	)
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	b.allocCancel = allocCancel
	b.tabCtx = tabCtx
	b.tabCancel = tabCancel
	l := logger.WithComponent("Crawler/Browser")
	l.Info().Msg("Browser session opened.")
	return nil
}

// CloseSession 关闭标签页和浏览器进程。可重复调用。
func (b *Browser) CloseSession() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tabCancel != nil {
		b.tabCancel()
		b.tabCancel = nil
		b.tabCtx = nil
	}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	l := logger.WithComponent("Crawler/Browser")
	l.Info().Msg("Browser session closed.")
}

// Search 在门户检索页输入关键词并收割结果列表。
func (b *Browser) Search(ctx context.Context, keyword string) ([]match.Candidate, error) {
	searchURL := fmt.Sprintf("%s/?fkey=%s", b.portalURL, url.QueryEscape(keyword))

	html, err := b.renderPage(searchURL, detect.OpSearch)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered search page: %w", err)
	}

	var candidates []match.Candidate
	doc.Find("ul.law-list li, li.law-item").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find("a").First()
		title := strings.TrimSpace(anchor.Text())
		href, ok := anchor.Attr("href")
		if title == "" || !ok {
			return
		}
		candidates = append(candidates, match.Candidate{
			Title:  title,
			Ref:    b.absoluteURL(href),
			Status: strings.TrimSpace(row.Find(".status, .law-status").First().Text()),
		})
	})

	if len(candidates) == 0 {
		return nil, crawler.ErrNoMatch
	}
	return candidates, nil
}

// FetchDetail 渲染文档页并带回完整 HTML。
func (b *Browser) FetchDetail(ctx context.Context, cand *match.Candidate) (*types.Record, error) {
	html, err := b.renderPage(cand.Ref, detect.OpDetail)
	if err != nil {
		return nil, err
	}

	title := cand.Title
	status := cand.Status
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		if pageTitle := firstNonEmptyText(doc, "h1", "title"); pageTitle != "" {
			title = pageTitle
		}
	}

	return &types.Record{
		Title:     title,
		Status:    status,
		SourceURL: cand.Ref,
		Source:    b.Name(),
		Content:   []byte(html),
		FetchedAt: time.Now(),
	}, nil
}

// renderPage 导航到页面，等待渲染完成后取回 HTML，并交给检测器分类。
// 渲染延迟同样受自适应延迟控制。
func (b *Browser) renderPage(pageURL string, kind detect.OperationKind) (string, error) {
	b.mu.Lock()
	tabCtx := b.tabCtx
	b.mu.Unlock()
	if tabCtx == nil {
		return "", errors.New("browser session is not open")
	}

	if delay := b.analyzer.AdaptiveDelay(kind); delay > 0 {
		time.Sleep(delay)
	}

	runCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()

	var html string
	start := time.Now()
	err := chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	elapsed := time.Since(start)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", pageURL, err)
	}

	// 浏览器拿不到原始状态码和响应头，只能按正文和时延分类
	verdict, _ := b.analyzer.Classify(pageURL, 200, nil, []byte(html), elapsed)
	if verdict != detect.VerdictNormal {
		if b.analyzer.ShouldTreatAsBanned() {
			return "", crawler.ErrBanSignal
		}
		return "", fmt.Errorf("rendered page classified as %s", verdict)
	}
	return html, nil
}

func (b *Browser) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return b.portalURL + "/" + strings.TrimLeft(href, "/")
}
