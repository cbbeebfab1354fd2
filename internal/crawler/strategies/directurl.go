package strategies

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/detect"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

// DirectURL 从人工维护的地址登记表直接拉取文档，跳过检索环节。
// 登记表命中时它是最便宜的路径；未登记的目标立刻落到下一个策略。
type DirectURL struct {
	fetcher  *crawler.Fetcher
	registry map[string]types.KnownURLEntry // 规整名称 → 登记项
}

// NewDirectURL 用 known_urls.json 的登记项构建策略。
func NewDirectURL(fetcher *crawler.Fetcher, entries []*types.KnownURLEntry) *DirectURL {
	registry := make(map[string]types.KnownURLEntry, len(entries))
	for _, entry := range entries {
		if entry == nil || entry.Name == "" || entry.URL == "" {
			continue
		}
		registry[match.Normalize(entry.Name)] = *entry
	}
	l := logger.WithComponent("Crawler/DirectURL")
	l.Info().
		Int("entries", len(registry)).
		Msg("Known URL registry loaded.")
	return &DirectURL{
		fetcher:  fetcher,
		registry: registry,
	}
}

func (d *DirectURL) Name() string { return "direct-url" }

// Search 只做登记表查找，不发网络请求。
func (d *DirectURL) Search(_ context.Context, keyword string) ([]match.Candidate, error) {
	entry, ok := d.registry[match.Normalize(keyword)]
	if !ok {
		return nil, crawler.ErrNoMatch
	}
	return []match.Candidate{{
		Title: entry.Name,
		Ref:   entry.URL,
	}}, nil
}

// FetchDetail 拉取登记的地址并提取页面标题。
func (d *DirectURL) FetchDetail(ctx context.Context, cand *match.Candidate) (*types.Record, error) {
	resp, err := d.fetcher.Get(ctx, cand.Ref, detect.OpDetail)
	if err != nil {
		return nil, err
	}
	if resp.Hostile() {
		return nil, fmt.Errorf("registered URL %s classified as %s", cand.Ref, resp.Verdict)
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
		Source:    d.Name(),
		Content:   resp.Body,
		FetchedAt: time.Now(),
	}, nil
}
