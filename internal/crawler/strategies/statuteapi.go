package strategies

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/detect"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/logger"
	"lawcrawler/internal/shared/types"
)

const defaultStatuteAPIBase = "https://flk.npc.gov.cn"

// 官方库的 status 字段取值表。
var statuteStatusNames = map[string]string{
	"1": "现行有效",
	"3": "已修改",
	"5": "已废止",
	"9": "尚未生效",
}

var htmlTags = regexp.MustCompile(`<[^>]+>`)

// StatuteAPI 通过国家法律法规数据库的检索接口获取文档。结构化 JSON
// 接口，最快且解析最可靠，默认作为首选策略。
type StatuteAPI struct {
	fetcher *crawler.Fetcher
	baseURL string
}

// NewStatuteAPI 创建官方库策略。baseURL 为空时使用生产端点。
func NewStatuteAPI(fetcher *crawler.Fetcher, baseURL string) *StatuteAPI {
	if baseURL == "" {
		baseURL = defaultStatuteAPIBase
	}
	return &StatuteAPI{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *StatuteAPI) Name() string { return "statute-api" }

type statuteSearchResponse struct {
	Result struct {
		Data []struct {
			ID      string `json:"id"`
			Title   string `json:"title"`
			Publish string `json:"publish"`
			Status  string `json:"status"`
		} `json:"data"`
		TotalSizes int `json:"totalSizes"`
	} `json:"result"`
}

type statuteDetailResponse struct {
	Result struct {
		Title   string `json:"title"`
		Number  string `json:"number"`
		Status  string `json:"status"`
		Content string `json:"content"`
	} `json:"result"`
}

// Search 按标题模糊检索。
func (s *StatuteAPI) Search(ctx context.Context, keyword string) ([]match.Candidate, error) {
	searchURL := fmt.Sprintf("%s/api/?type=flfg&searchType=title;vague&page=1&size=10&fkey=%s",
		s.baseURL, url.QueryEscape(keyword))

	resp, err := s.fetcher.Get(ctx, searchURL, detect.OpSearch)
	if err != nil {
		return nil, err
	}
	if resp.Hostile() {
		return nil, fmt.Errorf("statute API search classified as %s", resp.Verdict)
	}

	var parsed statuteSearchResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("statute API returned unparseable search payload: %w", err)
	}
	if len(parsed.Result.Data) == 0 {
		return nil, crawler.ErrNoMatch
	}

	candidates := make([]match.Candidate, 0, len(parsed.Result.Data))
	for _, item := range parsed.Result.Data {
		candidates = append(candidates, match.Candidate{
			Title:      stripTags(item.Title),
			Ref:        item.ID,
			Status:     statuteStatusNames[item.Status],
			PublishSeq: parsePublishSeq(item.Publish),
		})
	}

	l := logger.WithComponent("Crawler/StatuteAPI")
	l.Debug().
		Str("keyword", keyword).
		Int("candidates", len(candidates)).
		Msg("Search finished.")
	return candidates, nil
}

// FetchDetail 按检索返回的文档 ID 拉取全文。
func (s *StatuteAPI) FetchDetail(ctx context.Context, cand *match.Candidate) (*types.Record, error) {
	detailURL := fmt.Sprintf("%s/api/detail?id=%s", s.baseURL, url.QueryEscape(cand.Ref))

	resp, err := s.fetcher.Get(ctx, detailURL, detect.OpDetail)
	if err != nil {
		return nil, err
	}
	if resp.Hostile() {
		return nil, fmt.Errorf("statute API detail classified as %s", resp.Verdict)
	}

	var parsed statuteDetailResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, fmt.Errorf("statute API returned unparseable detail payload: %w", err)
	}
	if parsed.Result.Content == "" {
		return nil, fmt.Errorf("statute API detail for %s carries no content", cand.Ref)
	}

	title := stripTags(parsed.Result.Title)
	if title == "" {
		title = cand.Title
	}
	status := parsed.Result.Status
	if status == "" {
		status = cand.Status
	}

	return &types.Record{
		Title:     title,
		Number:    parsed.Result.Number,
		Status:    status,
		SourceURL: fmt.Sprintf("%s/detail2.html?%s", s.baseURL, cand.Ref),
		Source:    s.Name(),
		Content:   []byte(parsed.Result.Content),
		FetchedAt: time.Now(),
	}, nil
}

func stripTags(s string) string {
	return strings.TrimSpace(htmlTags.ReplaceAllString(s, ""))
}

func parsePublishSeq(publish string) int64 {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(publish))
	if err != nil {
		return 0
	}
	return t.Unix()
}
