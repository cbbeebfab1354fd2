package strategies

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lawcrawler/internal/crawler"
	"lawcrawler/internal/match"
	"lawcrawler/internal/shared/types"
)

func TestDirectURLSearchHitsRegistry(t *testing.T) {
	entries := []*types.KnownURLEntry{
		{Name: "中华人民共和国民法典", URL: "https://flk.npc.gov.cn/detail2.html?abc"},
	}
	d := NewDirectURL(newTestFetcher(), entries)

	// 登记名带全称前缀，查询用简称：规整后仍然命中
	candidates, err := d.Search(context.Background(), "民法典")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Ref != entries[0].URL {
		t.Fatalf("candidates = %+v", candidates)
	}
}

func TestDirectURLSearchMiss(t *testing.T) {
	d := NewDirectURL(newTestFetcher(), nil)
	_, err := d.Search(context.Background(), "未登记的法规")
	if !errors.Is(err, crawler.ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}

func TestDirectURLFetchDetail(t *testing.T) {
	page := `<html><head><title>民法典 全文</title></head><body><h1>中华人民共和国民法典</h1><div>` +
		strings.Repeat("第一条 条文内容。", 100) + `</div></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	d := NewDirectURL(newTestFetcher(), nil)
	rec, err := d.FetchDetail(context.Background(), &match.Candidate{
		Title: "中华人民共和国民法典",
		Ref:   srv.URL + "/doc",
	})
	if err != nil {
		t.Fatalf("FetchDetail: %v", err)
	}
	// 页面自带的 h1 优先于登记名
	if rec.Title != "中华人民共和国民法典" {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.Source != "direct-url" {
		t.Errorf("source = %q", rec.Source)
	}
	if len(rec.Content) == 0 {
		t.Error("record carries no content")
	}
}
