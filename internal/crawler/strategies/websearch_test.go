package strategies

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lawcrawler/internal/crawler"
)

func resultPage(rows string) string {
	return `<html><body><ol id="b_results">` + rows + `</ol>` +
		strings.Repeat("<!-- filler -->", 50) + `</body></html>`
}

func TestWebSearchFiltersUntrustedHosts(t *testing.T) {
	rows := `
<li class="b_algo"><h2><a href="https://flk.npc.gov.cn/detail2.html?x">中华人民共和国数据安全法</a></h2></li>
<li class="b_algo"><h2><a href="https://some-blog.example.com/law-copy">数据安全法全文转载</a></h2></li>
<li class="b_algo"><h2><a href="https://www.court.gov.cn/fabu/xiangqing/1.html">数据安全法 司法适用</a></h2></li>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(upstreamDelay)
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Query().Get("q"), "数据安全法") {
			t.Error("query does not carry the keyword")
		}
		w.Write([]byte(resultPage(rows)))
	}))
	defer srv.Close()

	w := NewWebSearch(newTestFetcher(), srv.URL)
	candidates, err := w.Search(context.Background(), "数据安全法")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	// 非政务域名的结果被过滤
	if len(candidates) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(candidates), candidates)
	}
	for _, c := range candidates {
		if strings.Contains(c.Ref, "example.com") {
			t.Errorf("untrusted host survived filtering: %s", c.Ref)
		}
	}
}

func TestWebSearchNoTrustedResults(t *testing.T) {
	rows := `<li class="b_algo"><h2><a href="https://some-blog.example.com/x">无关页面</a></h2></li>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(upstreamDelay)
		w.Write([]byte(resultPage(rows)))
	}))
	defer srv.Close()

	w := NewWebSearch(newTestFetcher(), srv.URL)
	_, err := w.Search(context.Background(), "某某条例")
	if !errors.Is(err, crawler.ErrNoMatch) {
		t.Fatalf("err = %v, want ErrNoMatch", err)
	}
}
