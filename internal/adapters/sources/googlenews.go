package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

const googleNewsSearchURL = "https://news.google.com/rss/search"

// GoogleNewsAdapter читает результаты поиска Google News в формате RSS.
// Поисковые условия передаются серверу, клиентская фильтрация не нужна.
type GoogleNewsAdapter struct {
	parser *gofeed.Parser
}

var _ domain.SourceAdapter = (*GoogleNewsAdapter)(nil)

// NewGoogleNews создаёт адаптер.
func NewGoogleNews(timeout time.Duration) *GoogleNewsAdapter {
	return &GoogleNewsAdapter{parser: newFeedParser(newHTTPClient(timeout))}
}

func (a *GoogleNewsAdapter) feedURL(src domain.Source, terms []string) string {
	if len(terms) == 0 {
		if src.URL != "" {
			return src.URL
		}
		terms = []string{src.Title}
	}
	query := url.Values{}
	query.Set("q", strings.Join(terms, " "))
	query.Set("hl", "en-US")
	query.Set("gl", "US")
	query.Set("ceid", "US:en")
	return googleNewsSearchURL + "?" + query.Encode()
}

// Fetch выполняет поиск и нормализует результаты.
func (a *GoogleNewsAdapter) Fetch(ctx context.Context, src domain.Source, terms []string) ([]domain.CachedStory, error) {
	feedURL := a.feedURL(src, terms)

	start := time.Now()
	feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	metrics.ObserveNetworkRequest("googlenews", "search", googleNewsSearchURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("поиск google news: %w", err)
	}

	stories := make([]domain.CachedStory, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		story := storyFromItem(item, src, domain.SourceGoogleNews)
		title, publisher := splitGoogleNewsTitle(item.Title)
		story.Title = title
		if publisher != "" {
			story.SourceName = publisher
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// splitGoogleNewsTitle отделяет издателя, которого Google News дописывает
// к заголовку через " - ".
func splitGoogleNewsTitle(title string) (string, string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:])
}
