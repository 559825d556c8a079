package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

// RSSAdapter читает произвольные RSS/Atom-фиды.
type RSSAdapter struct {
	parser *gofeed.Parser
}

var _ domain.SourceAdapter = (*RSSAdapter)(nil)

// NewRSS создаёт адаптер с заданным таймаутом HTTP-клиента.
func NewRSS(timeout time.Duration) *RSSAdapter {
	return &RSSAdapter{parser: newFeedParser(newHTTPClient(timeout))}
}

// Fetch загружает и разбирает фид источника. Поисковые условия здесь не
// применяются: у RSS нет серверного поиска, фильтрует оркестратор.
func (a *RSSAdapter) Fetch(ctx context.Context, src domain.Source, _ []string) ([]domain.CachedStory, error) {
	if src.URL == "" {
		return nil, errors.New("у rss-источника не задан URL")
	}

	start := time.Now()
	feed, err := a.parser.ParseURLWithContext(src.URL, ctx)
	metrics.ObserveNetworkRequest("rss", "fetch", src.URL, start, err)
	if err != nil {
		return nil, fmt.Errorf("загрузка фида: %w", err)
	}

	stories := make([]domain.CachedStory, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		story := storyFromItem(item, src, domain.SourceRSS)
		if story.SourceName == "" {
			story.SourceName = feed.Title
		}
		stories = append(stories, story)
	}
	return stories, nil
}
