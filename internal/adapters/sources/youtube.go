package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

// YouTubeAdapter читает RSS-фид канала YouTube.
type YouTubeAdapter struct {
	parser *gofeed.Parser
}

var _ domain.SourceAdapter = (*YouTubeAdapter)(nil)

// NewYouTube создаёт адаптер.
func NewYouTube(timeout time.Duration) *YouTubeAdapter {
	return &YouTubeAdapter{parser: newFeedParser(newHTTPClient(timeout))}
}

// feedURL строит адрес фида по идентификатору канала либо принимает уже
// готовую ссылку на feeds/videos.xml.
func (a *YouTubeAdapter) feedURL(src domain.Source) (string, error) {
	if src.ChannelID != "" {
		return "https://www.youtube.com/feeds/videos.xml?channel_id=" + src.ChannelID, nil
	}
	if strings.Contains(src.URL, "/feeds/videos.xml") {
		return src.URL, nil
	}
	return "", errors.New("у youtube-источника не задан идентификатор канала")
}

// Fetch загружает последние видео канала. Серверного поиска нет,
// условия применяет оркестратор.
func (a *YouTubeAdapter) Fetch(ctx context.Context, src domain.Source, _ []string) ([]domain.CachedStory, error) {
	feedURL, err := a.feedURL(src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	metrics.ObserveNetworkRequest("youtube", "fetch", feedURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("загрузка фида канала: %w", err)
	}

	stories := make([]domain.CachedStory, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		story := storyFromItem(item, src, domain.SourceYouTube)
		if thumb := mediaThumbnail(item); thumb != "" {
			story.Thumbnail = thumb
		}
		if story.SourceName == "" {
			story.SourceName = feed.Title
		}
		stories = append(stories, story)
	}
	return stories, nil
}
