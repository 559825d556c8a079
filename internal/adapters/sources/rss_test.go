package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"news-bundler/internal/domain"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Тестовый фид</title>
    <item>
      <title>Первая новость</title>
      <link>https://example.com/1</link>
      <description>описание</description>
      <pubDate>Mon, 03 Mar 2025 10:00:00 GMT</pubDate>
      <guid>guid-1</guid>
      <category>tech</category>
    </item>
    <item>
      <title>Без ссылки</title>
      <description>пропускается</description>
    </item>
  </channel>
</rss>`

func TestRSSFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(rssFixture))
	}))
	defer server.Close()

	adapter := NewRSS(time.Second)
	stories, err := adapter.Fetch(context.Background(), domain.Source{ID: 1, URL: server.URL}, nil)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(stories) != 1 {
		t.Fatalf("элемент без ссылки должен пропускаться, получили %d новостей", len(stories))
	}

	story := stories[0]
	if story.URL != "https://example.com/1" || story.Title != "Первая новость" {
		t.Fatalf("неверный разбор элемента: %+v", story)
	}
	if story.PublishedAt == nil || story.PublishedAt.UTC() != time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) {
		t.Fatalf("дата публикации не разобрана: %v", story.PublishedAt)
	}
	if story.SourceType != domain.SourceRSS {
		t.Fatalf("ожидали тип rss, получили %q", story.SourceType)
	}
	if story.SourceName != "Тестовый фид" {
		t.Fatalf("имя источника должно браться из заголовка фида, получили %q", story.SourceName)
	}
	if len(story.RawMetaJSON) == 0 {
		t.Fatalf("guid и категории должны складываться в metadata")
	}
}

func TestRSSFetchRequiresURL(t *testing.T) {
	adapter := NewRSS(time.Second)
	if _, err := adapter.Fetch(context.Background(), domain.Source{ID: 1}, nil); err == nil {
		t.Fatalf("ожидали ошибку для источника без URL")
	}
}

func TestRSSFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	adapter := NewRSS(time.Second)
	if _, err := adapter.Fetch(context.Background(), domain.Source{ID: 1, URL: server.URL}, nil); err == nil {
		t.Fatalf("ожидали ошибку при недоступном фиде")
	}
}
