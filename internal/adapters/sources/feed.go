package sources

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"news-bundler/internal/domain"
)

// newFeedParser создаёт gofeed-парсер с общим HTTP-клиентом. Таймаут на
// запрос задаёт оркестратор через контекст.
func newFeedParser(client *http.Client) *gofeed.Parser {
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = "news-bundler/1.0"
	return parser
}

// storyFromItem превращает элемент фида в нормализованную новость.
// Типоспецифичные поля складываются в metadata как есть.
func storyFromItem(item *gofeed.Item, src domain.Source, sourceType domain.SourceType) domain.CachedStory {
	story := domain.CachedStory{
		URL:         item.Link,
		Title:       item.Title,
		Description: item.Description,
		SourceName:  src.Title,
		SourceType:  sourceType,
		PublishedAt: item.PublishedParsed,
	}
	if item.Image != nil {
		story.Thumbnail = item.Image.URL
	}

	meta := map[string]any{}
	if item.GUID != "" {
		meta["guid"] = item.GUID
	}
	if len(item.Categories) > 0 {
		meta["categories"] = item.Categories
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil && item.Authors[0].Name != "" {
		meta["author"] = item.Authors[0].Name
	}
	if len(meta) > 0 {
		if raw, err := json.Marshal(meta); err == nil {
			story.RawMetaJSON = raw
		}
	}
	return story
}

// mediaThumbnail достаёт превью из расширений media:group/media:thumbnail.
func mediaThumbnail(item *gofeed.Item) string {
	groups, ok := item.Extensions["media"]["group"]
	if !ok || len(groups) == 0 {
		return ""
	}
	thumbs, ok := groups[0].Children["thumbnail"]
	if !ok || len(thumbs) == 0 {
		return ""
	}
	return thumbs[0].Attrs["url"]
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
