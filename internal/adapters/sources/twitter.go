package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"news-bundler/internal/domain"
	"news-bundler/internal/infra/metrics"
)

const defaultTwitterBaseURL = "https://api.twitter.com"

// TwitterAdapter выполняет поиск свежих твитов через API v2. Токен доступа —
// явное поле адаптера, никакого глобального состояния с ключами: конкурентные
// запросы с разными токенами не пересекаются.
type TwitterAdapter struct {
	http        *http.Client
	baseURL     string
	bearerToken string
}

var _ domain.SourceAdapter = (*TwitterAdapter)(nil)

// NewTwitter создаёт адаптер.
func NewTwitter(bearerToken, baseURL string, timeout time.Duration) *TwitterAdapter {
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TwitterAdapter{
		http:        &http.Client{Timeout: timeout + 5*time.Second},
		baseURL:     baseURL,
		bearerToken: bearerToken,
	}
}

type tweetSearchResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
		Metrics   *struct {
			Retweets int `json:"retweet_count"`
			Replies  int `json:"reply_count"`
			Likes    int `json:"like_count"`
			Quotes   int `json:"quote_count"`
		} `json:"public_metrics,omitempty"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

type twitterErrorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Fetch ищет свежие твиты аккаунта источника с учётом поисковых условий.
// Поиск серверный: условия добавляются в запрос к API.
func (a *TwitterAdapter) Fetch(ctx context.Context, src domain.Source, terms []string) ([]domain.CachedStory, error) {
	if a.bearerToken == "" {
		return nil, fmt.Errorf("twitter: не задан bearer token")
	}
	username := usernameFromSource(src)
	if username == "" {
		return nil, fmt.Errorf("twitter: не удалось определить аккаунт источника")
	}

	queryParts := []string{"from:" + username, "-is:retweet"}
	if len(terms) > 0 {
		queryParts = append(queryParts, "("+strings.Join(terms, " OR ")+")")
	}

	params := url.Values{}
	params.Set("query", strings.Join(queryParts, " "))
	params.Set("max_results", "50")
	params.Set("tweet.fields", "created_at,author_id,public_metrics")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "name,username")

	endpoint := a.baseURL + "/2/tweets/search/recent?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("twitter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.bearerToken)

	start := time.Now()
	resp, err := a.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", "search_recent", username, start, err)
		return nil, fmt.Errorf("twitter: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("twitter", "search_recent", username, start, err)
		return nil, fmt.Errorf("twitter: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr twitterErrorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Title != "" {
			err = fmt.Errorf("twitter: %s: %s", apiErr.Title, apiErr.Detail)
		} else {
			err = fmt.Errorf("twitter: unexpected status %d", resp.StatusCode)
		}
		metrics.ObserveNetworkRequest("twitter", "search_recent", username, start, err)
		return nil, err
	}

	var search tweetSearchResponse
	if err := json.Unmarshal(body, &search); err != nil {
		metrics.ObserveNetworkRequest("twitter", "search_recent", username, start, err)
		return nil, fmt.Errorf("twitter: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("twitter", "search_recent", username, start, nil)

	names := make(map[string]string, len(search.Includes.Users))
	for _, user := range search.Includes.Users {
		names[user.ID] = user.Name
	}

	stories := make([]domain.CachedStory, 0, len(search.Data))
	for _, tweet := range search.Data {
		published := tweet.CreatedAt
		story := domain.CachedStory{
			ID:          "twitter:" + tweet.ID,
			URL:         fmt.Sprintf("https://x.com/%s/status/%s", username, tweet.ID),
			Title:       tweetHeadline(tweet.Text),
			Description: tweet.Text,
			SourceName:  src.Title,
			SourceType:  domain.SourceTwitter,
		}
		if !published.IsZero() {
			ts := published
			story.PublishedAt = &ts
		}
		if name, ok := names[tweet.AuthorID]; ok && story.SourceName == "" {
			story.SourceName = name
		}
		if tweet.Metrics != nil {
			if raw, err := json.Marshal(tweet.Metrics); err == nil {
				story.RawMetaJSON = raw
			}
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// usernameFromSource извлекает аккаунт из URL источника либо принимает
// сохранённое имя как есть.
func usernameFromSource(src domain.Source) string {
	raw := strings.TrimSpace(src.URL)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "/") {
		return strings.TrimPrefix(raw, "@")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	return strings.TrimPrefix(parts[0], "@")
}

func tweetHeadline(text string) string {
	line := strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	const maxLen = 140
	runes := []rune(line)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "…"
	}
	return line
}
