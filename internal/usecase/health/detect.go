package health

import (
	"net/url"
	"strings"

	"news-bundler/internal/domain"
)

var twitterHosts = map[string]struct{}{
	"twitter.com":        {},
	"www.twitter.com":    {},
	"mobile.twitter.com": {},
	"x.com":              {},
	"www.x.com":          {},
	"nitter.net":         {},
}

// DetectFeedType определяет тип источника по форме URL. Проверки упорядочены:
// youtube-ссылки никогда не должны классифицироваться как обычный RSS,
// поэтому доменные проверки идут раньше проверок пути.
func DetectFeedType(raw string) domain.TypeSuggestion {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return domain.TypeSuggestion{}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return domain.TypeSuggestion{}
	}
	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)

	switch {
	case host == "youtube.com" || host == "www.youtube.com" || host == "m.youtube.com" || host == "youtu.be":
		platform := "YouTube"
		if strings.Contains(path, "/feeds/videos.xml") {
			platform = "YouTube Channel RSS"
		}
		return domain.TypeSuggestion{SuggestedType: domain.SourceYouTube, DetectedPlatform: platform}
	case hostIn(host, twitterHosts):
		return domain.TypeSuggestion{SuggestedType: domain.SourceTwitter, DetectedPlatform: "Twitter/X"}
	case host == "news.google.com":
		return domain.TypeSuggestion{SuggestedType: domain.SourceGoogleNews, DetectedPlatform: "Google News"}
	case looksLikeRSSPath(path):
		return domain.TypeSuggestion{SuggestedType: domain.SourceRSS, DetectedPlatform: "Generic RSS"}
	default:
		return domain.TypeSuggestion{}
	}
}

func hostIn(host string, set map[string]struct{}) bool {
	_, ok := set[host]
	return ok
}

func looksLikeRSSPath(path string) bool {
	if strings.HasSuffix(path, ".xml") || strings.HasSuffix(path, ".rss") || strings.HasSuffix(path, ".atom") {
		return true
	}
	return strings.Contains(path, "/feed") || strings.Contains(path, "/rss")
}

// ExtractYouTubeChannelID достаёт идентификатор канала из RSS-ссылки или
// страницы канала. Возвращает пустую строку, если идентификатор не найден.
func ExtractYouTubeChannelID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if id := u.Query().Get("channel_id"); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range parts {
		if part == "channel" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
