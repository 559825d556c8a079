package storycache

import (
	"net/url"
	"sort"
	"strings"

	"news-bundler/internal/domain"
)

// trackingParams — рекламные параметры, не влияющие на адрес материала.
var trackingParams = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"yclid":   {},
	"igshid":  {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref_src": {},
	"spm":     {},
}

// NormalizeURLKey приводит ссылку к ключу дедупликации: схема и хост в нижнем
// регистре, без завершающего слэша, без фрагмента и трекинговых параметров.
// Две ссылки, отличающиеся только utm-метками, дают один ключ.
func NormalizeURLKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(trimmed, "/"))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")

	query := u.Query()
	for name := range query {
		lower := strings.ToLower(name)
		if strings.HasPrefix(lower, "utm_") {
			query.Del(name)
			continue
		}
		if _, ok := trackingParams[lower]; ok {
			query.Del(name)
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// StoryKey возвращает ключ дедупликации новости: нормализованный URL,
// при его отсутствии — идентификатор от адаптера.
func StoryKey(story domain.CachedStory) string {
	if key := NormalizeURLKey(story.URL); key != "" {
		return key
	}
	return story.ID
}

// newer выбирает победителя при совпадении ключей. Побеждает более поздняя
// дата публикации; при равенстве или отсутствии дат — более поздний кандидат
// (тот, что получен позже).
func newer(existing, candidate domain.CachedStory) domain.CachedStory {
	if existing.PublishedAt != nil && candidate.PublishedAt != nil {
		if existing.PublishedAt.After(*candidate.PublishedAt) {
			return existing
		}
		return candidate
	}
	if candidate.FetchedAt.Before(existing.FetchedAt) {
		return existing
	}
	return candidate
}

// MergeStories объединяет новые новости с содержимым кэша. Кандидат с уже
// известным ключом обновляет запись на месте, новый ключ добавляется в конец.
// RelevanceScore существующей записи сохраняется, если кандидат его не принёс.
func MergeStories(existing, incoming []domain.CachedStory) []domain.CachedStory {
	merged := append([]domain.CachedStory(nil), existing...)
	index := make(map[string]int, len(merged))
	for i, story := range merged {
		index[StoryKey(story)] = i
	}

	for _, candidate := range incoming {
		key := StoryKey(candidate)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			index[key] = len(merged)
			merged = append(merged, candidate)
			continue
		}
		winner := newer(merged[i], candidate)
		if winner.RelevanceScore == nil && merged[i].RelevanceScore != nil {
			winner.RelevanceScore = merged[i].RelevanceScore
		}
		merged[i] = winner
	}
	return merged
}

// BuildSummary пересчитывает распределение новостей по источникам.
func BuildSummary(stories []domain.CachedStory) domain.CacheSummary {
	distribution := make(map[string]int, len(stories))
	for _, story := range stories {
		name := story.SourceName
		if name == "" {
			name = string(story.SourceType)
		}
		distribution[name]++
	}

	top := make([]domain.SourceCount, 0, len(distribution))
	for name, count := range distribution {
		top = append(top, domain.SourceCount{Name: name, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Name < top[j].Name
	})

	return domain.CacheSummary{SourceDistribution: distribution, TopSources: top}
}
