package normalize

import (
	"encoding/json"
	"html"
	"sort"
	"strings"
	"unicode"
)

const (
	mediaTypePhoto       = "photo"
	mediaTypeVideo       = "video"
	mediaTypeAnimatedGIF = "animated_gif"
	mp4ContentType       = "video/mp4"

	longFormParagraphSeparator = "\n\n"
)

// Ordered field locations for long-form bodies. The shape varies by
// upstream client version, so each location is tried in sequence.
var (
	articleTitleStrategies = [][]string{
		{"article_results", "result", "title"},
		{"title"},
	}
	articleBodyStrategies = [][]string{
		{"article_results", "result", "preview_text"},
		{"article_results", "result", "plain_text"},
		{"preview_text"},
		{"plain_text"},
		{"content_state", "text"},
	}
	noteBodyStrategies = [][]string{
		{"note_tweet_results", "result", "text"},
		{"note_tweet_results", "result", "richtext", "text"},
		{"text"},
	}
)

// ExtractPost converts a raw tweet-result payload (the envelope or the bare
// result node) into a canonical Post. quoteDepth bounds quoted-post
// recursion; zero disables it entirely. Extraction fails, returning false,
// when no id or no extractable text exists.
func ExtractPost(raw json.RawMessage, quoteDepth int) (*Post, bool) {
	var envelope tweetEnvelope
	node := &tweetNode{}
	if unmarshalErr := json.Unmarshal(raw, &envelope); unmarshalErr == nil && envelope.Result != nil {
		node = envelope.Result
	} else if unmarshalErr := json.Unmarshal(raw, node); unmarshalErr != nil {
		return nil, false
	}
	return extractFromNode(node, quoteDepth)
}

func extractFromNode(node *tweetNode, quoteDepth int) (*Post, bool) {
	node = node.unwrap()
	if node == nil {
		return nil, false
	}

	identifier := node.RestID
	if identifier == "" && node.Legacy != nil {
		identifier = node.Legacy.IDStr
	}
	if identifier == "" {
		return nil, false
	}

	rawText, ok := chooseText(node)
	if !ok {
		return nil, false
	}

	entities := entitySet{}
	if node.Legacy != nil {
		entities = node.Legacy.Entities
		if node.Legacy.ExtendedEntities != nil {
			entities.Media = node.Legacy.ExtendedEntities.Media
		}
	}

	text := stripEntitySpans(rawText, entitySpans(entities))
	text = strings.TrimSpace(html.UnescapeString(text))
	if text == "" {
		return nil, false
	}

	post := &Post{
		ID:       identifier,
		Text:     text,
		Media:    extractMedia(entities.Media),
		Links:    extractLinks(entities.URLs),
		Mentions: extractMentions(entities.UserMentions),
	}
	applyAuthor(post, node.Core)
	applyLegacy(post, node.Legacy)

	if quoteDepth > 0 && node.QuotedStatusResult != nil && node.QuotedStatusResult.Result != nil {
		if quoted, extracted := extractFromNode(node.QuotedStatusResult.Result, quoteDepth-1); extracted {
			post.Quoted = quoted
		}
	}
	return post, true
}

// chooseText applies the extraction precedence: long-form article body,
// long-form note body, then legacy short-form text.
func chooseText(node *tweetNode) (string, bool) {
	if text, ok := articleText(node.Article); ok {
		return text, true
	}
	if text, ok := firstStrategyMatch(node.NoteTweet, noteBodyStrategies); ok {
		return text, true
	}
	if node.Legacy != nil && node.Legacy.FullText != "" {
		return node.Legacy.FullText, true
	}
	return "", false
}

func articleText(raw json.RawMessage) (string, bool) {
	decoded, ok := decodeRaw(raw)
	if !ok {
		return "", false
	}

	title, _ := firstPathMatch(decoded, articleTitleStrategies)
	body, _ := firstPathMatch(decoded, articleBodyStrategies)

	switch {
	case title != "" && body != "" && body == title:
		return title, true
	case title != "" && body != "":
		return title + longFormParagraphSeparator + body, true
	case title != "":
		return title, true
	case body != "":
		return body, true
	}

	// No known location held the body; collect any text/title leaves.
	leaves := collectTextLeaves(decoded, nil)
	joined := joinDistinct(leaves)
	if joined == "" {
		return "", false
	}
	return joined, true
}

func firstStrategyMatch(raw json.RawMessage, strategies [][]string) (string, bool) {
	decoded, ok := decodeRaw(raw)
	if !ok {
		return "", false
	}
	return firstPathMatch(decoded, strategies)
}

func firstPathMatch(decoded any, strategies [][]string) (string, bool) {
	for _, path := range strategies {
		if value, ok := lookupString(decoded, path...); ok {
			return value, true
		}
	}
	return "", false
}

func decodeRaw(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var decoded any
	if unmarshalErr := json.Unmarshal(raw, &decoded); unmarshalErr != nil {
		return nil, false
	}
	return decoded, true
}

func joinDistinct(values []string) string {
	var builder strings.Builder
	var previous string
	for _, value := range values {
		if value == "" || value == previous {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(longFormParagraphSeparator)
		}
		builder.WriteString(value)
		previous = value
	}
	return builder.String()
}

func entitySpans(entities entitySet) []charSpan {
	spans := make([]charSpan, 0, len(entities.URLs)+len(entities.Media))
	for _, entity := range entities.URLs {
		spans = append(spans, spanFromIndices(entity.Indices))
	}
	for _, entity := range entities.Media {
		spans = append(spans, spanFromIndices(entity.Indices))
	}
	return spans
}

// stripEntitySpans removes the given code-point spans from the text. Spans
// are removed back-to-front (sorted by start descending) so earlier spans
// keep valid offsets, and any whitespace run immediately preceding a removed
// span goes with it so no doubled gaps remain.
func stripEntitySpans(text string, spans []charSpan) string {
	runes := []rune(text)
	sort.Slice(spans, func(left, right int) bool {
		return spans[left].start > spans[right].start
	})
	for _, span := range spans {
		if !span.valid() || span.end > len(runes) {
			continue
		}
		removalStart := span.start
		for removalStart > 0 && unicode.IsSpace(runes[removalStart-1]) {
			removalStart--
		}
		runes = append(runes[:removalStart], runes[span.end:]...)
	}
	return string(runes)
}

func applyAuthor(post *Post, core *tweetCore) {
	if core == nil || core.UserResults.Result == nil {
		return
	}
	user := core.UserResults.Result
	post.AuthorID = user.RestID
	switch {
	case user.Core != nil && user.Core.ScreenName != "":
		post.Author = Author{Username: user.Core.ScreenName, DisplayName: user.Core.Name}
	case user.Legacy != nil:
		post.Author = Author{Username: user.Legacy.ScreenName, DisplayName: user.Legacy.Name}
	}
}

func applyLegacy(post *Post, legacy *legacyTweet) {
	if legacy == nil {
		return
	}
	post.ReplyCount = legacy.ReplyCount
	post.RetweetCount = legacy.RetweetCount
	post.LikeCount = legacy.FavoriteCount
	post.ConversationID = legacy.ConversationID
	post.InReplyToID = legacy.InReplyToID
	post.Liked = legacy.Favorited
	post.Bookmarked = legacy.Bookmarked
}

func extractMedia(entities []mediaEntity) []MediaItem {
	if len(entities) == 0 {
		return nil
	}
	items := make([]MediaItem, 0, len(entities))
	for _, entity := range entities {
		item := MediaItem{ID: entity.IDStr, URL: entity.MediaURL}
		switch entity.Type {
		case mediaTypePhoto:
			item.Kind = MediaKindPhoto
		case mediaTypeVideo:
			item.Kind = MediaKindVideo
		case mediaTypeAnimatedGIF:
			item.Kind = MediaKindGIF
		default:
			item.Kind = MediaKind(entity.Type)
		}
		if entity.OriginalInfo != nil {
			item.Width = entity.OriginalInfo.Width
			item.Height = entity.OriginalInfo.Height
		}
		if entity.VideoInfo != nil {
			for _, variant := range entity.VideoInfo.Variants {
				if variant.ContentType != mp4ContentType {
					continue
				}
				item.Variants = append(item.Variants, VideoVariant(variant))
			}
			sort.Slice(item.Variants, func(left, right int) bool {
				return item.Variants[left].Bitrate > item.Variants[right].Bitrate
			})
		}
		items = append(items, item)
	}
	return items
}

func extractLinks(entities []urlEntity) []LinkEntity {
	if len(entities) == 0 {
		return nil
	}
	links := make([]LinkEntity, 0, len(entities))
	for _, entity := range entities {
		links = append(links, LinkEntity{
			ShortURL:    entity.URL,
			ExpandedURL: entity.ExpandedURL,
			DisplayText: entity.DisplayURL,
		})
	}
	return links
}

func extractMentions(entities []mentionRecord) []MentionEntity {
	if len(entities) == 0 {
		return nil
	}
	mentions := make([]MentionEntity, 0, len(entities))
	for _, entity := range entities {
		mentions = append(mentions, MentionEntity{
			Username:    entity.ScreenName,
			DisplayName: entity.Name,
			UserID:      entity.IDStr,
		})
	}
	return mentions
}
