package normalize

import "encoding/json"

const (
	instructionTypeAddEntries   = "TimelineAddEntries"
	instructionTypeReplaceEntry = "TimelineReplaceEntry"
	instructionTypePinEntry     = "TimelinePinEntry"

	cursorTypeBottom = "Bottom"
)

// Ordered locations of the instruction array across timeline kinds. The
// first match wins; the trailing recursive search covers shapes added by
// newer upstream client versions.
var instructionStrategies = [][]string{
	{"data", "home", "home_timeline_urt", "instructions"},
	{"data", "threaded_conversation_with_injections_v2", "instructions"},
	{"data", "user", "result", "timeline_v2", "timeline", "instructions"},
	{"data", "user", "result", "timeline", "timeline", "instructions"},
	{"data", "search_by_raw_query", "search_timeline", "timeline", "instructions"},
	{"data", "bookmark_timeline_v2", "timeline", "instructions"},
	{"data", "viewer_v2", "user_results", "result", "notification_timeline", "timeline", "instructions"},
}

// CollectTimeline extracts every post from a timeline or notification
// payload, preserving encounter order. A post id already emitted is skipped
// on subsequent occurrences; the first-encountered values win.
func CollectTimeline(payload json.RawMessage, quoteDepth int) []Post {
	instructions, ok := findInstructions(payload)
	if !ok {
		return nil
	}

	var posts []Post
	seen := make(map[string]struct{})
	for _, instruction := range instructions {
		for _, entry := range instructionEntries(instruction) {
			for _, item := range entryItems(entry) {
				appendPost(&posts, seen, item, quoteDepth)
			}
		}
	}
	return posts
}

// CollectReplies extracts the replies to targetID from a conversation
// payload. Grouped (conversation-module) entries are scanned for the item
// that directly replies to the target, and a single shallow nested-reply
// preview from the next item in the same group is attached to it.
func CollectReplies(payload json.RawMessage, targetID string, quoteDepth int) []Post {
	instructions, ok := findInstructions(payload)
	if !ok {
		return nil
	}

	var replies []Post
	seen := make(map[string]struct{})
	for _, instruction := range instructions {
		for _, entry := range instructionEntries(instruction) {
			grouped := groupedItems(entry)
			if grouped == nil {
				for _, item := range entryItems(entry) {
					if post, extracted := extractPostValue(item, quoteDepth); extracted && post.InReplyToID == targetID {
						appendReply(&replies, seen, *post)
					}
				}
				continue
			}

			for index, item := range grouped {
				post, extracted := extractPostValue(item, quoteDepth)
				if !extracted || post.InReplyToID != targetID {
					continue
				}
				if index+1 < len(grouped) {
					if preview, previewExtracted := extractPostValue(grouped[index+1], 0); previewExtracted {
						post.NestedReply = preview
					}
				}
				appendReply(&replies, seen, *post)
				break
			}
		}
	}
	return replies
}

func appendPost(posts *[]Post, seen map[string]struct{}, item any, quoteDepth int) {
	post, extracted := extractPostValue(item, quoteDepth)
	if !extracted {
		return
	}
	if _, duplicate := seen[post.ID]; duplicate {
		return
	}
	seen[post.ID] = struct{}{}
	*posts = append(*posts, *post)
}

func appendReply(replies *[]Post, seen map[string]struct{}, reply Post) {
	if _, duplicate := seen[reply.ID]; duplicate {
		return
	}
	seen[reply.ID] = struct{}{}
	*replies = append(*replies, reply)
}

// extractPostValue extracts a Post from a decoded item-content value by
// round-tripping its tweet_results envelope through the typed extractor.
func extractPostValue(itemContent any, quoteDepth int) (*Post, bool) {
	results, ok := lookup(itemContent, "tweet_results")
	if !ok {
		return nil, false
	}
	encoded, marshalErr := json.Marshal(results)
	if marshalErr != nil {
		return nil, false
	}
	return ExtractPost(encoded, quoteDepth)
}

func findInstructions(payload json.RawMessage) ([]any, bool) {
	decoded, ok := decodeRaw(payload)
	if !ok {
		return nil, false
	}
	for _, path := range instructionStrategies {
		if value, found := lookup(decoded, path...); found {
			if instructions, isList := value.([]any); isList {
				return instructions, true
			}
		}
	}
	if instructions := searchInstructions(decoded); instructions != nil {
		return instructions, true
	}
	return nil, false
}

func searchInstructions(value any) []any {
	switch typed := value.(type) {
	case map[string]any:
		if instructions, ok := typed["instructions"].([]any); ok {
			return instructions
		}
		for _, key := range sortedKeys(typed) {
			if found := searchInstructions(typed[key]); found != nil {
				return found
			}
		}
	case []any:
		for _, element := range typed {
			if found := searchInstructions(element); found != nil {
				return found
			}
		}
	}
	return nil
}

func instructionEntries(instruction any) []any {
	if entries, ok := lookup(instruction, "entries"); ok {
		if asList, isList := entries.([]any); isList {
			return asList
		}
	}
	if entry, ok := lookup(instruction, "entry"); ok {
		return []any{entry}
	}
	return nil
}

// entryItems returns the item-content values of an entry, checking the
// three shapes an entry can take: a single item, a nested item, or a
// grouped list of items.
func entryItems(entry any) []any {
	if itemContent, ok := lookup(entry, "content", "itemContent"); ok {
		return []any{itemContent}
	}
	if itemContent, ok := lookup(entry, "content", "item", "itemContent"); ok {
		return []any{itemContent}
	}
	return groupedItems(entry)
}

func groupedItems(entry any) []any {
	items, ok := lookup(entry, "content", "items")
	if !ok {
		return nil
	}
	asList, isList := items.([]any)
	if !isList {
		return nil
	}
	contents := make([]any, 0, len(asList))
	for _, element := range asList {
		if itemContent, found := lookup(element, "item", "itemContent"); found {
			contents = append(contents, itemContent)
		}
	}
	return contents
}
