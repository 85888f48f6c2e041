package normalize

import "encoding/json"

// Raw payload shapes. Only the fields extraction relies on are declared;
// everything else rides along in RawMessage fields and is probed with the
// lookup helpers because its location varies by upstream client version.

type tweetEnvelope struct {
	Result *tweetNode `json:"result"`
}

type tweetNode struct {
	Typename           string          `json:"__typename"`
	RestID             string          `json:"rest_id"`
	Tweet              *tweetNode      `json:"tweet"`
	Core               *tweetCore      `json:"core"`
	Legacy             *legacyTweet    `json:"legacy"`
	NoteTweet          json.RawMessage `json:"note_tweet"`
	Article            json.RawMessage `json:"article"`
	QuotedStatusResult *tweetEnvelope  `json:"quoted_status_result"`
}

// unwrap strips the visibility wrapper some results arrive inside.
func (node *tweetNode) unwrap() *tweetNode {
	if node != nil && node.Tweet != nil {
		return node.Tweet.unwrap()
	}
	return node
}

type tweetCore struct {
	UserResults struct {
		Result *userNode `json:"result"`
	} `json:"user_results"`
}

type userNode struct {
	RestID string `json:"rest_id"`
	Legacy *struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"legacy"`
	Core *struct {
		ScreenName string `json:"screen_name"`
		Name       string `json:"name"`
	} `json:"core"`
}

type legacyTweet struct {
	IDStr            string     `json:"id_str"`
	FullText         string     `json:"full_text"`
	ConversationID   string     `json:"conversation_id_str"`
	InReplyToID      string     `json:"in_reply_to_status_id_str"`
	ReplyCount       int        `json:"reply_count"`
	RetweetCount     int        `json:"retweet_count"`
	FavoriteCount    int        `json:"favorite_count"`
	Favorited        bool       `json:"favorited"`
	Bookmarked       bool       `json:"bookmarked"`
	Entities         entitySet  `json:"entities"`
	ExtendedEntities *entitySet `json:"extended_entities"`
}

type entitySet struct {
	URLs         []urlEntity     `json:"urls"`
	Media        []mediaEntity   `json:"media"`
	UserMentions []mentionRecord `json:"user_mentions"`
}

type urlEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayURL  string `json:"display_url"`
	Indices     []int  `json:"indices"`
}

type mediaEntity struct {
	IDStr        string `json:"id_str"`
	Type         string `json:"type"`
	MediaURL     string `json:"media_url_https"`
	URL          string `json:"url"`
	Indices      []int  `json:"indices"`
	OriginalInfo *struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"original_info"`
	VideoInfo *struct {
		Variants []struct {
			Bitrate     int    `json:"bitrate"`
			ContentType string `json:"content_type"`
			URL         string `json:"url"`
		} `json:"variants"`
	} `json:"video_info"`
}

type mentionRecord struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
	IDStr      string `json:"id_str"`
}

func spanFromIndices(indices []int) charSpan {
	if len(indices) != 2 {
		return charSpan{start: -1, end: -1}
	}
	return charSpan{start: indices[0], end: indices[1]}
}

// lookup walks nested map values along the given key path.
func lookup(value any, path ...string) (any, bool) {
	current := value
	for _, key := range path {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, present := asMap[key]
		if !present {
			return nil, false
		}
		current = next
	}
	return current, true
}

func lookupString(value any, path ...string) (string, bool) {
	found, ok := lookup(value, path...)
	if !ok {
		return "", false
	}
	asString, isString := found.(string)
	if !isString || asString == "" {
		return "", false
	}
	return asString, true
}

// collectTextLeaves gathers the values of every "text" and "title" leaf in
// encounter order (arrays preserve order; object keys are probed in a fixed
// preference order). Last-resort strategy when no known field location holds
// the long-form body.
func collectTextLeaves(value any, collected []string) []string {
	switch typed := value.(type) {
	case map[string]any:
		for _, key := range []string{"title", "text"} {
			if leaf, ok := typed[key].(string); ok && leaf != "" {
				collected = append(collected, leaf)
			}
		}
		for _, key := range sortedKeys(typed) {
			if key == "title" || key == "text" {
				continue
			}
			collected = collectTextLeaves(typed[key], collected)
		}
	case []any:
		for _, element := range typed {
			collected = collectTextLeaves(element, collected)
		}
	}
	return collected
}

func sortedKeys(value map[string]any) []string {
	keys := make([]string, 0, len(value))
	for key := range value {
		keys = append(keys, key)
	}
	for outer := 1; outer < len(keys); outer++ {
		for inner := outer; inner > 0 && keys[inner] < keys[inner-1]; inner-- {
			keys[inner], keys[inner-1] = keys[inner-1], keys[inner]
		}
	}
	return keys
}
