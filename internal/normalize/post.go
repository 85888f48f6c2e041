// Package normalize converts the upstream's arbitrarily-shaped GraphQL
// payloads into canonical post records. All "guess the field location" logic
// lives here: extraction runs ordered strategy lists over the raw JSON so
// schema drift degrades to a missed optional field instead of a parse error.
package normalize

// Author identifies the account behind a post.
type Author struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// Post is the canonical record produced from any upstream payload. Text is
// already stripped of embedded link markup and HTML-entity-decoded. A Post
// is never constructed without both an id and a non-empty text body.
type Post struct {
	ID             string          `json:"id"`
	Text           string          `json:"text"`
	Author         Author          `json:"author"`
	AuthorID       string          `json:"author_id,omitempty"`
	ReplyCount     int             `json:"reply_count"`
	RetweetCount   int             `json:"retweet_count"`
	LikeCount      int             `json:"like_count"`
	ConversationID string          `json:"conversation_id,omitempty"`
	InReplyToID    string          `json:"in_reply_to_id,omitempty"`
	Quoted         *Post           `json:"quoted,omitempty"`
	NestedReply    *Post           `json:"nested_reply,omitempty"`
	Media          []MediaItem     `json:"media,omitempty"`
	Links          []LinkEntity    `json:"links,omitempty"`
	Mentions       []MentionEntity `json:"mentions,omitempty"`
	Liked          bool            `json:"liked"`
	Bookmarked     bool            `json:"bookmarked"`
}

// MediaKind classifies an attached media item.
type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindVideo MediaKind = "video"
	MediaKindGIF   MediaKind = "gif"
)

// MediaItem is one attached photo, video, or GIF.
type MediaItem struct {
	ID       string         `json:"id"`
	Kind     MediaKind      `json:"kind"`
	URL      string         `json:"url"`
	Width    int            `json:"width,omitempty"`
	Height   int            `json:"height,omitempty"`
	Variants []VideoVariant `json:"variants,omitempty"`
}

// VideoVariant is one playable rendition, video/mp4 only, kept in
// descending bitrate order.
type VideoVariant struct {
	Bitrate     int    `json:"bitrate"`
	ContentType string `json:"content_type"`
	URL         string `json:"url"`
}

// LinkEntity is an external link embedded in the post text.
type LinkEntity struct {
	ShortURL    string `json:"short_url"`
	ExpandedURL string `json:"expanded_url"`
	DisplayText string `json:"display_text"`
}

// MentionEntity is an @-mention embedded in the post text.
type MentionEntity struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// charSpan is a [start, end) code-point range into the raw post text.
type charSpan struct {
	start int
	end   int
}

func (span charSpan) valid() bool {
	return span.start >= 0 && span.end > span.start
}
