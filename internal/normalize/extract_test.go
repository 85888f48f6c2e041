package normalize_test

import (
	"encoding/json"
	"testing"

	"github.com/perch-app/perch/internal/normalize"
)

const fixtureLegacyPost = `{
	"result": {
		"__typename": "Tweet",
		"rest_id": "123",
		"core": {
			"user_results": {
				"result": {
					"rest_id": "42",
					"legacy": {"screen_name": "example", "name": "Example Person"}
				}
			}
		},
		"legacy": {
			"full_text": "Hello world!",
			"conversation_id_str": "123",
			"reply_count": 2,
			"retweet_count": 3,
			"favorite_count": 4,
			"favorited": true,
			"bookmarked": false,
			"entities": {}
		}
	}
}`

func TestExtractPostFromLegacyText(t *testing.T) {
	post, ok := normalize.ExtractPost(json.RawMessage(fixtureLegacyPost), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.ID != "123" {
		t.Fatalf("expected id 123, got %q", post.ID)
	}
	if post.Text != "Hello world!" {
		t.Fatalf("expected text %q, got %q", "Hello world!", post.Text)
	}
	if post.Author.Username != "example" || post.Author.DisplayName != "Example Person" {
		t.Fatalf("unexpected author %+v", post.Author)
	}
	if post.AuthorID != "42" {
		t.Fatalf("expected author id 42, got %q", post.AuthorID)
	}
	if post.ReplyCount != 2 || post.RetweetCount != 3 || post.LikeCount != 4 {
		t.Fatalf("unexpected counts %+v", post)
	}
	if !post.Liked || post.Bookmarked {
		t.Fatalf("unexpected flags liked=%v bookmarked=%v", post.Liked, post.Bookmarked)
	}
}

func TestExtractPostRequiresIdentifier(t *testing.T) {
	payload := `{"result": {"legacy": {"full_text": "text without id"}}}`
	if _, ok := normalize.ExtractPost(json.RawMessage(payload), 1); ok {
		t.Fatal("expected extraction to fail without an id")
	}
}

func TestExtractPostRequiresText(t *testing.T) {
	payload := `{"result": {"rest_id": "5", "legacy": {"full_text": ""}}}`
	if _, ok := normalize.ExtractPost(json.RawMessage(payload), 1); ok {
		t.Fatal("expected extraction to fail without text")
	}
}

func TestExtractPostStripsLinkSpans(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "9",
			"legacy": {
				"full_text": "see https://t.co/x here",
				"entities": {
					"urls": [{"url": "https://t.co/x", "expanded_url": "https://example.com/article", "display_url": "example.com", "indices": [4, 18]}]
				}
			}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Text != "see here" {
		t.Fatalf("expected stripped text %q, got %q", "see here", post.Text)
	}
	if len(post.Links) != 1 || post.Links[0].ExpandedURL != "https://example.com/article" {
		t.Fatalf("unexpected links %+v", post.Links)
	}
}

func TestExtractPostDecodesHTMLEntities(t *testing.T) {
	payload := `{"result": {"rest_id": "7", "legacy": {"full_text": "fish &amp; chips &lt;3", "entities": {}}}}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Text != "fish & chips <3" {
		t.Fatalf("expected decoded entities, got %q", post.Text)
	}
}

func quotedFixture() json.RawMessage {
	return json.RawMessage(`{
		"result": {
			"rest_id": "outer",
			"legacy": {"full_text": "outer text", "entities": {}},
			"quoted_status_result": {
				"result": {
					"rest_id": "inner",
					"legacy": {"full_text": "inner text", "entities": {}},
					"quoted_status_result": {
						"result": {"rest_id": "innermost", "legacy": {"full_text": "innermost text", "entities": {}}}
					}
				}
			}
		}
	}`)
}

func TestQuoteDepthZeroDisablesRecursion(t *testing.T) {
	post, ok := normalize.ExtractPost(quotedFixture(), 0)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Quoted != nil {
		t.Fatal("expected no quoted post at depth 0")
	}
}

func TestQuoteDepthOneProducesSingleLevel(t *testing.T) {
	post, ok := normalize.ExtractPost(quotedFixture(), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Quoted == nil || post.Quoted.ID != "inner" {
		t.Fatalf("expected one quoted level, got %+v", post.Quoted)
	}
	if post.Quoted.Quoted != nil {
		t.Fatal("expected no second quoted level at depth 1")
	}
}

func TestVisibilityWrapperIsUnwrapped(t *testing.T) {
	payload := `{
		"result": {
			"__typename": "TweetWithVisibilityResults",
			"tweet": {"rest_id": "11", "legacy": {"full_text": "wrapped", "entities": {}}}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.ID != "11" || post.Text != "wrapped" {
		t.Fatalf("unexpected post %+v", post)
	}
}

func TestArticleTitleAndBodyDeduplication(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "21",
			"article": {"article_results": {"result": {"title": "Same text", "preview_text": "Same text"}}},
			"legacy": {"full_text": "short form ignored", "entities": {}}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Text != "Same text" {
		t.Fatalf("expected deduplicated article text, got %q", post.Text)
	}
}

func TestArticleLeafCollectionFallback(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "22",
			"article": {"unknown_shape": {"blocks": [{"text": "first paragraph"}, {"text": "second paragraph"}]}},
			"legacy": {"full_text": "short form ignored", "entities": {}}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Text != "first paragraph\n\nsecond paragraph" {
		t.Fatalf("unexpected collected text %q", post.Text)
	}
}

func TestNoteTextPrecedesLegacyText(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "23",
			"note_tweet": {"note_tweet_results": {"result": {"text": "the long-form note body"}}},
			"legacy": {"full_text": "truncated short form...", "entities": {}}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if post.Text != "the long-form note body" {
		t.Fatalf("expected note body, got %q", post.Text)
	}
}

func TestMediaVariantsFilteredAndSorted(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "31",
			"legacy": {
				"full_text": "video post",
				"entities": {},
				"extended_entities": {
					"media": [{
						"id_str": "m1",
						"type": "video",
						"media_url_https": "https://pbs.example/m1.jpg",
						"original_info": {"width": 1280, "height": 720},
						"video_info": {"variants": [
							{"bitrate": 320000, "content_type": "video/mp4", "url": "https://video.example/low.mp4"},
							{"content_type": "application/x-mpegURL", "url": "https://video.example/playlist.m3u8"},
							{"bitrate": 2176000, "content_type": "video/mp4", "url": "https://video.example/high.mp4"}
						]}
					}]
				}
			}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if len(post.Media) != 1 {
		t.Fatalf("expected one media item, got %d", len(post.Media))
	}
	media := post.Media[0]
	if media.Kind != normalize.MediaKindVideo || media.Width != 1280 || media.Height != 720 {
		t.Fatalf("unexpected media item %+v", media)
	}
	if len(media.Variants) != 2 {
		t.Fatalf("expected 2 mp4 variants, got %d", len(media.Variants))
	}
	if media.Variants[0].Bitrate != 2176000 || media.Variants[1].Bitrate != 320000 {
		t.Fatalf("expected descending bitrate order, got %+v", media.Variants)
	}
}

func TestGIFKindMapping(t *testing.T) {
	payload := `{
		"result": {
			"rest_id": "32",
			"legacy": {
				"full_text": "gif post",
				"entities": {"media": [{"id_str": "g1", "type": "animated_gif", "media_url_https": "https://pbs.example/g1.jpg"}]}
			}
		}
	}`
	post, ok := normalize.ExtractPost(json.RawMessage(payload), 1)
	if !ok {
		t.Fatal("expected extraction to succeed")
	}
	if len(post.Media) != 1 || post.Media[0].Kind != normalize.MediaKindGIF {
		t.Fatalf("expected gif media, got %+v", post.Media)
	}
}
