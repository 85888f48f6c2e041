package catalog

// Operation names the logical upstream operations the client performs. The
// value doubles as the GraphQL operation-name path segment.
type Operation string

const (
	OperationTweetDetail         Operation = "TweetDetail"
	OperationTweetResultByRestID Operation = "TweetResultByRestId"
	OperationHomeTimeline        Operation = "HomeTimeline"
	OperationUserTweets          Operation = "UserTweets"
	OperationSearchTimeline      Operation = "SearchTimeline"
	OperationNotifications       Operation = "NotificationsTimeline"
	OperationBookmarks           Operation = "Bookmarks"
	OperationCreateTweet         Operation = "CreateTweet"
	OperationDeleteTweet         Operation = "DeleteTweet"
	OperationFavoriteTweet       Operation = "FavoriteTweet"
	OperationUnfavoriteTweet     Operation = "UnfavoriteTweet"
	OperationCreateBookmark      Operation = "CreateBookmark"
	OperationDeleteBookmark      Operation = "DeleteBookmark"
	OperationCreateRetweet       Operation = "CreateRetweet"
	OperationDeleteRetweet       Operation = "DeleteRetweet"
	OperationUserByScreenName    Operation = "UserByScreenName"
)

// AllOperations returns every known operation in declaration order.
func AllOperations() []Operation {
	return []Operation{
		OperationTweetDetail,
		OperationTweetResultByRestID,
		OperationHomeTimeline,
		OperationUserTweets,
		OperationSearchTimeline,
		OperationNotifications,
		OperationBookmarks,
		OperationCreateTweet,
		OperationDeleteTweet,
		OperationFavoriteTweet,
		OperationUnfavoriteTweet,
		OperationCreateBookmark,
		OperationDeleteBookmark,
		OperationCreateRetweet,
		OperationDeleteRetweet,
		OperationUserByScreenName,
	}
}

// Compiled-in fallback identifiers. These rotate with upstream releases and
// are configuration, not behavior: overrides arrive through the persisted
// snapshot or Config.Fallbacks.
var defaultFallbackIdentifiers = map[Operation]string{
	OperationTweetDetail:         "nJ0YCPoBjGhaiInYbc8Yow",
	OperationTweetResultByRestID: "0hWvDhmW8YQ-S_ib3azIrw",
	OperationHomeTimeline:        "HJFjzBgCs16TqxewQOeLNg",
	OperationUserTweets:          "E3opETHurmVJflFsUBVuUQ",
	OperationSearchTimeline:      "gkjsKepM6gl_HmFWoWKfgg",
	OperationNotifications:       "C8qMyvqUrj1Vn5oHXXQIfg",
	OperationBookmarks:           "xLjCVTqYWz8CGSprLU349w",
	OperationCreateTweet:         "znq7jUAqRjmPj7IszLem5Q",
	OperationDeleteTweet:         "VaenaVgh5q5ih7kvyVjgtg",
	OperationFavoriteTweet:       "lI07N6Otwv1PhnEgXILM7A",
	OperationUnfavoriteTweet:     "ZYKSe-w7KEslx3JhSIk5LA",
	OperationCreateBookmark:      "aoDbu3RHznuiSkQ9aNM67Q",
	OperationDeleteBookmark:      "Wlmlj2-xzyS1GN3a6cj-mQ",
	OperationCreateRetweet:       "ojPdsZsimiJrUGLR1sjUtA",
	OperationDeleteRetweet:       "iQtK4dl5hBmXewYZuEOKVw",
	OperationUserByScreenName:    "G3KGOASz96M-Qu0nwmGXNg",
}

// Known-good historical alternates, most recent first. Appended after the
// resolved identifier when building the candidate list for an operation.
var defaultHistoricalAlternates = map[Operation][]string{
	OperationTweetDetail: {
		"xOhkmRac04YFZmOzU9PJHg",
		"B9_KmbkLhXt6jRwGjJrweg",
	},
	OperationTweetResultByRestID: {
		"DJS3BdhUhcaEpZ7B7irJDg",
	},
	OperationHomeTimeline: {
		"W4Tpu1uueTGK53paUgxF0Q",
	},
	OperationUserTweets: {
		"QWF3SzpHmykQHsQMixG0cg",
		"V1ze5q3ijDS1VeLwLY0m7g",
	},
	OperationSearchTimeline: {
		"nKAncKPF1fV1xltsF3UUVQ",
	},
	OperationCreateTweet: {
		"5V_dkq1jfalfiFOEZ4g47A",
	},
	OperationBookmarks: {
		"tmd4ifV8RHltzn8ymGg1aw",
	},
}
