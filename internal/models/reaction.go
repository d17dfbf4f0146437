package models

import "time"

// ReactionType is the value a user attaches to an article.
type ReactionType string

const (
	ReactionLike    ReactionType = "like"
	ReactionDislike ReactionType = "dislike"
	ReactionNeutral ReactionType = "neutral"
)

// Valid reports whether t is one of like, dislike or neutral.
func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionDislike, ReactionNeutral:
		return true
	default:
		return false
	}
}

// Reaction is a single user's reaction to an article. (UserID, ArticleID) is unique.
type Reaction struct {
	UserID       string       `db:"user_id" json:"userId"`
	ArticleID    string       `db:"article_id" json:"articleId"`
	ReactionType ReactionType `db:"reaction_type" json:"reactionType"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updatedAt"`
}

// Tally counts reactions per type for one article.
type Tally struct {
	Like    int64 `json:"like"`
	Dislike int64 `json:"dislike"`
	Neutral int64 `json:"neutral"`
	Total   int64 `json:"total"`
}

// Add records count reactions of type t. Unknown types are ignored.
func (t *Tally) Add(reaction ReactionType, count int64) {
	switch reaction {
	case ReactionLike:
		t.Like += count
	case ReactionDislike:
		t.Dislike += count
	case ReactionNeutral:
		t.Neutral += count
	default:
		return
	}
	t.Total += count
}

// Sentiment is the dominant reaction of a tally.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)
