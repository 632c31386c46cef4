package models

import "time"

// SourceRow is one film work as read from Postgres, with genres and
// role-filtered person names already aggregated into lists.
// Aggregates are nil when the work has no linked rows of that kind.
type SourceRow struct {
	ID          string
	Title       string
	Description *string
	Rating      *float64
	Modified    time.Time
	Genres      []string
	Actors      []string
	Directors   []string
	Writers     []string
}

// Document is the shape written to the search index.
// ID doubles as the index document id, so re-indexing overwrites in place.
type Document struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description *string  `json:"description"`
	IMDBRating  *float64 `json:"imdb_rating"`
	Modified    string   `json:"modified"`
	Genres      []string `json:"genres"`
	Actors      []string `json:"actors"`
	Directors   []string `json:"directors"`
	Writers     []string `json:"writers"`
}
