package model

import "time"

// PageRequest asks a listing endpoint for one page. Providers use whichever
// of Cursor or Page they understand.
type PageRequest struct {
	Cursor        string
	Page          int
	PageSize      int
	ModifiedSince time.Time
}

// Page is one batch returned by a listing endpoint
type Page[T any] struct {
	Items []T

	// NextCursor is the opaque continuation token, empty when absent
	NextCursor string
	// CurrentPage and NextPage are set by page-number providers; zero when absent
	CurrentPage int
	NextPage    int

	// Total is the provider's stated collection size, valid when HasTotal
	Total    int
	HasTotal bool
}
