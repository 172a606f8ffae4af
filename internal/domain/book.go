package domain

import (
	"time"
)

// Book is a catalog entry. AverageRating and TotalRatings are derived from the
// book's active reviews and are written only by the rating aggregator.
type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Slug          string    `json:"slug"`
	Author        string    `json:"author"`
	ISBN          string    `json:"isbn,omitempty"`
	Description   string    `json:"description,omitempty"`
	Genres        []string  `json:"genres"`
	PublishedYear int       `json:"publishedYear,omitempty"`
	CoverURL      string    `json:"coverUrl,omitempty"`
	AverageRating float64   `json:"averageRating"`
	TotalRatings  int       `json:"totalRatings"`
	IsActive      bool      `json:"isActive"`
	CreatedBy     string    `json:"createdBy"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// BookUpdate carries the catalog fields of a partial edit. Nil fields are
// left unchanged. There are deliberately no rating fields.
type BookUpdate struct {
	Title         *string
	Author        *string
	ISBN          *string
	Description   *string
	Genres        *[]string
	PublishedYear *int
	CoverURL      *string
}

// IsEmpty reports whether the update changes nothing.
func (u BookUpdate) IsEmpty() bool {
	return u.Title == nil && u.Author == nil && u.ISBN == nil && u.Description == nil &&
		u.Genres == nil && u.PublishedYear == nil && u.CoverURL == nil
}

// BookFilter defines filter criteria for listing active books.
type BookFilter struct {
	Query   string
	Genre   string
	Page    int
	PerPage int
}
