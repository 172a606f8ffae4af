package domain

import (
	"time"
)

// Review is one user's review of one book. At most one review exists per
// (UserID, BookID), active or not.
type Review struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	BookID           string    `json:"bookId"`
	Rating           int       `json:"rating"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	ContainsSpoilers bool      `json:"containsSpoilers"`
	Helpful          VoterSet  `json:"helpful"`
	Likes            VoterSet  `json:"likes"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ReviewUpdate carries the present fields of a partial review edit.
type ReviewUpdate struct {
	Rating           *int
	Title            *string
	Content          *string
	ContainsSpoilers *bool
}

// IsEmpty reports whether no field is present.
func (u ReviewUpdate) IsEmpty() bool {
	return u.Rating == nil && u.Title == nil && u.Content == nil && u.ContainsSpoilers == nil
}

// InteractionKind names a review voter set.
type InteractionKind string

const (
	InteractionHelpful InteractionKind = "helpful"
	InteractionLike    InteractionKind = "likes"
)

// IsValid reports whether k names a known voter set.
func (k InteractionKind) IsValid() bool {
	return k == InteractionHelpful || k == InteractionLike
}

// ToggleResult is the state of a voter set after a toggle.
type ToggleResult struct {
	Count       int  `json:"count"`
	IsSetByUser bool `json:"isSetByUser"`
}

// Review list orderings.
const (
	SortNewest      = "newest"
	SortOldest      = "oldest"
	SortHighest     = "highest"
	SortLowest      = "lowest"
	SortMostHelpful = "helpful"
)

// ValidReviewSorts returns the accepted review orderings.
func ValidReviewSorts() []string {
	return []string{SortNewest, SortOldest, SortHighest, SortLowest, SortMostHelpful}
}

// ReviewFilter selects active reviews by book or by author.
type ReviewFilter struct {
	BookID  string
	UserID  string
	Sort    string
	Page    int
	PerPage int
}
