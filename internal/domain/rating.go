package domain

// MinRating and MaxRating bound a review's rating.
const (
	MinRating = 1
	MaxRating = 5
)

// RatingStats is the integer sum and count of a book's active review ratings,
// as returned by the store's grouping query.
type RatingStats struct {
	Sum   int64
	Count int64
}

// RatingSummary is the derived state persisted on a book.
type RatingSummary struct {
	AverageRating float64 `json:"averageRating"`
	TotalRatings  int     `json:"totalRatings"`
}

// Summary returns the mean rounded to one decimal, half away from zero. The
// rounding is done on integers: tenths = round(10*sum/count) =
// floor((20*sum + count) / (2*count)) for non-negative sums, so a tie such as
// 3.25 can never be perturbed by binary floating point.
func (s RatingStats) Summary() RatingSummary {
	if s.Count <= 0 {
		return RatingSummary{}
	}
	tenths := (20*s.Sum + s.Count) / (2 * s.Count)
	avg := float64(tenths) / 10
	if avg > MaxRating {
		avg = MaxRating
	}
	if avg < 0 {
		avg = 0
	}
	return RatingSummary{AverageRating: avg, TotalRatings: int(s.Count)}
}

// IsValidRating reports whether r is within [MinRating, MaxRating].
func IsValidRating(r int) bool {
	return r >= MinRating && r <= MaxRating
}
