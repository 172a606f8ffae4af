package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RatingRecomputations counts aggregator runs by result.
	RatingRecomputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_rating_recomputations_total",
			Help: "Rating recomputations by result (ok, book_not_found, error).",
		},
		[]string{"result"},
	)

	// InteractionToggles counts voter-set toggles by kind and direction.
	InteractionToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookshelf_review_interaction_toggles_total",
			Help: "Review helpful/like toggles by kind and direction (on, off).",
		},
		[]string{"kind", "direction"},
	)

	// ReviewsCountClamped counts decrements that would have gone below zero.
	ReviewsCountClamped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookshelf_reviews_count_clamped_total",
			Help: "User reviewsCount decrements clamped at zero.",
		},
	)
)
