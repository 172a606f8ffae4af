package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/internal/service"
	"github.com/utafrali/bookshelf/pkg/httputil"
	"github.com/utafrali/bookshelf/pkg/middleware"
	"github.com/utafrali/bookshelf/pkg/pagination"
	"github.com/utafrali/bookshelf/pkg/validator"
)

// ReviewHandler handles HTTP requests for review and interaction endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	ledger  *service.InteractionLedger
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, ledger *service.InteractionLedger, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		ledger:  ledger,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateReviewRequest is the JSON request body for creating a review.
type CreateReviewRequest struct {
	Rating           int    `json:"rating" validate:"required,min=1,max=5"`
	Title            string `json:"title" validate:"required,max=200"`
	Content          string `json:"content" validate:"required,max=10000"`
	ContainsSpoilers bool   `json:"containsSpoilers"`
}

// UpdateReviewRequest is the JSON request body for a partial review edit.
type UpdateReviewRequest struct {
	Rating           *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Title            *string `json:"title" validate:"omitempty,max=200"`
	Content          *string `json:"content" validate:"omitempty,max=10000"`
	ContainsSpoilers *bool   `json:"containsSpoilers"`
}

func requester(r *http.Request) service.Requester {
	return service.Requester{
		UserID:  middleware.UserIDFromContext(r.Context()),
		IsAdmin: middleware.IsAdmin(r.Context()),
	}
}

func reviewFilter(r *http.Request) (domain.ReviewFilter, pagination.Params) {
	params := pagination.FromRequest(r)
	return domain.ReviewFilter{
		Sort:    pagination.SortFromRequest(r, domain.SortNewest, domain.ValidReviewSorts()...),
		Page:    params.Page,
		PerPage: params.PerPage,
	}, params
}

// --- Handlers ---

// ListBookReviews handles GET /api/v1/books/{id}/reviews
func (h *ReviewHandler) ListBookReviews(w http.ResponseWriter, r *http.Request) {
	bookID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	filter, params := reviewFilter(r)
	reviews, total, err := h.service.ListByBook(r.Context(), bookID, filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(reviews, total, params))
}

// ListUserReviews handles GET /api/v1/users/{id}/reviews
func (h *ReviewHandler) ListUserReviews(w http.ResponseWriter, r *http.Request) {
	filter, params := reviewFilter(r)
	reviews, total, err := h.service.ListByUser(r.Context(), chi.URLParam(r, "id"), filter)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(reviews, total, params))
}

// CreateReview handles POST /api/v1/books/{id}/reviews
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	bookID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req CreateReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	review, err := h.service.Create(r.Context(), &service.CreateReviewInput{
		UserID:           middleware.UserIDFromContext(r.Context()),
		BookID:           bookID,
		Rating:           req.Rating,
		Title:            req.Title,
		Content:          req.Content,
		ContainsSpoilers: req.ContainsSpoilers,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, review)
}

// GetReview handles GET /api/v1/reviews/{id}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	review, err := h.service.Get(r.Context(), id, requester(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// UpdateReview handles PATCH /api/v1/reviews/{id}
func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateReviewRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	review, err := h.service.Update(r.Context(), id, requester(r), domain.ReviewUpdate{
		Rating:           req.Rating,
		Title:            req.Title,
		Content:          req.Content,
		ContainsSpoilers: req.ContainsSpoilers,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// DeleteReview handles DELETE /api/v1/reviews/{id}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id, requester(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteNoContent(w)
}

// ToggleHelpful handles POST /api/v1/reviews/{id}/helpful
func (h *ReviewHandler) ToggleHelpful(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, domain.InteractionHelpful)
}

// ToggleLike handles POST /api/v1/reviews/{id}/like
func (h *ReviewHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, domain.InteractionLike)
}

func (h *ReviewHandler) toggle(w http.ResponseWriter, r *http.Request, kind domain.InteractionKind) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	res, err := h.ledger.Toggle(r.Context(), id, middleware.UserIDFromContext(r.Context()), kind)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}
