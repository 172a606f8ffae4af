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

// BookHandler handles HTTP requests for book endpoints.
type BookHandler struct {
	service *service.BookService
	logger  *slog.Logger
}

// NewBookHandler creates a new book HTTP handler.
func NewBookHandler(svc *service.BookService, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// CreateBookRequest is the JSON request body for creating a book.
type CreateBookRequest struct {
	Title         string   `json:"title" validate:"required,max=300"`
	Author        string   `json:"author" validate:"required,max=200"`
	ISBN          string   `json:"isbn" validate:"omitempty,max=20"`
	Description   string   `json:"description" validate:"max=5000"`
	Genres        []string `json:"genres" validate:"max=10,dive,max=50"`
	PublishedYear int      `json:"publishedYear" validate:"omitempty,min=1,max=3000"`
	CoverURL      string   `json:"coverUrl" validate:"omitempty,url"`
}

// UpdateBookRequest is the JSON request body for a partial catalog edit.
// Rating fields are not accepted.
type UpdateBookRequest struct {
	Title         *string   `json:"title" validate:"omitempty,max=300"`
	Author        *string   `json:"author" validate:"omitempty,max=200"`
	ISBN          *string   `json:"isbn" validate:"omitempty,max=20"`
	Description   *string   `json:"description" validate:"omitempty,max=5000"`
	Genres        *[]string `json:"genres" validate:"omitempty,max=10,dive,max=50"`
	PublishedYear *int      `json:"publishedYear" validate:"omitempty,min=1,max=3000"`
	CoverURL      *string   `json:"coverUrl" validate:"omitempty,url"`
}

// --- Handlers ---

// ListBooks handles GET /api/v1/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	q := r.URL.Query()

	books, total, err := h.service.List(r.Context(), domain.BookFilter{
		Query:   q.Get("q"),
		Genre:   q.Get("genre"),
		Page:    params.Page,
		PerPage: params.PerPage,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(books, total, params))
}

// GetBook handles GET /api/v1/books/{idOrSlug}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), middleware.IsAdmin(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, book)
}

// CreateBook handles POST /api/v1/books
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req CreateBookRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	book, err := h.service.Create(r.Context(), &service.CreateBookInput{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Description:   req.Description,
		Genres:        req.Genres,
		PublishedYear: req.PublishedYear,
		CoverURL:      req.CoverURL,
		CreatedBy:     middleware.UserIDFromContext(r.Context()),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, book)
}

// UpdateBook handles PATCH /api/v1/books/{id}
func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req UpdateBookRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	book, err := h.service.Update(r.Context(), id, domain.BookUpdate{
		Title:         req.Title,
		Author:        req.Author,
		ISBN:          req.ISBN,
		Description:   req.Description,
		Genres:        req.Genres,
		PublishedYear: req.PublishedYear,
		CoverURL:      req.CoverURL,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, book)
}

// DeleteBook handles DELETE /api/v1/books/{id}
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteNoContent(w)
}

// RecomputeRating handles POST /api/v1/books/{id}/rating/recompute
func (h *BookHandler) RecomputeRating(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	summary, err := h.service.RecomputeRating(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, summary)
}
