// Package elasticsearch serves book text search from an Elasticsearch index.
// The index holds the searchable catalog fields only; callers load the books
// themselves from the store by the returned ids, so derived rating fields are
// never read from the index.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/utafrali/bookshelf/internal/domain"
	"github.com/utafrali/bookshelf/pkg/database"
	"github.com/utafrali/bookshelf/pkg/pagination"
)

// Engine indexes and searches books.
type Engine struct {
	client    *elasticsearch.Client
	indexName string
	logger    *slog.Logger
}

// document is the indexed form of a book.
type document struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Slug          string    `json:"slug"`
	ISBN          string    `json:"isbn,omitempty"`
	Description   string    `json:"description,omitempty"`
	Genres        []string  `json:"genres"`
	PublishedYear int       `json:"published_year,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID string `json:"_id"`
		} `json:"hits"`
	} `json:"hits"`
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

// New connects to the cluster at url and creates the index when it is
// missing. An empty indexName means DefaultIndexName.
func New(ctx context.Context, url, indexName string, logger *slog.Logger) (*Engine, error) {
	if indexName == "" {
		indexName = DefaultIndexName
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	e := &Engine{client: client, indexName: indexName, logger: logger}
	if err := e.ensureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure index %s: %w", indexName, err)
	}
	return e, nil
}

// Ping checks that the cluster is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	res, err := e.client.Ping(e.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	defer drain(res)

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: unexpected status %s", res.Status())
	}
	return nil
}

func (e *Engine) ensureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.indexName}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index exists: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = e.client.Indices.Create(e.indexName,
		e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		e.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("create index", res)
	}

	e.logger.InfoContext(ctx, "elasticsearch index created", slog.String("index", e.indexName))
	return nil
}

// Index adds or replaces the book's document.
func (e *Engine) Index(ctx context.Context, book *domain.Book) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemElasticsearch, "books.Index", "index "+e.indexName)
	defer func() { end(err) }()

	data, err := json.Marshal(document{
		ID:            book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Slug:          book.Slug,
		ISBN:          book.ISBN,
		Description:   book.Description,
		Genres:        book.Genres,
		PublishedYear: book.PublishedYear,
		CreatedAt:     book.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal book %s: %w", book.ID, err)
	}

	res, err := e.client.Index(e.indexName, bytes.NewReader(data),
		e.client.Index.WithDocumentID(book.ID),
		e.client.Index.WithRefresh("wait_for"),
		e.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index book %s: %w", book.ID, err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("index book "+book.ID, res)
	}
	return nil
}

// Delete removes the book's document. A missing document is not an error.
func (e *Engine) Delete(ctx context.Context, id string) (err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemElasticsearch, "books.Delete", "delete "+e.indexName)
	defer func() { end(err) }()

	res, err := e.client.Delete(e.indexName, id,
		e.client.Delete.WithRefresh("wait_for"),
		e.client.Delete.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete book %s: %w", id, err)
	}
	defer drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return responseError("delete book "+id, res)
	}
	return nil
}

// Search returns the ids of the page of books matching filter.Query, best
// match first, and the total number of matches.
func (e *Engine) Search(ctx context.Context, filter domain.BookFilter) (_ []string, _ int, err error) {
	ctx, end := database.TraceOperation(ctx, database.SystemElasticsearch, "books.Search", "search "+e.indexName)
	defer func() { end(err) }()

	page := max(filter.Page, 1)
	perPage := filter.PerPage
	if perPage < 1 {
		perPage = pagination.DefaultPerPage
	}
	perPage = min(perPage, pagination.MaxPerPage)

	data, err := json.Marshal(buildQuery(filter, page, perPage))
	if err != nil {
		return nil, 0, fmt.Errorf("marshal search query: %w", err)
	}

	res, err := e.client.Search(
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(bytes.NewReader(data)),
		e.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("search books: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, 0, responseError("search books", res)
	}

	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, 0, fmt.Errorf("decode search response: %w", err)
	}

	ids := make([]string, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, out.Hits.Total.Value, nil
}

func buildQuery(filter domain.BookFilter, page, perPage int) map[string]any {
	boolQuery := map[string]any{
		"must": []any{
			map[string]any{
				"multi_match": map[string]any{
					"query":         filter.Query,
					"fields":        []string{"title^3", "title.folded^2", "author^2", "description"},
					"type":          "best_fields",
					"fuzziness":     "AUTO",
					"prefix_length": 1,
				},
			},
		},
	}
	if filter.Genre != "" {
		boolQuery["filter"] = []any{
			map[string]any{"term": map[string]any{"genres": filter.Genre}},
		}
	}

	return map[string]any{
		"query":            map[string]any{"bool": boolQuery},
		"from":             (page - 1) * perPage,
		"size":             perPage,
		"_source":          false,
		"track_total_hits": true,
		"sort": []any{
			map[string]any{"_score": "desc"},
			map[string]any{"created_at": "desc"},
		},
	}
}

func responseError(op string, res *esapi.Response) error {
	var body errorResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err == nil && body.Error.Type != "" {
		return fmt.Errorf("%s: %s: %s", op, body.Error.Type, body.Error.Reason)
	}
	return errors.New(op + ": unexpected status " + res.Status())
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
