package elasticsearch

// DefaultIndexName is the index used when none is configured.
const DefaultIndexName = "bookshelf_books"

// indexMapping is the settings and mapping of the books index. Only active
// books are indexed, so there is no activity field.
const indexMapping = `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "folding": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase", "asciifolding"]
        }
      }
    }
  },
  "mappings": {
    "properties": {
      "id":             { "type": "keyword" },
      "title":          { "type": "text", "analyzer": "english", "fields": { "folded": { "type": "text", "analyzer": "folding" }, "keyword": { "type": "keyword", "ignore_above": 256 } } },
      "author":         { "type": "text", "analyzer": "folding", "fields": { "keyword": { "type": "keyword", "ignore_above": 256 } } },
      "slug":           { "type": "keyword" },
      "isbn":           { "type": "keyword" },
      "description":    { "type": "text", "analyzer": "english" },
      "genres":         { "type": "keyword" },
      "published_year": { "type": "integer" },
      "created_at":     { "type": "date" }
    }
  }
}`
