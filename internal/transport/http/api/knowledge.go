package api

import (
	"context"
	"net/url"

	"github.com/bytedance/sonic"

	"teachhelper-console/internal/transport/http/client"
)

// KnowledgeBase is a knowledge base as listed by the backend.
type KnowledgeBase struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Subject        string   `json:"subject"`
	GradeLevel     string   `json:"gradeLevel"`
	Status         string   `json:"status,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	DocumentCount  int      `json:"documentCount,omitempty"`
	QuestionCount  int      `json:"questionCount,omitempty"`
	CreateTime     string   `json:"createTime,omitempty"`
	UpdateTime     string   `json:"updateTime,omitempty"`
	LastAccessTime string   `json:"lastAccessTime,omitempty"`
	CreatedBy      string   `json:"createdBy,omitempty"`
}

// KnowledgeQuery narrows a knowledge base listing.
type KnowledgeQuery struct {
	Page     int
	Size     int
	Category string
	Query    string
}

func (k KnowledgeQuery) values() url.Values {
	size := k.Size
	if size <= 0 {
		size = 20
	}
	q := pageQuery(k.Page, size)
	if k.Category != "" {
		q.Set("category", k.Category)
	}
	if k.Query != "" {
		q.Set("query", k.Query)
	}
	return q
}

// VectorSearch is a semantic search over knowledge base content.
type VectorSearch struct {
	Query               string   `json:"query"`
	SearchScope         []string `json:"searchScope,omitempty"`
	SimilarityThreshold float64  `json:"similarityThreshold,omitempty"`
	MaxResults          int      `json:"maxResults,omitempty"`
}

// SearchHit is one vector search result.
type SearchHit struct {
	ID              string         `json:"id"`
	Content         string         `json:"content"`
	Score           float64        `json:"score"`
	KnowledgeBaseID int64          `json:"knowledgeBaseId,omitempty"`
	Source          string         `json:"source,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// KnowledgeAPI is the knowledge base resource.
type KnowledgeAPI struct {
	c *client.Client
}

// List pages through knowledge bases.
func (k *KnowledgeAPI) List(ctx context.Context, query KnowledgeQuery) (Page[KnowledgeBase], error) {
	return get[Page[KnowledgeBase]](ctx, k.c, "/knowledge-bases", query.values())
}

// Get fetches one knowledge base.
func (k *KnowledgeAPI) Get(ctx context.Context, kbID int64) (KnowledgeBase, error) {
	return get[KnowledgeBase](ctx, k.c, "/knowledge-bases/"+id(kbID), nil)
}

// Favorites lists the signed-in user's favourite knowledge bases.
func (k *KnowledgeAPI) Favorites(ctx context.Context) ([]KnowledgeBase, error) {
	return get[[]KnowledgeBase](ctx, k.c, "/knowledge-bases/favorites", nil)
}

// Recent lists recently opened knowledge bases.
func (k *KnowledgeAPI) Recent(ctx context.Context) ([]KnowledgeBase, error) {
	return get[[]KnowledgeBase](ctx, k.c, "/knowledge-bases/recent", nil)
}

// Subjects lists the subjects knowledge bases are filed under.
func (k *KnowledgeAPI) Subjects(ctx context.Context) ([]string, error) {
	return get[[]string](ctx, k.c, "/knowledge-bases/subjects", nil)
}

// Search runs a vector search. A zero MaxResults is left to the backend.
func (k *KnowledgeAPI) Search(ctx context.Context, req VectorSearch) ([]SearchHit, error) {
	hits, err := post[Page[SearchHit]](ctx, k.c, "/vector-search", req)
	return hits.Content, err
}

// SearchHistory lists previous search queries.
func (k *KnowledgeAPI) SearchHistory(ctx context.Context) ([]string, error) {
	page, err := get[Page[searchHistoryItem]](ctx, k.c, "/vector-search/history", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(page.Content))
	for _, item := range page.Content {
		out = append(out, item.Query)
	}
	return out, nil
}

// searchHistoryItem accepts both bare query strings and {query: ...}.
type searchHistoryItem struct {
	Query string
}

func (s *searchHistoryItem) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return sonic.Unmarshal(data, &s.Query)
	}
	var obj struct {
		Query string `json:"query"`
	}
	if err := sonic.Unmarshal(data, &obj); err != nil {
		return err
	}
	s.Query = obj.Query
	return nil
}
