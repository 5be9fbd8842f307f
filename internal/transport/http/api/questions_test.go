package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teachhelper-console/internal/transport/http/client"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestGenerationSurvivesRegularTimeout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/questions/{id}/generate-reference-answer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer t.o.k", r.Header.Get("Authorization"))
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, map[string]any{"referenceAnswer": "答案" + r.PathValue("id")})
	})
	mux.HandleFunc("GET /api/questions/{id}", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		writeJSON(w, map[string]any{"id": 5})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := client.New(client.Options{BaseURL: srv.URL + "/api", Timeout: 100 * time.Millisecond})
	c.Bind(staticToken("t.o.k"), nil)
	svc := New(c, nil)

	_, err := svc.Questions.Get(context.Background(), 5)
	assert.Error(t, err, "regular calls keep the short timeout")

	answer, ran, err := svc.Questions.GenerateReferenceAnswer(context.Background(), 5)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, "答案5", answer)
}

func TestGenerateQuestionsCreatesTaskOnce(t *testing.T) {
	release := make(chan struct{})
	arrived := make(chan struct{}, 1)
	var hits atomic.Int32
	var body NewTask

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		arrived <- struct{}{}
		<-release
		writeJSON(w, map[string]any{"id": 77})
	})
	svc := newServices(t, mux)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var taskID string
	go func() {
		defer wg.Done()
		var err error
		taskID, _, err = svc.Questions.Generate(ctx, GenerationRequest{QuestionTypes: []string{"ESSAY", "SHORT_ANSWER"}, Count: 3})
		assert.NoError(t, err)
	}()
	<-arrived

	_, ran, err := svc.Questions.Generate(ctx, GenerationRequest{Count: 1})
	require.NoError(t, err)
	assert.False(t, ran, "second generation dropped while the first is submitted")

	close(release)
	wg.Wait()
	assert.Equal(t, "77", taskID)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, TaskTypeAIGeneration, body.Type)
	assert.Equal(t, "AI题目生成 - ESSAY, SHORT_ANSWER", body.Name)
	assert.Equal(t, "生成3道题目", body.Description)
	assert.Equal(t, ActionGenerateQuestions, body.Configuration["action"])
	assert.True(t, body.AutoStart)
}

func TestQuestionFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/questions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "AI_GENERATED", q.Get("source"))
		assert.Equal(t, "4", q.Get("sourceKnowledgeBaseId"))
		assert.Empty(t, q.Get("examId"))
		writeJSON(w, map[string]any{"content": []map[string]any{{"id": 1, "title": "牛顿第二定律"}}, "totalElements": 1})
	})
	svc := newServices(t, mux)

	page, err := svc.Questions.List(context.Background(), QuestionFilter{Page: 0, Size: 10, Source: "AI_GENERATED", KnowledgeBaseID: 4})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "牛顿第二定律", page.Content[0].Title)
}

func TestKnowledgeListAndSearch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/knowledge-bases", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "物理", r.URL.Query().Get("query"))
		assert.Equal(t, "20", r.URL.Query().Get("size"))
		writeJSON(w, map[string]any{"content": []map[string]any{{"id": 4, "name": "高中物理", "subject": "物理", "gradeLevel": "高一"}}, "totalElements": 1})
	})
	mux.HandleFunc("POST /api/vector-search", func(w http.ResponseWriter, r *http.Request) {
		var req VectorSearch
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "加速度", req.Query)
		writeJSON(w, []map[string]any{{"id": "c-1", "content": "a = F / m", "score": 0.92}})
	})
	mux.HandleFunc("GET /api/vector-search/history", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []any{"加速度", map[string]any{"query": "动量"}})
	})
	svc := newServices(t, mux)
	ctx := context.Background()

	kbs, err := svc.Knowledge.List(ctx, KnowledgeQuery{Query: "物理"})
	require.NoError(t, err)
	require.Len(t, kbs.Content, 1)
	assert.Equal(t, "高中物理", kbs.Content[0].Name)

	hits, err := svc.Knowledge.Search(ctx, VectorSearch{Query: "加速度", MaxResults: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)

	history, err := svc.Knowledge.SearchHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"加速度", "动量"}, history)
}
