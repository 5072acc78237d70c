package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/service"
)

type fakeRAG struct {
	matches   []*model.Match
	err       error
	syncCalls int
	syncErr   error
	queries   []string
}

func (f *fakeRAG) Retrieve(ctx context.Context, query string) ([]*model.Match, error) {
	f.queries = append(f.queries, query)
	return f.matches, f.err
}

func (f *fakeRAG) Sync(ctx context.Context) (*service.SyncResult, error) {
	f.syncCalls++
	f.syncErr = ctx.Err()
	if f.err != nil {
		return nil, f.err
	}
	return &service.SyncResult{Chunks: 3}, nil
}

func (f *fakeRAG) Status(ctx context.Context) (*model.IndexStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.IndexStatus{State: model.IndexStateDeployed, IndexName: "idx"}, nil
}

type apiResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"message"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(svc RAGAPI) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	RegisterRoutes(engine.Group("/api/v1"), RouterDeps{RAG: NewRAGHandler(svc), SyncWindow: time.Minute})
	return engine
}

func doRequest(t *testing.T, router *gin.Engine, method, path string) apiResult {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var out apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestRetrieveReturnsMatches(t *testing.T) {
	svc := &fakeRAG{matches: []*model.Match{{ID: "1", Text: "Le produit coûte 10 euros.", Distance: 0.9}}}
	router := setupRouter(svc)

	res := doRequest(t, router, http.MethodGet, "/api/v1/retrieve?q=prix")
	require.Equal(t, 0, res.Code)
	var body retrieveResponse
	require.NoError(t, json.Unmarshal(res.Data, &body))
	require.Equal(t, "prix", body.Query)
	require.Len(t, body.Matches, 1)
	require.Equal(t, "1", body.Matches[0].ID)
	require.Equal(t, []string{"prix"}, svc.queries)
}

func TestRetrieveRequiresQuery(t *testing.T) {
	svc := &fakeRAG{}
	res := doRequest(t, setupRouter(svc), http.MethodGet, "/api/v1/retrieve?q=%20")
	require.Equal(t, errcode.ErrInvalid, res.Code)
	require.Empty(t, svc.queries)
}

func TestRetrieveIndexNotDeployed(t *testing.T) {
	svc := &fakeRAG{err: fmt.Errorf("index idx is not deployed: %w", appErr.ErrNotFound)}
	res := doRequest(t, setupRouter(svc), http.MethodGet, "/api/v1/retrieve?q=prix")
	require.Equal(t, errcode.ErrIndexNotReady, res.Code)
}

func TestStatus(t *testing.T) {
	res := doRequest(t, setupRouter(&fakeRAG{}), http.MethodGet, "/api/v1/status")
	require.Equal(t, 0, res.Code)
	var status model.IndexStatus
	require.NoError(t, json.Unmarshal(res.Data, &status))
	require.Equal(t, model.IndexStateDeployed, status.State)
}

func TestStatusMapsErrors(t *testing.T) {
	svc := &fakeRAG{err: fmt.Errorf("lookup: %w", appErr.ErrAmbiguous)}
	res := doRequest(t, setupRouter(svc), http.MethodGet, "/api/v1/status")
	require.Equal(t, errcode.ErrConflict, res.Code)

	svc.err = fmt.Errorf("boom")
	res = doRequest(t, setupRouter(svc), http.MethodGet, "/api/v1/status")
	require.Equal(t, errcode.ErrInternal, res.Code)
}

func TestSyncIsRateLimited(t *testing.T) {
	svc := &fakeRAG{}
	router := setupRouter(svc)

	res := doRequest(t, router, http.MethodPost, "/api/v1/sync")
	require.Equal(t, 0, res.Code)
	var out service.SyncResult
	require.NoError(t, json.Unmarshal(res.Data, &out))
	require.Equal(t, 3, out.Chunks)

	res = doRequest(t, router, http.MethodPost, "/api/v1/sync")
	require.Equal(t, errcode.ErrTooMany, res.Code)
	require.Equal(t, 1, svc.syncCalls)
}

func TestSyncFailure(t *testing.T) {
	svc := &fakeRAG{err: fmt.Errorf("chunk: %w", appErr.ErrUnavailable)}
	res := doRequest(t, setupRouter(svc), http.MethodPost, "/api/v1/sync")
	require.Equal(t, errcode.ErrAIUnavailable, res.Code)
}

func TestSyncOutlivesClientDisconnect(t *testing.T) {
	svc := &fakeRAG{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil).WithContext(ctx)
	resp := httptest.NewRecorder()
	setupRouter(svc).ServeHTTP(resp, req)

	require.Equal(t, 1, svc.syncCalls)
	require.NoError(t, svc.syncErr)
	var out apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	require.Equal(t, 0, out.Code)
}
