package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/application/access"
	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/config"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/persistence/memory"
	"shayak-swasth-rag/internal/interfaces/http/handler"
	"shayak-swasth-rag/internal/interfaces/http/middleware"
	apperrors "shayak-swasth-rag/pkg/errors"
	"shayak-swasth-rag/pkg/utils"
)

// --- Mock implementations ---

type stubIngestor struct {
	docs      *memory.DocumentRepository
	submitted []*entity.IngestRequest
	err       error
}

func (s *stubIngestor) Submit(ctx context.Context, req *entity.IngestRequest) (*entity.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.submitted = append(s.submitted, req)
	doc, err := s.docs.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = entity.NewDocument(req.DocumentID, req.OwnerID, req.Filename, req.ContentType)
		if err := s.docs.Create(ctx, doc); err != nil {
			return nil, err
		}
	}
	return s.docs.MarkPending(ctx, req.DocumentID, time.Hour)
}

func (s *stubIngestor) Ingest(context.Context, *entity.IngestRequest) (*ingestion.Result, error) {
	return nil, errors.New("not used")
}

type stubAsker struct {
	req  query.Request
	resp *query.Response
	err  error
}

func (s *stubAsker) Ask(_ context.Context, req query.Request) (*query.Response, error) {
	s.req = req
	return s.resp, s.err
}

type stubVersions struct{}

func (stubVersions) Versions(context.Context, string) ([]vectorindex.VersionInfo, error) {
	return []vectorindex.VersionInfo{{Version: 1, Size: 10}, {Version: 2, Size: 12}}, nil
}

type failingChecker struct{}

func (failingChecker) HealthCheck(context.Context) error { return errors.New("connection refused") }

type limitAll struct{}

func (limitAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

// --- Helpers ---

type fixture struct {
	engine   *gin.Engine
	docs     *memory.DocumentRepository
	grants   *memory.GrantRepository
	ingestor *stubIngestor
	asker    *stubAsker
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "rag-test"
	cfg.App.Env = "test"
	cfg.Observability.Metrics.Enabled = true
	cfg.Observability.Metrics.Path = "/metrics"
	cfg.Security.JWT.Secret = "secret"
	cfg.Security.JWT.Issuer = "rag"
	return cfg
}

func newFixture(t *testing.T, mutate func(*config.Config), limiter middleware.RateLimiter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	docs := memory.NewDocumentRepository()
	grants := memory.NewGrantRepository()
	filter := access.NewFilter(docs, grants, nil)
	ingestor := &stubIngestor{docs: docs}
	asker := &stubAsker{resp: &query.Response{}}

	r := New(cfg, Handlers{
		Health:    handler.NewHealthHandler("test", handler.Dependency{Name: "milvus", Checker: failingChecker{}}),
		Documents: handler.NewDocumentHandler(docs, ingestor, filter, stubVersions{}, false),
		Query:     handler.NewQueryHandler(asker),
		Grants:    handler.NewGrantHandler(docs, grants),
	}, limiter)

	return &fixture{engine: r.Engine(), docs: docs, grants: grants, ingestor: ingestor, asker: asker}
}

func (f *fixture) do(t *testing.T, method, path string, body any, principal *entity.Principal) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if principal != nil {
		req.Header.Set(middleware.PrincipalIDHeader, principal.ID)
		req.Header.Set(middleware.PrincipalRoleHeader, string(principal.Role))
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) createDoc(t *testing.T, id, owner string) {
	t.Helper()
	require.NoError(t, f.docs.Create(context.Background(), entity.NewDocument(id, owner, id+".pdf", entity.ContentTypePDF)))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var (
	patientA  = &entity.Principal{ID: "patient-a", Role: entity.RolePatient}
	patientB  = &entity.Principal{ID: "patient-b", Role: entity.RolePatient}
	clinician = &entity.Principal{ID: "doc-1", Role: entity.RoleClinician}
	admin     = &entity.Principal{ID: "admin-1", Role: entity.RoleAdmin}
)

// --- Tests ---

func TestRouter_SystemEndpoints(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// 可选依赖失败不影响就绪
	w = f.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")

	w = f.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequiresPrincipal(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "q"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_JWTAuth(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Security.JWT.Enabled = true }, nil)

	token, err := utils.NewJWTManager("secret", "rag").GenerateToken("doc-1", "doctor", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(`{"query":"bp trend"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, entity.Principal{ID: "doc-1", Role: entity.RoleClinician}, f.asker.req.Principal)

	// 开启 JWT 后不再信任请求头
	w = f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "q"}, clinician)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_SubmitDocument(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/v1/documents", map[string]any{
		"document_id":    "d1",
		"filename":       "scan.DCM",
		"extracted_text": "patient history",
	}, patientA)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Len(t, f.ingestor.submitted, 1)
	req := f.ingestor.submitted[0]
	assert.Equal(t, "patient-a", req.OwnerID)
	assert.Equal(t, entity.ContentTypeDICOM, req.ContentType)

	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
}

func TestRouter_SubmitRejectsForeignDocument(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.createDoc(t, "d1", "patient-a")

	w := f.do(t, http.MethodPost, "/v1/documents", map[string]any{"document_id": "d1", "extracted_text": "x"}, patientB)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.ingestor.submitted)
}

func TestRouter_SubmitAlreadyProcessing(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.ingestor.err = apperrors.ErrAlreadyProcessing.WithDetail("d1")

	w := f.do(t, http.MethodPost, "/v1/documents", map[string]any{"document_id": "d1", "extracted_text": "x"}, patientA)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode(t, w)
	assert.Equal(t, string(apperrors.CodeAlreadyProcessing), body["error"].(map[string]any)["error_code"])
}

func TestRouter_GetDocumentHonoursAccess(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.createDoc(t, "d1", "patient-a")

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/documents/d1", nil, patientA).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/documents/d1", nil, clinician).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/documents/d1", nil, admin).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/documents/missing", nil, admin).Code)
}

func TestRouter_GrantLifecycle(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.createDoc(t, "d1", "patient-a")

	// 非所有者不能分享
	w := f.do(t, http.MethodPost, "/v1/documents/d1/grants", map[string]any{"principal_id": "doc-1"}, patientB)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/v1/documents/d1/grants", map[string]any{"principal_id": "doc-1", "permission": "bogus"}, patientA)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/documents/d1/grants", map[string]any{"principal_id": "doc-1"}, patientA)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "read", decode(t, w)["data"].(map[string]any)["permission"])

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/documents/d1", nil, clinician).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/documents/d1/grants", nil, patientA).Code)

	w = f.do(t, http.MethodDelete, "/v1/documents/d1/grants/doc-1", nil, patientA)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/documents/d1", nil, clinician).Code)

	w = f.do(t, http.MethodDelete, "/v1/documents/d1/grants/doc-1", nil, patientA)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_Query(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.asker.resp = &query.Response{
		Results: []retrieval.Result{{DocumentID: "d1", Sequence: 2, Text: "bp 120/80", Score: 0.9}},
		Answer: &synthesis.Answer{
			Text:       "Blood pressure was normal [1].",
			Citations:  []synthesis.Citation{{DocumentID: "d1", Sequence: 2}},
			Confidence: synthesis.ConfidenceMedium,
			Mode:       synthesis.ModeGenerative,
		},
	}

	w := f.do(t, http.MethodPost, "/v1/query", map[string]any{
		"query":          "blood pressure",
		"document_scope": []string{"d1"},
		"k":              3,
		"want_answer":    true,
	}, clinician)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "blood pressure", f.asker.req.Query)
	assert.Equal(t, []string{"d1"}, f.asker.req.DocumentScope)
	require.NotNil(t, f.asker.req.K)
	assert.Equal(t, 3, *f.asker.req.K)
	assert.True(t, f.asker.req.WantAnswer)

	data := decode(t, w)["data"].(map[string]any)
	results := data["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "d1", first["document_id"])
	assert.EqualValues(t, 2, first["chunk_sequence_index"])
	answer := data["answer"].(map[string]any)
	assert.Equal(t, "generative", answer["mode"])
}

func TestRouter_QueryErrors(t *testing.T) {
	f := newFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": ""}, clinician)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.asker.req = query.Request{}
	for _, k := range []int{0, -3} {
		w = f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "bp", "k": k}, clinician)
		assert.Equal(t, http.StatusBadRequest, w.Code, "k=%d", k)
	}
	assert.Empty(t, f.asker.req.Query)

	w = f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "bp"}, clinician)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.asker.req.K)

	f.asker.err = apperrors.ErrIndexNotFound.WithDetail("d1")
	w = f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "q", "document_scope": []string{"d1"}}, clinician)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_VersionsRequireSystemScope(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.createDoc(t, "d1", "patient-a")

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/v1/documents/d1/versions", nil, patientA).Code)

	w := f.do(t, http.MethodGet, "/v1/documents/d1/versions", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	versions := decode(t, w)["data"].(map[string]any)["versions"].([]any)
	assert.Len(t, versions, 2)
}

func TestRouter_RateLimit(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.Security.RateLimit.Enabled = true }, limitAll{})

	w := f.do(t, http.MethodPost, "/v1/query", map[string]any{"query": "q"}, clinician)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// 探活不限流
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", nil, nil).Code)
}
