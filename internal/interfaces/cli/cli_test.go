package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/application/ingestion"
	"shayak-swasth-rag/internal/application/query"
	"shayak-swasth-rag/internal/application/retrieval"
	"shayak-swasth-rag/internal/application/synthesis"
	"shayak-swasth-rag/internal/application/vectorindex"
	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/pkg/utils"
)

// --- Mock implementations ---

type fakeIngestor struct {
	got       *entity.IngestRequest
	submitted bool
	err       error
}

func (f *fakeIngestor) Ingest(_ context.Context, req *entity.IngestRequest) (*ingestion.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &ingestion.Result{DocumentID: req.DocumentID, Version: 1, ChunkCount: 3, Duration: 12 * time.Millisecond}, nil
}

func (f *fakeIngestor) Submit(_ context.Context, req *entity.IngestRequest) (*entity.Document, error) {
	f.got = req
	f.submitted = true
	return entity.NewDocument(req.DocumentID, req.OwnerID, req.Filename, req.ContentType), nil
}

type fakeDocuments struct {
	docs map[string]*entity.Document
}

func (f *fakeDocuments) GetByID(_ context.Context, id string) (*entity.Document, error) {
	return f.docs[id], nil
}

type fakeIndexes struct {
	versions  []vectorindex.VersionInfo
	evictedID string
	olderThan time.Duration
	all       bool
}

func (f *fakeIndexes) Versions(context.Context, string) ([]vectorindex.VersionInfo, error) {
	return f.versions, nil
}

func (f *fakeIndexes) Evict(_ context.Context, documentID string, olderThan time.Duration) (int, error) {
	f.evictedID, f.olderThan = documentID, olderThan
	return 2, nil
}

func (f *fakeIndexes) EvictAll(_ context.Context, olderThan time.Duration) (int, error) {
	f.all, f.olderThan = true, olderThan
	return 5, nil
}

type fakeAsker struct {
	got query.Request
}

func (f *fakeAsker) Ask(_ context.Context, req query.Request) (*query.Response, error) {
	f.got = req
	return &query.Response{
		Results: []retrieval.Result{{DocumentID: "d1", Sequence: 0, Text: "HbA1c 7.2%", Score: 0.91}},
		Answer:  &synthesis.Answer{Text: "HbA1c was 7.2% [1]", Mode: synthesis.ModeExtractive, Confidence: synthesis.ConfidenceLow},
	}, nil
}

// --- Helpers ---

type fixture struct {
	ingestor *fakeIngestor
	docs     *fakeDocuments
	indexes  *fakeIndexes
	asker    *fakeAsker
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ingestor: &fakeIngestor{},
		docs:     &fakeDocuments{docs: map[string]*entity.Document{}},
		indexes:  &fakeIndexes{},
		asker:    &fakeAsker{},
	}
	services = &Services{
		Ingestor:  f.ingestor,
		Documents: f.docs,
		Indexes:   f.indexes,
		Query:     f.asker,
		Retention: 24 * time.Hour,
		JWTSecret: "secret",
		JWTIssuer: "rag",
		TokenTTL:  time.Hour,
	}
	fs = afero.NewMemMapFs()

	ingestID, ingestOwner, ingestContentType, ingestAsync = "", "", "", false
	statusJSON = false
	evictOlderThan = 0
	queryAs, queryRole, queryScope, queryK, queryAnswer, queryJSON = "", "patient", nil, 0, false, false
	tokenRole, tokenTTL = "patient", 0
	queryCmd.Flags().Lookup("k").Changed = false

	t.Cleanup(func() {
		services = nil
		fs = afero.NewOsFs()
	})
	return f
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// --- Tests ---

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "ragctl", rootCmd.Use)

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "status", "index", "query", "token"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestIndexCommand_Subcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range indexCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["versions"])
	assert.True(t, names["evict"])
}

func TestIngest_Inline(t *testing.T) {
	f := setup(t)
	require.NoError(t, afero.WriteFile(fs, "/data/scan.dcm.txt", []byte("Findings: no acute abnormality."), 0o644))

	out, err := run(t, "ingest", "/data/scan.dcm.txt", "--id", "d1", "--owner", "patient-a")
	require.NoError(t, err)

	require.NotNil(t, f.ingestor.got)
	assert.False(t, f.ingestor.submitted)
	assert.Equal(t, "d1", f.ingestor.got.DocumentID)
	assert.Equal(t, "patient-a", f.ingestor.got.OwnerID)
	assert.Equal(t, entity.ContentTypeDICOM, f.ingestor.got.ContentType)
	assert.Equal(t, "Findings: no acute abnormality.", f.ingestor.got.Text)
	assert.Contains(t, out, "Indexed d1 version 1 (3 chunks")
}

func TestIngest_AsyncWithContentType(t *testing.T) {
	f := setup(t)
	require.NoError(t, afero.WriteFile(fs, "/data/notes.txt", []byte("text"), 0o644))

	out, err := run(t, "ingest", "/data/notes.txt", "--owner", "patient-a", "--content-type", "pdf", "--async")
	require.NoError(t, err)

	assert.True(t, f.ingestor.submitted)
	assert.NotEmpty(t, f.ingestor.got.DocumentID)
	assert.Equal(t, entity.ContentTypePDF, f.ingestor.got.ContentType)
	assert.Contains(t, out, "Queued")
}

func TestIngest_Errors(t *testing.T) {
	f := setup(t)

	_, err := run(t, "ingest", "/missing.txt")
	assert.ErrorContains(t, err, "--owner")

	_, err = run(t, "ingest", "/missing.txt", "--owner", "patient-a")
	assert.ErrorContains(t, err, "failed to read")

	require.NoError(t, afero.WriteFile(fs, "/empty.txt", []byte(""), 0o644))
	f.ingestor.err = errors.New("empty input")
	_, err = run(t, "ingest", "/empty.txt", "--owner", "patient-a")
	assert.ErrorContains(t, err, "ingestion failed")
}

func TestStatus(t *testing.T) {
	f := setup(t)
	doc := entity.NewDocument("d1", "patient-a", "lab.pdf", entity.ContentTypePDF)
	doc.MarkFailed(entity.FailureEmptyInput, "no text", time.Now())
	f.docs.docs["d1"] = doc

	out, err := run(t, "status", "d1")
	require.NoError(t, err)
	assert.Contains(t, out, "Status:       error")
	assert.Contains(t, out, "Failure:      empty_input: no text")

	out, err = run(t, "status", "d1", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"failure_kind": "empty_input"`)

	_, err = run(t, "status", "nope")
	assert.ErrorContains(t, err, "document not found")
}

func TestIndexVersions(t *testing.T) {
	f := setup(t)

	out, err := run(t, "index", "versions", "d1")
	require.NoError(t, err)
	assert.Contains(t, out, "No persisted versions")

	f.indexes.versions = []vectorindex.VersionInfo{
		{Version: 1, CreatedAt: time.Now().Add(-48 * time.Hour), Size: 1024},
		{Version: 2, CreatedAt: time.Now(), Size: 2048},
	}
	out, err = run(t, "index", "versions", "d1")
	require.NoError(t, err)
	assert.Contains(t, out, "v2")
	assert.Contains(t, out, "Total: 2 versions")
}

func TestIndexEvict(t *testing.T) {
	f := setup(t)

	out, err := run(t, "index", "evict", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d1", f.indexes.evictedID)
	assert.Equal(t, 24*time.Hour, f.indexes.olderThan)
	assert.Contains(t, out, "Evicted 2 versions")

	out, err = run(t, "index", "evict", "--older-than", "2h")
	require.NoError(t, err)
	assert.True(t, f.indexes.all)
	assert.Equal(t, 2*time.Hour, f.indexes.olderThan)
	assert.Contains(t, out, "Evicted 5 versions")
}

func TestQuery(t *testing.T) {
	f := setup(t)

	out, err := run(t, "query", "latest HbA1c", "--as", "dr-1", "--role", "doctor", "--doc", "d1", "--answer")
	require.NoError(t, err)

	assert.Equal(t, "dr-1", f.asker.got.Principal.ID)
	assert.Equal(t, entity.RoleClinician, f.asker.got.Principal.Role)
	assert.Equal(t, []string{"d1"}, f.asker.got.DocumentScope)
	assert.True(t, f.asker.got.WantAnswer)
	assert.Nil(t, f.asker.got.K)
	assert.Contains(t, out, "[1] d1#0")
	assert.Contains(t, out, "HbA1c was 7.2% [1]")

	_, err = run(t, "query", "x", "--as", "dr-1", "--role", "janitor")
	assert.ErrorContains(t, err, "unknown role")
}

func TestQuery_ExplicitK(t *testing.T) {
	f := setup(t)

	_, err := run(t, "query", "x", "--as", "dr-1", "--k", "4")
	require.NoError(t, err)
	require.NotNil(t, f.asker.got.K)
	assert.Equal(t, 4, *f.asker.got.K)
}

func TestToken(t *testing.T) {
	setup(t)

	out, err := run(t, "token", "mgr-1", "--role", "manager")
	require.NoError(t, err)

	claims, err := utils.NewJWTManager("secret", "rag").ParseToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", claims.PrincipalID())
	assert.Equal(t, string(entity.RoleManager), claims.Role)
}

func TestServicesNotConfigured(t *testing.T) {
	setup(t)
	services = nil

	_, err := run(t, "status", "d1")
	assert.ErrorContains(t, err, "services not configured")
}
