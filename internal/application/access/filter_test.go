package access

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shayak-swasth-rag/internal/domain/entity"
	"shayak-swasth-rag/internal/infrastructure/persistence/memory"
)

// --- Mock implementations ---

type recordingSink struct {
	mu     sync.Mutex
	events []*entity.AuditEvent
}

func (s *recordingSink) Emit(_ context.Context, e *entity.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) last() *entity.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return nil
	}
	return s.events[len(s.events)-1]
}

// --- Helpers ---

func setup(t *testing.T) (*Filter, *memory.DocumentRepository, *memory.GrantRepository, *recordingSink) {
	t.Helper()
	docs := memory.NewDocumentRepository()
	grants := memory.NewGrantRepository()
	sink := &recordingSink{}
	return NewFilter(docs, grants, sink), docs, grants, sink
}

func createDoc(t *testing.T, docs *memory.DocumentRepository, id, owner string) {
	t.Helper()
	require.NoError(t, docs.Create(context.Background(), entity.NewDocument(id, owner, id+".pdf", entity.ContentTypePDF)))
}

// --- Tests ---

func TestFilter_NoGrantIsSilentlyDenied(t *testing.T) {
	ctx := context.Background()
	f, docs, _, sink := setup(t)
	createDoc(t, docs, "d1", "patient-a")

	allowed, err := f.AllowedDocuments(ctx, entity.Principal{ID: "patient-b", Role: entity.RolePatient}, []string{"d1"}, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Empty(t, allowed)

	require.Len(t, sink.events, 1)
	ev := sink.last()
	assert.Equal(t, entity.AuditOutcomeDenied, ev.Outcome)
	assert.Equal(t, "patient-b", ev.PrincipalID)
	assert.Equal(t, "d1", ev.ResourceID)
	assert.Equal(t, entity.AuditActionQuery, ev.Action)
}

func TestFilter_OwnerGrantAndRole(t *testing.T) {
	ctx := context.Background()
	f, docs, grants, sink := setup(t)
	createDoc(t, docs, "d1", "patient-a")
	createDoc(t, docs, "d2", "patient-b")
	createDoc(t, docs, "d3", "patient-b")
	require.NoError(t, grants.Upsert(ctx, &entity.AccessGrant{PrincipalID: "doctor", DocumentID: "d2", Permission: entity.PermissionRead}))

	candidates := []string{"d1", "d2", "d3", "missing", "d1"}

	owner, err := f.AllowedDocuments(ctx, entity.Principal{ID: "patient-a", Role: entity.RolePatient}, candidates, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, owner)

	doctor, err := f.AllowedDocuments(ctx, entity.Principal{ID: "doctor", Role: entity.RoleClinician}, candidates, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"d2"}, doctor)

	admin, err := f.AllowedDocuments(ctx, entity.Principal{ID: "root", Role: entity.RoleAdmin}, candidates, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1", "d2", "d3"}, admin, "unknown documents are denied even for admins")

	assert.Len(t, sink.events, 3)
	ev := sink.last()
	assert.Equal(t, entity.AuditOutcomeAllowed, ev.Outcome)
	assert.Equal(t, 4, ev.Metadata["candidates"])
	assert.Equal(t, 3, ev.Metadata["allowed"])
	assert.Equal(t, 1, ev.Metadata["denied"])
}

func TestFilter_RevokedGrantDenies(t *testing.T) {
	ctx := context.Background()
	f, docs, grants, _ := setup(t)
	createDoc(t, docs, "d1", "patient-a")
	require.NoError(t, grants.Upsert(ctx, &entity.AccessGrant{PrincipalID: "doctor", DocumentID: "d1", Permission: entity.PermissionWrite}))

	p := entity.Principal{ID: "doctor", Role: entity.RoleClinician}
	allowed, err := f.AllowedDocuments(ctx, p, []string{"d1"}, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, allowed)

	ok, err := grants.Revoke(ctx, "doctor", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	allowed, err = f.AllowedDocuments(ctx, p, []string{"d1"}, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Empty(t, allowed)
}

func TestFilter_EmptyCandidatesStillAudited(t *testing.T) {
	f, _, _, sink := setup(t)
	allowed, err := f.AllowedDocuments(context.Background(), entity.Principal{ID: "p"}, nil, entity.AuditActionQuery)
	require.NoError(t, err)
	assert.Empty(t, allowed)
	require.Len(t, sink.events, 1)
	assert.Equal(t, entity.AuditOutcomeAllowed, sink.last().Outcome)
}

func TestFilter_Candidates(t *testing.T) {
	ctx := context.Background()
	f, docs, grants, _ := setup(t)
	createDoc(t, docs, "d1", "alice")
	createDoc(t, docs, "d2", "bob")
	createDoc(t, docs, "d3", "bob")
	require.NoError(t, grants.Upsert(ctx, &entity.AccessGrant{PrincipalID: "alice", DocumentID: "d3", Permission: entity.PermissionRead}))

	got, err := f.Candidates(ctx, entity.Principal{ID: "alice", Role: entity.RolePatient})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d3"}, got)

	got, err = f.Candidates(ctx, entity.Principal{ID: "m", Role: entity.RoleManager})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"d1", "d2", "d3"}, got)
}

// 随机授权/撤销序列下，放行集合始终等于独立计算的可访问集合
func TestFilter_RandomizedSoundness(t *testing.T) {
	ctx := context.Background()
	f, docs, grants, _ := setup(t)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	principals := []entity.Principal{
		{ID: "p0", Role: entity.RolePatient},
		{ID: "p1", Role: entity.RolePatient},
		{ID: "c0", Role: entity.RoleClinician},
		{ID: "c1", Role: entity.RoleClinician},
	}
	var docIDs []string
	owners := map[string]string{}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		owner := principals[rng.Intn(2)].ID
		createDoc(t, docs, id, owner)
		docIDs = append(docIDs, id)
		owners[id] = owner
	}

	active := map[[2]string]bool{}
	for step := 0; step < 200; step++ {
		p := principals[rng.Intn(len(principals))]
		d := docIDs[rng.Intn(len(docIDs))]
		if rng.Intn(3) == 0 {
			_, err := grants.Revoke(ctx, p.ID, d)
			require.NoError(t, err)
			active[[2]string{p.ID, d}] = false
		} else {
			require.NoError(t, grants.Upsert(ctx, &entity.AccessGrant{PrincipalID: p.ID, DocumentID: d, Permission: entity.PermissionRead}))
			active[[2]string{p.ID, d}] = true
		}

		for _, q := range principals {
			allowed, err := f.AllowedDocuments(ctx, q, docIDs, entity.AuditActionQuery)
			require.NoError(t, err)
			var want []string
			for _, id := range docIDs {
				if owners[id] == q.ID || active[[2]string{q.ID, id}] {
					want = append(want, id)
				}
			}
			assert.Equal(t, want, nilIfEmpty(allowed), "step %d principal %s", step, q.ID)
		}
	}
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func TestFilter_CanReadDoesNotAudit(t *testing.T) {
	ctx := context.Background()
	f, docs, _, sink := setup(t)
	createDoc(t, docs, "d1", "patient-a")

	ok, err := f.CanRead(ctx, entity.Principal{ID: "patient-a", Role: entity.RolePatient}, "d1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.CanRead(ctx, entity.Principal{ID: "patient-b", Role: entity.RolePatient}, "d1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.CanRead(ctx, entity.Principal{ID: "admin-1", Role: entity.RoleAdmin}, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Empty(t, sink.events)
}
