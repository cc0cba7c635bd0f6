package problems

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lektio/lektio/internal/audit"
	"github.com/lektio/lektio/internal/security"
)

type fakeStore struct {
	problems map[string]Problem
	sets     map[string]ProblemSet
	answers  map[string]StudentAnswer
	created  []StudentAnswer
	assigned map[string][]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		problems: make(map[string]Problem),
		sets:     make(map[string]ProblemSet),
		answers:  make(map[string]StudentAnswer),
		assigned: make(map[string][]string),
	}
}

func (s *fakeStore) CreateProblem(_ context.Context, p Problem) (Problem, error) {
	p.ID = "p-new"
	s.problems[p.ID] = p
	return p, nil
}

func (s *fakeStore) GetProblem(_ context.Context, _, id string) (Problem, error) {
	p, ok := s.problems[id]
	if !ok {
		return Problem{}, ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) UpdateProblem(_ context.Context, p Problem) error {
	if _, ok := s.problems[p.ID]; !ok {
		return ErrNotFound
	}
	s.problems[p.ID] = p
	return nil
}

func (s *fakeStore) DeleteProblem(_ context.Context, _, id string) error {
	if _, ok := s.problems[id]; !ok {
		return ErrNotFound
	}
	delete(s.problems, id)
	return nil
}

func (s *fakeStore) GetProblemSet(_ context.Context, _, id string) (ProblemSet, error) {
	ps, ok := s.sets[id]
	if !ok {
		return ProblemSet{}, ErrNotFound
	}
	return ps, nil
}

func (s *fakeStore) AssignProblemSet(_ context.Context, _, setID string, studentIDs []string) error {
	s.assigned[setID] = append(s.assigned[setID], studentIDs...)
	return nil
}

func (s *fakeStore) GetAnswer(_ context.Context, _, id string) (StudentAnswer, error) {
	a, ok := s.answers[id]
	if !ok {
		return StudentAnswer{}, ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) CreateAnswer(_ context.Context, a StudentAnswer) (StudentAnswer, error) {
	a.ID = "a-new"
	s.created = append(s.created, a)
	return a, nil
}

type fakeProvider struct {
	owners    map[string]string
	activeFor map[string]bool
}

func (f *fakeProvider) UserOrganization(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeProvider) ProblemOwner(_ context.Context, _, problemID string) (string, error) {
	return f.owners[problemID], nil
}

func (f *fakeProvider) ProblemActiveForStudent(_ context.Context, _, problemID, studentID string) (bool, error) {
	return f.activeFor[problemID+"/"+studentID], nil
}

func newTestRouter(store Store, provider *fakeProvider, ac *security.AuthContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := security.NewPolicyEngine(security.NewPolicyStore(), security.NewRoleHierarchy(), provider, audit.NopSink{}, zap.NewNop(), 0)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		security.SetAuthContext(c, ac)
		c.Next()
	})
	NewHTTPHandler(store, engine, zap.NewNop()).RegisterRoutes(r.Group("/"))
	return r
}

func teacherContext(id string) *security.AuthContext {
	return &security.AuthContext{UserID: id, Role: security.RoleTeacher, TenantID: "tenant-a", Active: true}
}

func studentContext(id string) *security.AuthContext {
	return &security.AuthContext{UserID: id, Role: security.RoleStudent, TenantID: "tenant-a", Active: true}
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCreateProblemAsTeacher(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store, &fakeProvider{}, teacherContext("t1"))

	w := do(r, http.MethodPost, "/problems", `{"title":"Fractions","body":"1/2 + 1/3 = ?","active":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var p Problem
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.TeacherID != "t1" || p.TenantID != "tenant-a" {
		t.Fatalf("ownership must come from the auth context, got %+v", p)
	}
}

func TestCreateProblemAsStudentForbidden(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeProvider{}, studentContext("s1"))

	w := do(r, http.MethodPost, "/problems", `{"title":"x","body":"y"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestUpdateProblemOwnershipEnforced(t *testing.T) {
	store := newFakeStore()
	store.problems["p1"] = Problem{ID: "p1", TenantID: "tenant-a", TeacherID: "t2", Active: true}

	r := newTestRouter(store, &fakeProvider{}, teacherContext("t1"))
	w := do(r, http.MethodPut, "/problems/p1", `{"title":"x","body":"y","active":true}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-owner update should be 403, got %d", w.Code)
	}

	owner := newTestRouter(store, &fakeProvider{}, teacherContext("t2"))
	w = do(owner, http.MethodPut, "/problems/p1", `{"title":"x","body":"y","active":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("owner update should succeed, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDeleteProblemNotFound(t *testing.T) {
	r := newTestRouter(newFakeStore(), &fakeProvider{}, teacherContext("t1"))
	if w := do(r, http.MethodDelete, "/problems/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetProblemAsStudentRequiresAvailability(t *testing.T) {
	store := newFakeStore()
	store.problems["p1"] = Problem{ID: "p1", TenantID: "tenant-a", TeacherID: "t1", Active: true}
	provider := &fakeProvider{activeFor: map[string]bool{"p1/s1": true}}

	r := newTestRouter(store, provider, studentContext("s1"))
	if w := do(r, http.MethodGet, "/problems/p1", ""); w.Code != http.StatusOK {
		t.Fatalf("assigned student should read the problem, got %d", w.Code)
	}

	other := newTestRouter(store, provider, studentContext("s2"))
	if w := do(other, http.MethodGet, "/problems/p1", ""); w.Code != http.StatusForbidden {
		t.Fatalf("unassigned student should get 403, got %d", w.Code)
	}
}

func TestAssignProblemSetOwnerOnly(t *testing.T) {
	store := newFakeStore()
	store.sets["ps1"] = ProblemSet{ID: "ps1", TenantID: "tenant-a", TeacherID: "t1", Active: true}

	owner := newTestRouter(store, &fakeProvider{}, teacherContext("t1"))
	w := do(owner, http.MethodPost, "/problem-sets/ps1/assign", `{"student_ids":["s1","s2"]}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("owner assign should succeed, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.assigned["ps1"]) != 2 {
		t.Fatalf("expected 2 assignments, got %v", store.assigned["ps1"])
	}

	other := newTestRouter(store, &fakeProvider{}, teacherContext("t9"))
	w = do(other, http.MethodPost, "/problem-sets/ps1/assign", `{"student_ids":["s3"]}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-owner assign should be 403, got %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "Teacher can only manage own problem sets" {
		t.Fatalf("unexpected denial reason: %q", body["error"])
	}
}

func TestGetAnswerScoping(t *testing.T) {
	store := newFakeStore()
	store.answers["a1"] = StudentAnswer{ID: "a1", TenantID: "tenant-a", ProblemID: "p1", StudentID: "s1"}
	provider := &fakeProvider{owners: map[string]string{"p1": "t1"}}

	if w := do(newTestRouter(store, provider, studentContext("s1")), http.MethodGet, "/answers/a1", ""); w.Code != http.StatusOK {
		t.Fatalf("students read their own answers, got %d", w.Code)
	}
	if w := do(newTestRouter(store, provider, studentContext("s2")), http.MethodGet, "/answers/a1", ""); w.Code != http.StatusForbidden {
		t.Fatalf("other students must not, got %d", w.Code)
	}
	if w := do(newTestRouter(store, provider, teacherContext("t1")), http.MethodGet, "/answers/a1", ""); w.Code != http.StatusOK {
		t.Fatalf("the problem's teacher reads submitted answers, got %d", w.Code)
	}
	if w := do(newTestRouter(store, provider, teacherContext("t9")), http.MethodGet, "/answers/a1", ""); w.Code != http.StatusForbidden {
		t.Fatalf("unrelated teachers must not, got %d", w.Code)
	}
}

func TestCreateAnswerRequiresActiveProblem(t *testing.T) {
	store := newFakeStore()
	provider := &fakeProvider{activeFor: map[string]bool{"p1/s1": true}}

	r := newTestRouter(store, provider, studentContext("s1"))
	w := do(r, http.MethodPost, "/answers", `{"problem_id":"p1","body":"42"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.created) != 1 || store.created[0].StudentID != "s1" {
		t.Fatalf("answer should carry the caller's id: %+v", store.created)
	}

	w = do(r, http.MethodPost, "/answers", `{"problem_id":"p2","body":"42"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("inactive problem should reject submissions, got %d", w.Code)
	}
}
