package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"charityledger/internal/config"
	"charityledger/internal/handler"
	"charityledger/internal/ledger"
	"charityledger/internal/repository"
	"charityledger/pkg/rbac"
	"charityledger/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

const (
	testSecret = "test-secret"
	testIssuer = "charity-ledger"
)

type api struct {
	t      *testing.T
	engine *gin.Engine
	store  *ledger.Store
}

func newAPI(t *testing.T, ready ReadyFunc) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	store := ledger.New(repository.NewMemory(), logger)
	if err := store.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(store.Close)

	hash, err := util.HashPassword("operator-pass")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	operators := []config.Operator{{ID: "0xadmin", Name: "Ops", Role: rbac.RoleAdmin, PasswordHash: hash}}

	engine := NewRouter(
		handler.NewAuthHandler(operators, handler.JWTSettings{Secret: testSecret, Issuer: testIssuer, TTL: time.Hour}, logger),
		handler.NewLedgerHandler(store, logger),
		handler.NewFeedHandler(store, logger),
		Auth{Secret: testSecret, Issuer: testIssuer},
		ready,
		logger,
	)
	return &api{t: t, engine: engine, store: store}
}

func (a *api) token(subject, role string) string {
	a.t.Helper()
	tok, err := util.GenerateJWT(subject, subject+" name", role, testIssuer, testSecret, time.Hour, time.Now())
	if err != nil {
		a.t.Fatalf("GenerateJWT: %v", err)
	}
	return tok
}

func (a *api) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type createdProject struct {
	Success bool `json:"success"`
	Project struct {
		ID         string `json:"id"`
		Milestones []struct {
			ID string `json:"id"`
		} `json:"milestones"`
	} `json:"project"`
}

func (a *api) createProject(ngo string, targets ...int) createdProject {
	a.t.Helper()
	var milestones []map[string]any
	for _, amount := range targets {
		milestones = append(milestones, map[string]any{
			"title":          "Phase",
			"due_date":       time.Now().Add(30 * 24 * time.Hour),
			"funding_amount": amount,
		})
	}
	w := a.do(http.MethodPost, "/projects", a.token(ngo, rbac.RoleNGO), map[string]any{
		"title":      "Clean Water",
		"location":   "Valley",
		"milestones": milestones,
	})
	if w.Code != http.StatusCreated {
		a.t.Fatalf("create project status = %d, body = %s", w.Code, w.Body.String())
	}
	return decode[createdProject](a.t, w)
}

func TestHealthAndReadiness(t *testing.T) {
	a := newAPI(t, func(context.Context) error { return errors.New("db down") })

	if w := a.do(http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", w.Code)
	}
	w := a.do(http.MethodGet, "/readyz", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("readyz = %d, want 500", w.Code)
	}
	if got := w.Header().Get("X-Trace-ID"); got == "" {
		t.Fatalf("missing trace header")
	}

	ok := newAPI(t, nil)
	if w := ok.do(http.MethodGet, "/readyz", "", nil); w.Code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", w.Code)
	}
}

func TestAuthAndPermissions(t *testing.T) {
	a := newAPI(t, nil)

	if w := a.do(http.MethodPost, "/projects", "", map[string]any{}); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", w.Code)
	}
	if w := a.do(http.MethodPost, "/projects", "garbage", map[string]any{}); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", w.Code)
	}
	w := a.do(http.MethodPost, "/projects", a.token("0xdonor", rbac.RoleDonor), map[string]any{"title": "x"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("donor create = %d, want 403", w.Code)
	}

	p := a.createProject("0xngo", 100)
	path := "/projects/" + p.Project.ID + "/milestones/" + p.Project.Milestones[0].ID + "/complete"
	if w := a.do(http.MethodPost, path, a.token("0xother", rbac.RoleNGO), nil); w.Code != http.StatusForbidden {
		t.Fatalf("other ngo complete = %d, want 403", w.Code)
	}
	if w := a.do(http.MethodPost, path, a.token("0xadmin", rbac.RoleAdmin), nil); w.Code != http.StatusOK {
		t.Fatalf("admin complete = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDonateVerifyRelease(t *testing.T) {
	a := newAPI(t, nil)
	p := a.createProject("0xngo", 100, 50)
	pid, mid := p.Project.ID, p.Project.Milestones[0].ID
	donor := a.token("0xdonor", rbac.RoleDonor)

	w := a.do(http.MethodPost, "/projects/"+pid+"/donations", donor, map[string]any{"amount": "120"})
	if w.Code != http.StatusCreated {
		t.Fatalf("donate = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[ledger.DonationResult](t, w); got.MilestoneID != mid {
		t.Fatalf("donation milestone = %s, want %s", got.MilestoneID, mid)
	}

	base := "/projects/" + pid + "/milestones/" + mid
	if w := a.do(http.MethodPost, base+"/complete", a.token("0xngo", rbac.RoleNGO), nil); w.Code != http.StatusOK {
		t.Fatalf("complete = %d, body = %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodGet, "/milestones/awaiting", "", nil); len(decode[struct {
		Milestones []ledger.AwaitingVerification `json:"milestones"`
	}](t, w).Milestones) != 1 {
		t.Fatalf("awaiting = %s", w.Body.String())
	}

	v1 := a.token("0xv1", rbac.RoleVerifier)
	vote := map[string]any{"status": "approved", "comments": "looks good"}
	if w := a.do(http.MethodPost, base+"/verifications", v1, vote); w.Code != http.StatusCreated {
		t.Fatalf("vote 1 = %d, body = %s", w.Code, w.Body.String())
	}
	if w := a.do(http.MethodPost, base+"/verifications", v1, vote); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("repeat vote = %d, want 422", w.Code)
	}
	w = a.do(http.MethodGet, base+"/can-verify", v1, nil)
	if got := decode[map[string]bool](t, w); got["can_verify"] {
		t.Fatalf("can_verify = true after voting")
	}

	w = a.do(http.MethodPost, base+"/verifications", a.token("0xv2", rbac.RoleVerifier), vote)
	if w.Code != http.StatusCreated {
		t.Fatalf("vote 2 = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[ledger.VerificationResult](t, w)
	if res.Release == nil || !res.Release.Success {
		t.Fatalf("release = %+v, want success", res.Release)
	}

	w = a.do(http.MethodGet, base+"/escrow", "", nil)
	escrow := decode[map[string]any](t, w)
	if escrow["total_released"] != "100" || escrow["total_escrow"] != "0" {
		t.Fatalf("milestone escrow = %v", escrow)
	}

	w = a.do(http.MethodGet, "/projects/"+pid+"/overview", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("overview = %d", w.Code)
	}
	if ov := decode[ledger.Overview](t, w); ov.Source != ledger.SourceLocal || len(ov.Milestones) != 2 {
		t.Fatalf("overview = %+v", ov)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	a := newAPI(t, nil)
	donor := a.token("0xdonor", rbac.RoleDonor)

	if w := a.do(http.MethodGet, "/projects/missing", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("get missing = %d, want 404", w.Code)
	}
	if w := a.do(http.MethodGet, "/projects/missing/overview", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("overview missing = %d, want 404", w.Code)
	}
	if w := a.do(http.MethodPost, "/projects/missing/donations", donor, map[string]any{"amount": 5}); w.Code != http.StatusNotFound {
		t.Fatalf("donate missing = %d, want 404", w.Code)
	}

	p := a.createProject("0xngo", 100)
	w := a.do(http.MethodPost, "/projects/"+p.Project.ID+"/donations", donor, map[string]any{"amount": 0})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("zero donation = %d, want 422", w.Code)
	}
	if got := decode[ledger.DonationResult](t, w); got.Success || got.Message == "" {
		t.Fatalf("zero donation body = %+v", got)
	}
	if w := a.do(http.MethodPost, "/projects/"+p.Project.ID+"/donations", donor, "not an object"); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", w.Code)
	}
}

func TestCommunityFeedRoutes(t *testing.T) {
	a := newAPI(t, nil)
	p := a.createProject("0xngo", 100)
	fan := a.token("0xfan", rbac.RoleCommunity)

	w := a.do(http.MethodPost, "/posts", fan, map[string]any{
		"type":       "project_update",
		"project_id": p.Project.ID,
		"title":      "Site visit",
		"content":    "Drilling has started",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create post = %d, body = %s", w.Code, w.Body.String())
	}
	post := decode[struct {
		ID string `json:"id"`
	}](t, w)

	if w := a.do(http.MethodPost, "/posts/"+post.ID+"/like", fan, nil); w.Code != http.StatusOK {
		t.Fatalf("like = %d", w.Code)
	}
	if w := a.do(http.MethodPost, "/posts/missing/like", fan, nil); w.Code != http.StatusNotFound {
		t.Fatalf("like missing = %d, want 404", w.Code)
	}
	w = a.do(http.MethodPost, "/posts/"+post.ID+"/comments", a.token("0xdonor", rbac.RoleDonor), map[string]any{"content": "Great"})
	if w.Code != http.StatusCreated {
		t.Fatalf("comment = %d, body = %s", w.Code, w.Body.String())
	}

	w = a.do(http.MethodGet, "/posts?project_id="+p.Project.ID, "", nil)
	posts := decode[struct {
		Posts []struct {
			ID       string `json:"id"`
			Likes    int    `json:"likes"`
			Comments []any  `json:"comments"`
		} `json:"posts"`
	}](t, w).Posts
	if len(posts) != 2 || posts[0].ID != post.ID || posts[0].Likes != 1 || len(posts[0].Comments) != 1 {
		t.Fatalf("posts = %+v", posts)
	}
}

func TestOperatorToken(t *testing.T) {
	a := newAPI(t, nil)

	if w := a.do(http.MethodPost, "/auth/token", "", map[string]any{"id": "0xadmin", "password": "nope"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password = %d, want 401", w.Code)
	}
	w := a.do(http.MethodPost, "/auth/token", "", map[string]any{"id": "0xadmin", "password": "operator-pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("token = %d, body = %s", w.Code, w.Body.String())
	}
	tok := decode[map[string]any](t, w)["token"].(string)

	p := a.createProject("0xngo", 100)
	w = a.do(http.MethodPost, "/projects/"+p.Project.ID+"/consistency", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("consistency = %d, body = %s", w.Code, w.Body.String())
	}
	if rep := decode[ledger.ConsistencyReport](t, w); rep.Fixed {
		t.Fatalf("report = %+v, want nothing to fix", rep)
	}
}
