package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"quadrantd/domain"
	"quadrantd/storage"
	"quadrantd/watch"
)

func newTestServer(t *testing.T) (*echo.Echo, *domain.TaskService) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	hub := watch.NewHub()
	svc := domain.NewTaskService(store, domain.WithNotifier(hub))
	e := echo.New()
	Register(e, svc, nil, hub, NewAuth(""), nil)
	return e, svc
}

func do(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createTask(t *testing.T, e *echo.Echo, body string) int64 {
	t.Helper()
	rec := do(t, e, http.MethodPost, "/api/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp idResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.ID
}

func listQuadrant(t *testing.T, e *echo.Echo, q int) []domain.Task {
	t.Helper()
	rec := do(t, e, http.MethodGet, "/api/quadrants/"+strconv.Itoa(q)+"/tasks", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp tasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.Tasks
}

func TestCreateAndGetTask(t *testing.T) {
	e, _ := newTestServer(t)

	id := createTask(t, e, `{"title":"write the report","quadrant":1,"tags":"work, work"}`)
	rec := do(t, e, http.MethodGet, "/api/tasks/"+strconv.FormatInt(id, 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var task domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Title != "write the report" || task.Tags != "work" {
		t.Fatalf("task = %#v", task)
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"   ","quadrant":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRejectsUnknownFields(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodPost, "/api/tasks", `{"title":"a","quadrant":1,"bogus":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	e, _ := newTestServer(t)
	id := createTask(t, e, `{"title":"a","quadrant":1}`)

	rec := do(t, e, http.MethodPut, "/api/tasks/"+strconv.FormatInt(id, 10), `{"title":"renamed","quadrant":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d body %s", rec.Code, rec.Body.String())
	}
	list := listQuadrant(t, e, 1)
	if len(list) != 1 || list[0].Title != "renamed" {
		t.Fatalf("list = %#v", list)
	}
}

func TestUpdateMissingTaskIsSilent(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodPut, "/api/tasks/9999", `{"title":"ghost","quadrant":1}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestGetMissingTask(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodGet, "/api/tasks/424242", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteAndUndo(t *testing.T) {
	e, _ := newTestServer(t)
	id := createTask(t, e, `{"title":"precious","quadrant":2}`)

	rec := do(t, e, http.MethodDelete, "/api/tasks/"+strconv.FormatInt(id, 10), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	var resp deleteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.UndoToken == "" {
		t.Fatalf("delete response = %s, err %v", rec.Body.String(), err)
	}
	if got := listQuadrant(t, e, 2); len(got) != 0 {
		t.Fatalf("task survived delete: %#v", got)
	}

	rec = do(t, e, http.MethodPost, "/api/undo/"+resp.UndoToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("undo: status %d", rec.Code)
	}
	got := listQuadrant(t, e, 2)
	if len(got) != 1 || got[0].ID != id || got[0].Title != "precious" {
		t.Fatalf("restore mismatch: %#v", got)
	}
}

func TestDeleteMissingTask(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodDelete, "/api/tasks/31337", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestUndoUnknownTokenIs404(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(t, e, http.MethodPost, "/api/undo/bogus", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestQuadrantMoveRoute(t *testing.T) {
	e, _ := newTestServer(t)
	id := createTask(t, e, `{"title":"a","quadrant":1}`)

	rec := do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/quadrant", `{"quadrant":4}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("move: status %d body %s", rec.Code, rec.Body.String())
	}
	if got := listQuadrant(t, e, 4); len(got) != 1 || got[0].ID != id {
		t.Fatalf("task not in target quadrant: %#v", got)
	}

	rec = do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/quadrant", `{"quadrant":7}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad quadrant: status %d, want 400", rec.Code)
	}
}

func TestPinAndReorderRoutes(t *testing.T) {
	e, _ := newTestServer(t)
	a := createTask(t, e, `{"title":"a","quadrant":1}`)
	b := createTask(t, e, `{"title":"b","quadrant":1}`)

	rec := do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(b, 10)+"/pin", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("pin: status %d", rec.Code)
	}
	list := listQuadrant(t, e, 1)
	if list[0].ID != b || !list[0].IsPinned {
		t.Fatalf("pinned task not first: %#v", list)
	}

	rec = do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(b, 10)+"/pin", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unpin: status %d", rec.Code)
	}
	list = listQuadrant(t, e, 1)
	if list[0].ID != a || list[1].ID != b {
		t.Fatalf("unpin did not move task last: %#v", list)
	}

	rec = do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(b, 10)+"/up", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("up: status %d", rec.Code)
	}
	list = listQuadrant(t, e, 1)
	if list[0].ID != b {
		t.Fatalf("move up did not apply: %#v", list)
	}
}

func TestStatusRoute(t *testing.T) {
	e, _ := newTestServer(t)
	id := createTask(t, e, `{"title":"a","quadrant":1}`)

	rec := do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/status", `{"status":1}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status: %d", rec.Code)
	}
	list := listQuadrant(t, e, 1)
	if list[0].Status != domain.StatusCompleted {
		t.Fatalf("status not applied: %#v", list[0])
	}

	rec = do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/status", `{"status":9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status accepted: %d", rec.Code)
	}
}

func TestDeferRoute(t *testing.T) {
	e, _ := newTestServer(t)
	id := createTask(t, e, `{"title":"a","quadrant":1,"dueEpochDay":20500}`)

	rec := do(t, e, http.MethodPost, "/api/tasks/"+strconv.FormatInt(id, 10)+"/defer", `{"days":3}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("defer: status %d", rec.Code)
	}
	list := listQuadrant(t, e, 1)
	if list[0].DueEpochDay == nil || *list[0].DueEpochDay != 20503 {
		t.Fatalf("defer not applied: %#v", list[0])
	}
}

func TestMITRoutes(t *testing.T) {
	e, _ := newTestServer(t)
	a := createTask(t, e, `{"title":"a","quadrant":2}`)
	b := createTask(t, e, `{"title":"b","quadrant":2}`)

	if rec := do(t, e, http.MethodGet, "/api/mit", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("empty mit: status %d", rec.Code)
	}

	rec := do(t, e, http.MethodGet, "/api/mit/suggested", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("suggested: status %d", rec.Code)
	}
	var suggested domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &suggested); err != nil || suggested.ID != a {
		t.Fatalf("suggested = %s, err %v", rec.Body.String(), err)
	}

	if rec := do(t, e, http.MethodPut, "/api/mit/"+strconv.FormatInt(b, 10), ""); rec.Code != http.StatusNoContent {
		t.Fatalf("set mit: status %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/api/mit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get mit: status %d", rec.Code)
	}
	var mit domain.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &mit); err != nil || mit.ID != b {
		t.Fatalf("mit = %s, err %v", rec.Body.String(), err)
	}

	if rec := do(t, e, http.MethodDelete, "/api/mit", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("clear mit: status %d", rec.Code)
	}
	if rec := do(t, e, http.MethodGet, "/api/mit", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("mit survived clear: status %d", rec.Code)
	}
}

func TestSweepRoute(t *testing.T) {
	e, _ := newTestServer(t)
	createTask(t, e, `{"title":"late","quadrant":1,"dueTimestamp":1000}`)
	createTask(t, e, `{"title":"future","quadrant":1,"dueTimestamp":99999999999999}`)

	rec := do(t, e, http.MethodPost, "/api/sweep", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: status %d", rec.Code)
	}
	var resp sweepResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Updated != 1 {
		t.Fatalf("sweep response = %s, err %v", rec.Body.String(), err)
	}
}

func TestSearchRoute(t *testing.T) {
	e, _ := newTestServer(t)
	createTask(t, e, `{"title":"buy milk","quadrant":4}`)
	createTask(t, e, `{"title":"ship release","quadrant":1}`)

	rec := do(t, e, http.MethodGet, "/api/search?q=milk", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status %d", rec.Code)
	}
	var resp tasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Tasks) != 1 {
		t.Fatalf("search = %s, err %v", rec.Body.String(), err)
	}

	if rec := do(t, e, http.MethodGet, "/api/search", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query accepted: %d", rec.Code)
	}
}

func TestCreatedRangeRoute(t *testing.T) {
	e, _ := newTestServer(t)
	createTask(t, e, `{"title":"a","quadrant":1}`)
	createTask(t, e, `{"title":"b","quadrant":3}`)

	today := time.Now().Format("2006-01-02")
	rec := do(t, e, http.MethodGet, "/api/tasks?createdFrom="+today+"&createdTo="+today, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("created range: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp tasksResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Tasks) != 2 {
		t.Fatalf("created range = %s, err %v", rec.Body.String(), err)
	}

	rec = do(t, e, http.MethodGet, "/api/tasks?createdFrom=2000-01-01&createdTo=2000-01-02", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty range: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || len(resp.Tasks) != 0 {
		t.Fatalf("empty range = %s, err %v", rec.Body.String(), err)
	}

	if rec := do(t, e, http.MethodGet, "/api/tasks?createdFrom=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad createdFrom accepted: %d", rec.Code)
	}
}

func TestStatsRoute(t *testing.T) {
	e, _ := newTestServer(t)
	createTask(t, e, `{"title":"a","quadrant":1}`)
	createTask(t, e, `{"title":"b","quadrant":1,"status":1}`)
	createTask(t, e, `{"title":"c","quadrant":3}`)

	rec := do(t, e, http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rec.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 3 || resp.Completed != 1 || len(resp.Quadrants) != 4 {
		t.Fatalf("stats = %#v", resp)
	}
	if resp.Quadrants[0].Total != 2 || resp.Quadrants[0].Completed != 1 {
		t.Fatalf("quadrant 1 stats = %#v", resp.Quadrants[0])
	}
}

func TestInvalidQuadrantParam(t *testing.T) {
	e, _ := newTestServer(t)
	for _, path := range []string{"/api/quadrants/0/tasks", "/api/quadrants/5/tasks", "/api/quadrants/x/tasks"} {
		if rec := do(t, e, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d, want 400", path, rec.Code)
		}
	}
}

func TestHealthz(t *testing.T) {
	e, _ := newTestServer(t)
	if rec := do(t, e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
}

func TestAuthGuardsAPIRoutes(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	svc := domain.NewTaskService(store)
	e := echo.New()
	Register(e, svc, nil, watch.NewHub(), NewAuth("s3cret"), nil)

	if rec := do(t, e, http.MethodGet, "/api/quadrants/1/tasks", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request: status %d, want 401", rec.Code)
	}
	// Health stays reachable without a token.
	if rec := do(t, e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz guarded: status %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/quadrants/1/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "s3cret", "me"))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request: status %d body %s", rec.Code, rec.Body.String())
	}
}
