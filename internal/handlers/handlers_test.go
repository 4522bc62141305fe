package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
	"github.com/RafaUC/Allusion-sub000/internal/catalog"
	"github.com/RafaUC/Allusion-sub000/internal/condition"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/query"
	"github.com/RafaUC/Allusion-sub000/internal/taggraph"
)

func setupTestDB(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupTestHandlers(t *testing.T) (*Handlers, *catalog.Service) {
	t.Helper()
	db := setupTestDB(t)
	cfg := catalog.DefaultConfig()
	cfg.Location = time.UTC
	cfg.SaveDebounce = time.Hour
	cfg.Aggregate = aggregate.Config{Debounce: time.Hour}
	svc, err := catalog.Open(context.Background(), db, cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	h := New(svc, Options{Heartbeat: 50 * time.Millisecond})
	h.SetReady(true)
	return h, svc
}

// call runs handler on a request built from body and route vars.
func call(t *testing.T, handler http.HandlerFunc, method, target string, body any, vars map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if vars != nil {
		req = mux.SetURLVars(req, vars)
	}
	rr := httptest.NewRecorder()
	handler(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

func tagCondition(ids ...string) json.RawMessage {
	c, err := condition.Marshal(condition.TagsCondition{Op: condition.Contains, TagIDs: ids})
	if err != nil {
		panic(err)
	}
	return json.RawMessage(fmt.Sprintf(`{"conjunction":"and","children":[%s]}`, c))
}

func createTag(t *testing.T, h *Handlers, name, parent string) TagResponse {
	t.Helper()
	rr := call(t, h.CreateTag, http.MethodPost, "/api/tags", TagRequest{Name: name, ParentID: parent}, nil)
	expectStatus(t, rr, http.StatusCreated)
	return decode[TagResponse](t, rr)
}

// seedFiles creates a location holding the named files and returns their
// ids by name.
func seedFiles(t *testing.T, h *Handlers, names ...string) map[string]string {
	t.Helper()
	rr := call(t, h.SaveLocation, http.MethodPost, "/api/locations", database.Location{Path: "/photos"}, nil)
	expectStatus(t, rr, http.StatusCreated)
	loc := decode[database.Location](t, rr)

	var scan ScanRequest
	for i, n := range names {
		scan.Files = append(scan.Files, catalog.FileStats{
			AbsolutePath: "/photos/" + n,
			Size:         int64(100 * (i + 1)),
			DateModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		})
	}
	rr = call(t, h.AddFiles, http.MethodPost, "/api/locations/"+loc.ID+"/files", scan, map[string]string{"id": loc.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]int](t, rr)["created"]; got != len(names) {
		t.Fatalf("created = %d, want %d", got, len(names))
	}

	rr = call(t, h.Search, http.MethodPost, "/api/search", SearchRequest{
		SearchRequest: catalog.SearchRequest{OrderBy: "name", Limit: 1000},
	}, nil)
	expectStatus(t, rr, http.StatusOK)
	ids := make(map[string]string)
	for _, f := range decode[SearchResponse](t, rr).Files {
		ids[f.Name] = f.ID
	}
	return ids
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", fmt.Errorf("%w: empty body", errBadRequest), http.StatusBadRequest},
		{"invalid condition", fmt.Errorf("parse: %w", condition.ErrInvalidCondition), http.StatusBadRequest},
		{"query cycle", query.ErrCycle, http.StatusBadRequest},
		{"invalid value", catalog.ErrInvalidValue, http.StatusBadRequest},
		{"invalid request", catalog.ErrInvalidRequest, http.StatusBadRequest},
		{"unsupported", taggraph.ErrUnsupported, http.StatusConflict},
		{"tag cycle", taggraph.ErrCycle, http.StatusConflict},
		{"tag exists", taggraph.ErrExists, http.StatusConflict},
		{"tag not found", taggraph.ErrNotFound, http.StatusNotFound},
		{"row not found", fmt.Errorf("location x: %w", database.ErrNotFound), http.StatusNotFound},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(MethodNotAllowed)
	api := r.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler
	api.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {}).Methods("POST")

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/search", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if !strings.Contains(body["error"], "GET") {
		t.Errorf("error = %q, want the method named", body["error"])
	}
}

func TestDecodeCriteria(t *testing.T) {
	for _, raw := range []string{"", "null"} {
		g, err := decodeCriteria(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("decodeCriteria(%q): %v", raw, err)
		}
		if len(g.Children) != 0 {
			t.Errorf("decodeCriteria(%q) has %d children, want 0", raw, len(g.Children))
		}
	}

	_, err := decodeCriteria(json.RawMessage(`{"conjunction":"nand","children":[]}`))
	if err == nil {
		t.Fatal("expected error for unknown conjunction")
	}
}

func TestMetricsHandlerReportsPendingCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, svc := setupTestHandlers(t)
	ids := seedFiles(t, h, "a.jpg")
	tag := createTag(t, h, "pending", "")
	rr := call(t, h.TagFiles, http.MethodPost, "/api/files/tags",
		map[string]any{"fileIds": []string{ids["a.jpg"]}, "add": []string{tag.ID}}, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = httptest.NewRecorder()
	h.MetricsHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	expectStatus(t, rr, http.StatusOK)

	want := fmt.Sprintf("catalog_aggregate_dirty_queue_length %d", svc.PendingCounts())
	if svc.PendingCounts() == 0 || !strings.Contains(rr.Body.String(), want) {
		t.Errorf("metrics output missing %q (pending %d)", want, svc.PendingCounts())
	}
}

func TestHealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	h.SetReady(false)
	rr := call(t, h.HealthCheck, http.MethodGet, "/health", nil, nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if got := decode[HealthResponse](t, rr).Status; got != statusStarting {
		t.Errorf("Status = %q, want %q", got, statusStarting)
	}

	h.SetReady(true)
	rr = call(t, h.HealthCheck, http.MethodGet, "/health", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	resp := decode[HealthResponse](t, rr)
	if resp.Status != statusHealthy || !resp.Ready {
		t.Errorf("got status %q ready %v", resp.Status, resp.Ready)
	}
	if resp.GoVersion == "" {
		t.Error("GoVersion is empty")
	}
}

func TestReadinessAndLiveness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	expectStatus(t, call(t, h.LivenessCheck, http.MethodGet, "/livez", nil, nil), http.StatusOK)
	expectStatus(t, call(t, h.ReadinessCheck, http.MethodGet, "/readyz", nil, nil), http.StatusOK)

	h.SetReady(false)
	expectStatus(t, call(t, h.ReadinessCheck, http.MethodGet, "/readyz", nil, nil), http.StatusServiceUnavailable)

	rr := call(t, h.LivenessCheck, http.MethodHead, "/livez", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if rr.Body.Len() != 0 {
		t.Errorf("HEAD body = %q, want empty", rr.Body.String())
	}
}

func TestTagLifecycleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	animals := createTag(t, h, "Animals", "")
	cat := createTag(t, h, "Cat", animals.ID)
	kitty := createTag(t, h, "Kitty", "")

	if cat.ParentID != animals.ID {
		t.Errorf("Cat parent = %q, want %q", cat.ParentID, animals.ID)
	}
	if cat.Color != taggraph.InheritColor {
		t.Errorf("Cat color = %q, want inherit", cat.Color)
	}

	rr := call(t, h.ListTags, http.MethodGet, "/api/tags", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := len(decode[[]TagResponse](t, rr)); got != 3 {
		t.Errorf("ListTags returned %d tags, want 3", got)
	}

	rr = call(t, h.UpdateTag, http.MethodPut, "/api/tags/"+animals.ID,
		TagRequest{Name: "Animals", Color: "#ff0000"}, map[string]string{"id": animals.ID})
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.GetTag, http.MethodGet, "/api/tags/"+cat.ID, nil, map[string]string{"id": cat.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[TagResponse](t, rr).ResolvedColor; got != "#ff0000" {
		t.Errorf("Cat resolved color = %q, want inherited #ff0000", got)
	}

	rr = call(t, h.SetAliases, http.MethodPut, "/api/tags/"+cat.ID+"/aliases",
		AliasesRequest{Aliases: []string{"feline"}}, map[string]string{"id": cat.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[TagResponse](t, rr).Aliases; len(got) != 1 || got[0] != "feline" {
		t.Errorf("aliases = %v, want [feline]", got)
	}

	// Moving a tag below its own child is a cycle.
	rr = call(t, h.MoveTag, http.MethodPost, "/api/tags/"+animals.ID+"/move",
		MoveRequest{ParentID: cat.ID}, map[string]string{"id": animals.ID})
	expectStatus(t, rr, http.StatusConflict)

	rr = call(t, h.MoveTag, http.MethodPost, "/api/tags/"+kitty.ID+"/move",
		MoveRequest{ParentID: animals.ID, Index: 0}, map[string]string{"id": kitty.ID})
	expectStatus(t, rr, http.StatusOK)
	moved := decode[TagResponse](t, rr)
	if moved.ParentID != animals.ID || moved.Position != 0 {
		t.Errorf("Kitty at %s/%d, want %s/0", moved.ParentID, moved.Position, animals.ID)
	}

	rr = call(t, h.MergeTag, http.MethodPost, "/api/tags/"+kitty.ID+"/merge",
		MergeRequest{Into: cat.ID}, map[string]string{"id": kitty.ID})
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.GetTag, http.MethodGet, "/api/tags/"+kitty.ID, nil, map[string]string{"id": kitty.ID})
	expectStatus(t, rr, http.StatusNotFound)

	rr = call(t, h.DeleteTag, http.MethodDelete, "/api/tags/"+animals.ID, nil, map[string]string{"id": animals.ID})
	expectStatus(t, rr, http.StatusOK)
	removed := decode[map[string][]string](t, rr)["removed"]
	if len(removed) != 2 {
		t.Errorf("removed %v, want Animals and Cat", removed)
	}

	rr = call(t, h.DeleteTag, http.MethodDelete, "/api/tags/"+animals.ID, nil, map[string]string{"id": animals.ID})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestCreateTagErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"malformed body", `{"name":`, http.StatusBadRequest},
		{"empty body", "", http.StatusBadRequest},
		{"empty name", TagRequest{Name: "  "}, http.StatusConflict},
		{"unknown parent", TagRequest{Name: "x", ParentID: "missing"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(t, h.CreateTag, http.MethodPost, "/api/tags", tt.body, nil)
			expectStatus(t, rr, tt.want)
			if decode[map[string]string](t, rr)["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestImplicationsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	a := createTag(t, h, "A", "")
	b := createTag(t, h, "B", "")

	rr := call(t, h.AddImplication, http.MethodPost, "/api/tags/"+a.ID+"/implies",
		ImplicationRequest{Implied: b.ID}, map[string]string{"id": a.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[TagResponse](t, rr).Implies; len(got) != 1 || got[0] != b.ID {
		t.Errorf("implies = %v, want [%s]", got, b.ID)
	}

	rr = call(t, h.AddImplication, http.MethodPost, "/api/tags/"+b.ID+"/implies",
		ImplicationRequest{Implied: a.ID}, map[string]string{"id": b.ID})
	expectStatus(t, rr, http.StatusConflict)

	rr = call(t, h.RemoveImplication, http.MethodDelete, "/api/tags/"+a.ID+"/implies/"+b.ID, nil,
		map[string]string{"id": a.ID, "implied": b.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[TagResponse](t, rr).Implies; len(got) != 0 {
		t.Errorf("implies = %v, want none", got)
	}
}

func TestSearchIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	ids := seedFiles(t, h, "a.jpg", "b.jpg", "c.png")
	animals := createTag(t, h, "Animals", "")
	cat := createTag(t, h, "Cat", animals.ID)

	rr := call(t, h.TagFiles, http.MethodPost, "/api/files/tags",
		FileTagsRequest{FileIDs: []string{ids["a.jpg"], ids["c.png"]}, Add: []string{cat.ID}}, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.Search, http.MethodPost, "/api/search", SearchRequest{
		SearchRequest: catalog.SearchRequest{OrderBy: "name"},
		Criteria:      tagCondition(cat.ID),
	}, nil)
	expectStatus(t, rr, http.StatusOK)
	page := decode[SearchResponse](t, rr)
	var names []string
	for _, f := range page.Files {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "a.jpg,c.png" {
		t.Errorf("search names = %v, want [a.jpg c.png]", names)
	}
	if page.First == nil || page.Last == nil {
		t.Error("expected page cursors")
	}

	rr = call(t, h.Search, http.MethodPost, "/api/search", SearchRequest{
		SearchRequest: catalog.SearchRequest{OrderBy: "random", Limit: 2},
	}, nil)
	expectStatus(t, rr, http.StatusOK)
	if shuffled := decode[SearchResponse](t, rr); shuffled.Seed == 0 || len(shuffled.Files) != 2 {
		t.Errorf("random page: seed %d, %d files; want a seed and 2 files", shuffled.Seed, len(shuffled.Files))
	}

	// Recursive search on the parent reaches files tagged with the child.
	recursive, err := condition.Marshal(condition.TagsCondition{Op: condition.ContainsRecursively, TagIDs: []string{animals.ID}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	rr = call(t, h.Count, http.MethodPost, "/api/search/count", CountRequest{
		Criteria: json.RawMessage(`{"conjunction":"and","children":[` + string(recursive) + `]}`),
	}, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]int](t, rr)["count"]; got != 2 {
		t.Errorf("recursive count = %d, want 2", got)
	}

	rr = call(t, h.Count, http.MethodPost, "/api/search/count", CountRequest{}, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]int](t, rr)["count"]; got != 3 {
		t.Errorf("count of everything = %d, want 3", got)
	}

	rr = call(t, h.Search, http.MethodPost, "/api/search", SearchRequest{
		SearchRequest: catalog.SearchRequest{OrderBy: "name", Direction: catalog.After},
	}, nil)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestSearchRejectsInvalidCriteria(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	tests := []struct {
		name     string
		criteria string
	}{
		{"bad operator", `{"conjunction":"and","children":[{"key":"name","valueType":"string","operator":"smallerThan","value":"a"}]}`},
		{"bad value type", `{"conjunction":"and","children":[{"key":"name","valueType":"mystery","operator":"equals","value":"a"}]}`},
		{"bad conjunction", `{"conjunction":"nand","children":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(t, h.Search, http.MethodPost, "/api/search",
				`{"orderBy":"name","criteria":`+tt.criteria+`}`, nil)
			expectStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestRetagAndRecountIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	seedFiles(t, h, "a.jpg", "b.jpg", "c.png")
	jpeg := createTag(t, h, "JPEG", "")

	ext, err := condition.Marshal(condition.StringCondition{Attr: condition.KeyExtension, Op: condition.Equals, Value: "jpg"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	rr := call(t, h.RetagFiles, http.MethodPost, "/api/files/retag", RetagRequest{
		Criteria: json.RawMessage(`{"conjunction":"and","children":[` + string(ext) + `]}`),
		Add:      []string{jpeg.ID},
	}, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decode[map[string]int](t, rr)["updated"]; got != 2 {
		t.Errorf("updated = %d, want 2", got)
	}

	rr = call(t, h.Recount, http.MethodPost, "/api/recount", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	counts := decode[database.Counts](t, rr)
	if counts.Total != 3 || counts.Untagged != 1 {
		t.Errorf("counts = %+v, want 3 total and 1 untagged", counts)
	}

	rr = call(t, h.GetTag, http.MethodGet, "/api/tags/"+jpeg.ID, nil, map[string]string{"id": jpeg.ID})
	expectStatus(t, rr, http.StatusOK)
	tag := decode[TagResponse](t, rr)
	if tag.FileCount != 2 || tag.IsFileCountDirty {
		t.Errorf("JPEG count = %d dirty %v, want 2 clean", tag.FileCount, tag.IsFileCountDirty)
	}

	rr = call(t, h.GetStats, http.MethodGet, "/api/stats", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	stats := decode[StatsResponse](t, rr)
	if stats.TotalFiles != 3 || stats.TotalTags != 1 || stats.TotalLocations != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastRecount.IsZero() {
		t.Error("LastRecount not recorded")
	}
}

func TestFilePropertiesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	ids := seedFiles(t, h, "a.jpg")
	rr := call(t, h.CreateProperty, http.MethodPost, "/api/properties",
		PropertyRequest{Name: "Rating", Type: database.PropertyNumber}, nil)
	expectStatus(t, rr, http.StatusCreated)
	prop := decode[database.ExtraProperty](t, rr)

	vars := map[string]string{"id": ids["a.jpg"], "property": prop.ID}
	rr = call(t, h.SetPropertyValue, http.MethodPut, "/api/files/x/properties/y", PropertyValueRequest{Value: "five"}, vars)
	expectStatus(t, rr, http.StatusBadRequest)

	rr = call(t, h.SetPropertyValue, http.MethodPut, "/api/files/x/properties/y", PropertyValueRequest{Value: 5}, vars)
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.GetFile, http.MethodGet, "/api/files/"+ids["a.jpg"], nil, map[string]string{"id": ids["a.jpg"]})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[database.File](t, rr).ExtraProperties[prop.ID]; got != float64(5) {
		t.Errorf("Rating = %v, want 5", got)
	}

	rr = call(t, h.RenameProperty, http.MethodPut, "/api/properties/"+prop.ID,
		PropertyRequest{Name: "Stars"}, map[string]string{"id": prop.ID})
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.ListProperties, http.MethodGet, "/api/properties", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	props := decode[[]database.ExtraProperty](t, rr)
	if len(props) != 1 || props[0].Name != "Stars" {
		t.Errorf("properties = %+v", props)
	}

	rr = call(t, h.GetFile, http.MethodGet, "/api/files/missing", nil, map[string]string{"id": "missing"})
	expectStatus(t, rr, http.StatusNotFound)
}

func TestSavedSearchesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	rr := call(t, h.SaveSearch, http.MethodPost, "/api/searches", SavedSearchRequest{Name: ""}, nil)
	expectStatus(t, rr, http.StatusBadRequest)

	tag := createTag(t, h, "Cat", "")
	rr = call(t, h.SaveSearch, http.MethodPost, "/api/searches",
		SavedSearchRequest{Name: "Cats", Criteria: tagCondition(tag.ID)}, nil)
	expectStatus(t, rr, http.StatusCreated)
	saved := decode[database.SavedSearch](t, rr)
	if saved.ID == "" {
		t.Fatal("saved search has no id")
	}

	rr = call(t, h.SaveSearch, http.MethodPost, "/api/searches",
		SavedSearchRequest{ID: saved.ID, Name: "Felines", Criteria: tagCondition(tag.ID)}, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.ListSavedSearches, http.MethodGet, "/api/searches", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	list := decode[[]database.SavedSearch](t, rr)
	if len(list) != 1 || list[0].Name != "Felines" {
		t.Fatalf("saved searches = %+v", list)
	}
	criteria, err := catalog.SearchCriteria(list[0])
	if err != nil {
		t.Fatalf("SearchCriteria: %v", err)
	}
	if len(criteria.Children) != 1 {
		t.Errorf("stored criteria has %d children, want 1", len(criteria.Children))
	}

	vars := map[string]string{"id": saved.ID}
	expectStatus(t, call(t, h.DeleteSearch, http.MethodDelete, "/api/searches/"+saved.ID, nil, vars), http.StatusOK)
	expectStatus(t, call(t, h.DeleteSearch, http.MethodDelete, "/api/searches/"+saved.ID, nil, vars), http.StatusNotFound)
}

func TestCompareAndApplyIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	seedFiles(t, h, "a.jpg", "b.jpg")
	rr := call(t, h.ListLocations, http.MethodGet, "/api/locations", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	locID := decode[[]database.Location](t, rr)[0].ID
	vars := map[string]string{"id": locID}

	scan := ScanRequest{Files: []catalog.FileStats{
		{AbsolutePath: "/photos/a.jpg", Size: 100, DateModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{AbsolutePath: "/photos/new.jpg", Size: 10, DateModified: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}}
	rr = call(t, h.CompareFiles, http.MethodPost, "/api/locations/"+locID+"/compare", scan, vars)
	expectStatus(t, rr, http.StatusOK)
	diff := decode[catalog.Diff](t, rr)
	if len(diff.Added) != 1 || len(diff.Missing) != 1 {
		t.Fatalf("diff added %d missing %d, want 1 and 1", len(diff.Added), len(diff.Missing))
	}

	rr = call(t, h.ApplyDiff, http.MethodPost, "/api/locations/"+locID+"/apply", diff, vars)
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, h.Recount, http.MethodPost, "/api/recount", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	counts := decode[database.Counts](t, rr)
	if counts.Total != 3 || counts.Missing != 1 {
		t.Errorf("counts = %+v, want 3 total and 1 missing", counts)
	}

	rr = call(t, h.RemoveFiles, http.MethodDelete, "/api/files", RemoveFilesRequest{}, nil)
	expectStatus(t, rr, http.StatusBadRequest)
	rr = call(t, h.CompareFiles, http.MethodPost, "/api/locations/missing/compare", scan, map[string]string{"id": "missing"})
	expectStatus(t, rr, http.StatusOK)
}

func TestExportImportIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	src, _ := setupTestHandlers(t)
	ids := seedFiles(t, src, "a.jpg", "b.jpg")
	tag := createTag(t, src, "Cat", "")
	rr := call(t, src.TagFiles, http.MethodPost, "/api/files/tags",
		FileTagsRequest{FileIDs: []string{ids["a.jpg"]}, Add: []string{tag.ID}}, nil)
	expectStatus(t, rr, http.StatusOK)

	rr = call(t, src.Export, http.MethodGet, "/api/export", nil, nil)
	expectStatus(t, rr, http.StatusOK)
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	snap := decode[database.Snapshot](t, rr)
	if len(snap.Files) != 2 || len(snap.Tags) != 1 || len(snap.Locations) != 1 {
		t.Fatalf("snapshot has %d files %d tags %d locations", len(snap.Files), len(snap.Tags), len(snap.Locations))
	}

	dst, _ := setupTestHandlers(t)
	rr = call(t, dst.Import, http.MethodPost, "/api/import", rr.Body.String(), nil)
	expectStatus(t, rr, http.StatusOK)
	counts := decode[database.Counts](t, rr)
	if counts.Total != 2 || counts.Untagged != 1 {
		t.Errorf("imported counts = %+v, want 2 total and 1 untagged", counts)
	}

	rr = call(t, dst.GetTag, http.MethodGet, "/api/tags/"+tag.ID, nil, map[string]string{"id": tag.ID})
	expectStatus(t, rr, http.StatusOK)
	if got := decode[TagResponse](t, rr).FileCount; got != 1 {
		t.Errorf("imported Cat count = %d, want 1", got)
	}
}

func TestEventsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	h, _ := setupTestHandlers(t)

	srv := httptest.NewServer(http.HandlerFunc(h.Events))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	waitFor := func(prefix string) string {
		t.Helper()
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					t.Fatalf("stream ended before %q", prefix)
				}
				if strings.HasPrefix(line, prefix) {
					return line
				}
			case <-ctx.Done():
				t.Fatalf("timed out waiting for %q", prefix)
			}
		}
	}

	waitFor("event: hello")
	tag := createTag(t, h, "Cat", "")
	waitFor("event: tags")
	if data := waitFor("data: "); !strings.Contains(data, tag.ID) {
		t.Errorf("tags event data %q does not name %s", data, tag.ID)
	}
	waitFor(": ping")
}
