package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/compiler"
	"github.com/RafaUC/Allusion-sub000/internal/condition"
	"github.com/RafaUC/Allusion-sub000/internal/database"
	"github.com/RafaUC/Allusion-sub000/internal/query"
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

// seedNumbered stores n files f00..f(n-1) with size i*10 and every third
// one tagged "even".
func seedNumbered(t *testing.T, db *database.Database, n int) {
	t.Helper()
	ctx := context.Background()
	if err := db.SaveLocation(ctx, database.Location{ID: "loc", Path: "/m"}); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}
	if err := db.ReplaceTagTree(ctx, []database.TagRow{{ID: "third", Name: "third", ParentID: "root"}}, nil); err != nil {
		t.Fatalf("ReplaceTagTree: %v", err)
	}
	files := make([]database.File, n)
	for i := range files {
		name := fmt.Sprintf("f%02d", i)
		files[i] = database.File{
			ID: name, LocationID: "loc", AbsolutePath: "/m/" + name, RelativePath: name, Name: name,
			Size: int64(i * 10), DateAdded: time.Unix(int64(1000+i), 0),
		}
		if i%3 == 0 {
			files[i].Tags = []string{"third"}
		}
	}
	if _, err := db.InsertFiles(ctx, files); err != nil {
		t.Fatalf("InsertFiles: %v", err)
	}
}

func ids(files []database.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.ID
	}
	return out
}

func newTestExecutor(db *database.Database) *Executor {
	return New(db, compiler.New(nil, db.Indexes(), nil, time.UTC))
}

func TestPagesReconstructDatasetIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	seedNumbered(t, db, 10)
	e := newTestExecutor(db)
	ctx := context.Background()

	// A residual filter forces the executor to skip rows itself.
	contains, _ := condition.NewString("name", condition.Contains, "F")
	scanOnly := query.All(contains)

	for _, criteria := range []*query.Group{query.All(), scanOnly} {
		req := Request{Criteria: criteria, Order: database.Order{Key: "size", Desc: true}, Limit: 3}

		var forward []string
		page, err := e.Initial(ctx, req, "")
		if err != nil {
			t.Fatalf("Initial: %v", err)
		}
		for len(page.Files) > 0 {
			forward = append(forward, ids(page.Files)...)
			if page, err = e.After(ctx, req, *page.Last); err != nil {
				t.Fatalf("After: %v", err)
			}
		}
		want := []string{"f09", "f08", "f07", "f06", "f05", "f04", "f03", "f02", "f01", "f00"}
		if !slices.Equal(forward, want) {
			t.Fatalf("forward pages = %v, want %v", forward, want)
		}

		// Walk back from the end.
		last := database.Cursor{ID: "f00", Value: int64(0)}
		var backward []string
		page, err = e.Before(ctx, req, last)
		if err != nil {
			t.Fatalf("Before: %v", err)
		}
		for len(page.Files) > 0 {
			backward = append(ids(page.Files), backward...)
			if page, err = e.Before(ctx, req, *page.First); err != nil {
				t.Fatalf("Before: %v", err)
			}
		}
		if !slices.Equal(backward, want[:9]) {
			t.Errorf("backward pages = %v, want %v", backward, want[:9])
		}
	}
}

func TestInitialAnchorIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	seedNumbered(t, db, 10)
	e := newTestExecutor(db)
	ctx := context.Background()
	req := Request{Criteria: query.All(), Order: database.Order{Key: "size"}, Limit: 4}

	page, err := e.Initial(ctx, req, "f05")
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []string{"f03", "f04", "f05", "f06"}; !slices.Equal(ids(page.Files), want) {
		t.Errorf("anchored page = %v, want %v", ids(page.Files), want)
	}
	if page.AnchorIndex != 2 {
		t.Errorf("AnchorIndex = %d, want 2", page.AnchorIndex)
	}

	page, err = e.Initial(ctx, req, "f00")
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if page.AnchorIndex != 0 || len(page.Files) != 4 {
		t.Errorf("anchor at start: index %d, files %v", page.AnchorIndex, ids(page.Files))
	}

	// An anchor that does not match still positions the page.
	tagged, _ := condition.NewTags(condition.Contains, "third")
	req.Criteria = query.All(tagged)
	page, err = e.Initial(ctx, req, "f04")
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []string{"f00", "f03", "f06", "f09"}; !slices.Equal(ids(page.Files), want) {
		t.Errorf("page around unmatched anchor = %v, want %v", ids(page.Files), want)
	}
	if page.AnchorIndex != -1 {
		t.Errorf("AnchorIndex = %d, want -1", page.AnchorIndex)
	}

	page, err = e.Initial(ctx, req, "missing")
	if err != nil {
		t.Fatalf("Initial with unknown anchor: %v", err)
	}
	if len(page.Files) != 4 || page.Files[0].ID != "f00" {
		t.Errorf("unknown anchor page = %v", ids(page.Files))
	}
}

func TestInitialAnchorSingleFilePageIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	seedNumbered(t, db, 10)
	e := newTestExecutor(db)
	ctx := context.Background()

	tagged, _ := condition.NewTags(condition.Contains, "third")
	tests := []struct {
		name      string
		criteria  *query.Group
		anchor    string
		want      string
		wantIndex int
	}{
		{"anchor in the middle", query.All(), "f05", "f05", 0},
		{"anchor first", query.All(), "f00", "f00", 0},
		{"anchor last", query.All(), "f09", "f09", 0},
		{"unmatched anchor resumes after it", query.All(tagged), "f04", "f06", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Criteria: tt.criteria, Order: database.Order{Key: "size"}, Limit: 1}
			page, err := e.Initial(ctx, req, tt.anchor)
			if err != nil {
				t.Fatalf("Initial: %v", err)
			}
			if got := ids(page.Files); !slices.Equal(got, []string{tt.want}) {
				t.Errorf("page = %v, want [%s]", got, tt.want)
			}
			if page.AnchorIndex != tt.wantIndex {
				t.Errorf("AnchorIndex = %d, want %d", page.AnchorIndex, tt.wantIndex)
			}
		})
	}
}

func TestCountIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	seedNumbered(t, db, 10)
	e := newTestExecutor(db)
	ctx := context.Background()

	tagged, _ := condition.NewTags(condition.Contains, "third")
	untagged, _ := condition.NewTags(condition.NotContains, "third")
	big, _ := condition.NewNumber("size", condition.GreaterThanOrEquals, 50)

	tests := []struct {
		name     string
		criteria *query.Group
		want     int
	}{
		{"everything", query.All(), 10},
		{"indexed", query.All(tagged), 4},
		{"scan", query.All(untagged), 6},
		{"and", query.All(tagged, big), 2},
		{"or", query.Any(tagged, big), 7},
	}
	for _, tt := range tests {
		got, err := e.Count(ctx, tt.criteria)
		if err != nil {
			t.Fatalf("%s: Count: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: Count = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestExtraPropertySortMissingLastIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	seedNumbered(t, db, 4)
	ctx := context.Background()

	if err := db.SaveExtraProperty(ctx, database.ExtraProperty{ID: "rating", Name: "rating", Type: database.PropertyNumber}); err != nil {
		t.Fatalf("SaveExtraProperty: %v", err)
	}
	for id, v := range map[string]float64{"f00": 3, "f02": 5} {
		if err := db.SetPropertyValue(ctx, id, "rating", v); err != nil {
			t.Fatalf("SetPropertyValue: %v", err)
		}
	}

	e := newTestExecutor(db)
	order := database.Order{Key: database.OrderExtraProperty, PropertyID: "rating", PropertyType: database.PropertyNumber, Desc: true}
	page, err := e.Initial(ctx, Request{Criteria: query.All(), Order: order, Limit: 10}, "")
	if err != nil {
		t.Fatalf("Initial: %v", err)
	}
	if want := []string{"f02", "f00", "f03", "f01"}; !slices.Equal(ids(page.Files), want) {
		t.Errorf("descending by rating = %v, want %v", ids(page.Files), want)
	}
}
