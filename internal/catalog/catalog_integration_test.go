package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/aggregate"
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

func setupTestService(t *testing.T) (*Service, *database.Database) {
	t.Helper()
	db := setupTestDB(t)
	cfg := DefaultConfig()
	cfg.Location = time.UTC
	cfg.SaveDebounce = time.Hour
	cfg.Aggregate = aggregate.Config{Debounce: time.Hour}
	svc, err := Open(context.Background(), db, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, db
}

func mustTag(t *testing.T, svc *Service, name, parent string) string {
	t.Helper()
	tag, err := svc.CreateTag(context.Background(), NewTag{Name: name, ParentID: parent, Index: -1})
	if err != nil {
		t.Fatalf("CreateTag(%s): %v", name, err)
	}
	return tag.ID
}

func mustLocation(t *testing.T, svc *Service, loc database.Location) database.Location {
	t.Helper()
	saved, err := svc.SaveLocation(context.Background(), loc)
	if err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}
	return saved
}

func stats(dir string, names ...string) []FileStats {
	out := make([]FileStats, len(names))
	for i, n := range names {
		out[i] = FileStats{
			AbsolutePath: dir + "/" + n,
			Size:         int64(100 * (i + 1)),
			DateModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

// idsByName maps file names to ids.
func idsByName(t *testing.T, svc *Service) map[string]string {
	t.Helper()
	page, err := svc.SearchFiles(context.Background(), SearchRequest{OrderBy: "name", Limit: 1000})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	out := make(map[string]string, len(page.Files))
	for _, f := range page.Files {
		out[f.Name] = f.ID
	}
	return out
}

func searchNames(t *testing.T, svc *Service, cond condition.Condition) []string {
	t.Helper()
	page, err := svc.SearchFiles(context.Background(), SearchRequest{Criteria: query.All(cond), OrderBy: "name"})
	if err != nil {
		t.Fatalf("SearchFiles(%s): %v", cond, err)
	}
	var names []string
	for _, f := range page.Files {
		names = append(names, f.Name)
	}
	return names
}

func tagCount(t *testing.T, svc *Service, id string) int {
	t.Helper()
	tag, ok := svc.Graph().Get(id)
	if !ok {
		t.Fatalf("tag %s not found", id)
	}
	if tag.IsFileCountDirty {
		t.Errorf("tag %s still dirty", tag.Name)
	}
	return tag.FileCount
}

func TestImplicationSearchScenarioIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	a := mustTag(t, svc, "A", "")
	b := mustTag(t, svc, "B", "")
	if err := svc.AddImplication(ctx, b, a); err != nil {
		t.Fatalf("AddImplication: %v", err)
	}
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "f1.jpg", "f2.jpg", "f3.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	ids := idsByName(t, svc)
	if err := svc.AddTags(ctx, []string{ids["f1.jpg"]}, []string{a}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	if err := svc.AddTags(ctx, []string{ids["f2.jpg"]}, []string{b}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}

	tests := []struct {
		op   condition.Operator
		want []string
	}{
		{condition.ContainsRecursively, []string{"f1.jpg", "f2.jpg"}},
		{condition.Contains, []string{"f1.jpg"}},
		{condition.NotContains, []string{"f2.jpg", "f3.jpg"}},
		{condition.ContainsNotRecursively, []string{"f3.jpg"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			cond, err := condition.NewTags(tt.op, a)
			if err != nil {
				t.Fatalf("NewTags: %v", err)
			}
			if got := searchNames(t, svc, cond); !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, a); got != 2 {
		t.Errorf("count(A) = %d, want 2", got)
	}
	if got := tagCount(t, svc, b); got != 1 {
		t.Errorf("count(B) = %d, want 1", got)
	}
	want := database.Counts{Total: 3, Untagged: 1}
	if got := svc.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
}

func TestExtraPropertyOrderIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	rating, err := svc.CreateExtraProperty(ctx, "rating", database.PropertyNumber)
	if err != nil {
		t.Fatalf("CreateExtraProperty: %v", err)
	}
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "a.jpg", "b.jpg", "c.jpg", "d.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	ids := idsByName(t, svc)
	for name, v := range map[string]float64{"b.jpg": 3, "c.jpg": 5} {
		if err := svc.SetPropertyValue(ctx, ids[name], rating.ID, v); err != nil {
			t.Fatalf("SetPropertyValue: %v", err)
		}
	}
	if err := svc.SetPropertyValue(ctx, ids["a.jpg"], rating.ID, "high"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("SetPropertyValue(text on number) error = %v, want ErrInvalidValue", err)
	}

	page, err := svc.SearchFiles(ctx, SearchRequest{
		OrderBy:         database.OrderExtraProperty,
		ExtraPropertyID: rating.ID,
		Descending:      true,
	})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	var names []string
	for _, f := range page.Files {
		names = append(names, f.Name)
	}
	if len(names) != 4 || names[0] != "c.jpg" || names[1] != "b.jpg" {
		t.Fatalf("order = %v, want c.jpg, b.jpg first", names)
	}
	if !slices.Contains(names[2:], "a.jpg") || !slices.Contains(names[2:], "d.jpg") {
		t.Errorf("files without a rating should come last, got %v", names)
	}

	if _, err := svc.SearchFiles(ctx, SearchRequest{OrderBy: database.OrderExtraProperty, ExtraPropertyID: "nope"}); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("unknown property order error = %v, want ErrNotFound", err)
	}
}

func TestSearchPagingIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg"}
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", names...)); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}

	first, err := svc.SearchFiles(ctx, SearchRequest{OrderBy: "name", Limit: 2})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	var got []string
	page := first
	for len(page.Files) > 0 {
		for _, f := range page.Files {
			got = append(got, f.Name)
		}
		page, err = svc.SearchFiles(ctx, SearchRequest{OrderBy: "name", Limit: 2, Direction: After, Cursor: page.Last})
		if err != nil {
			t.Fatalf("SearchFiles(after): %v", err)
		}
	}
	if !slices.Equal(got, names) {
		t.Errorf("paged = %v, want %v", got, names)
	}

	if _, err := svc.SearchFiles(ctx, SearchRequest{Direction: Before}); err == nil {
		t.Error("paging without a cursor should fail")
	}

	n, err := svc.CountFiles(ctx, nil)
	if err != nil || n != 5 {
		t.Errorf("CountFiles() = %d, %v; want 5", n, err)
	}
}

func TestSearchRandomOrderSeedIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	names := []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg"}
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", names...)); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}

	first, err := svc.SearchFiles(ctx, SearchRequest{OrderBy: database.OrderRandom, Limit: 2})
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if first.Seed == 0 {
		t.Fatal("first random page has no seed")
	}

	// Paging with the returned seed visits every file exactly once.
	var got []string
	page := first
	for len(page.Files) > 0 {
		for _, f := range page.Files {
			got = append(got, f.Name)
		}
		page, err = svc.SearchFiles(ctx, SearchRequest{
			OrderBy: database.OrderRandom, Seed: first.Seed, Limit: 2, Direction: After, Cursor: page.Last,
		})
		if err != nil {
			t.Fatalf("SearchFiles(after): %v", err)
		}
		if len(page.Files) > 0 && page.Seed != first.Seed {
			t.Errorf("page seed = %d, want %d", page.Seed, first.Seed)
		}
	}
	slices.Sort(got)
	if !slices.Equal(got, names) {
		t.Errorf("paged = %v, want every file once", got)
	}

	if _, err := svc.SearchFiles(ctx, SearchRequest{
		OrderBy: database.OrderRandom, Limit: 2, Direction: After, Cursor: first.Last,
	}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("paging random order without a seed: err = %v, want ErrInvalidRequest", err)
	}

	byName, err := svc.SearchFiles(ctx, SearchRequest{OrderBy: "name"})
	if err != nil {
		t.Fatalf("SearchFiles(name): %v", err)
	}
	if byName.Seed != 0 {
		t.Errorf("non-random page seed = %d, want 0", byName.Seed)
	}
}

func TestDeleteTagIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, db := setupTestService(t)
	ctx := context.Background()

	animal := mustTag(t, svc, "animal", "")
	cat := mustTag(t, svc, "cat", animal)
	pet := mustTag(t, svc, "pet", "")
	if err := svc.AddImplication(ctx, cat, pet); err != nil {
		t.Fatalf("AddImplication: %v", err)
	}
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "tom.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	tom := idsByName(t, svc)["tom.jpg"]
	if err := svc.AddTags(ctx, []string{tom}, []string{cat}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, pet); got != 1 {
		t.Fatalf("count(pet) = %d, want 1", got)
	}

	removed, err := svc.DeleteTag(ctx, animal)
	if err != nil {
		t.Fatalf("DeleteTag: %v", err)
	}
	slices.Sort(removed)
	want := []string{animal, cat}
	slices.Sort(want)
	if !slices.Equal(removed, want) {
		t.Errorf("removed = %v, want %v", removed, want)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, pet); got != 0 {
		t.Errorf("count(pet) = %d after delete, want 0", got)
	}
	f, err := db.GetFile(ctx, tom)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if len(f.Tags) != 0 {
		t.Errorf("file tags = %v after delete, want none", f.Tags)
	}
	if got := svc.Counts().Untagged; got != 1 {
		t.Errorf("Untagged = %d, want 1", got)
	}

	if _, err := svc.DeleteTag(ctx, animal); !errors.Is(err, taggraph.ErrNotFound) {
		t.Errorf("second DeleteTag error = %v, want ErrNotFound", err)
	}
}

func TestMergeTagsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, db := setupTestService(t)
	ctx := context.Background()

	kitty := mustTag(t, svc, "kitty", "")
	cat := mustTag(t, svc, "cat", "")
	animal := mustTag(t, svc, "animal", "")
	if err := svc.AddImplication(ctx, kitty, animal); err != nil {
		t.Fatalf("AddImplication: %v", err)
	}
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "1.jpg", "2.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	ids := idsByName(t, svc)
	if err := svc.AddTags(ctx, []string{ids["1.jpg"]}, []string{kitty, cat}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	if err := svc.AddTags(ctx, []string{ids["2.jpg"]}, []string{kitty}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}

	if err := svc.MergeTags(ctx, kitty, cat); err != nil {
		t.Fatalf("MergeTags: %v", err)
	}
	if svc.Graph().Has(kitty) {
		t.Error("merged tag still in graph")
	}
	if got := svc.Graph().Implies(cat); !slices.Equal(got, []string{animal}) {
		t.Errorf("Implies(cat) = %v, want [animal]", got)
	}
	if got := svc.Graph().Aliases(cat); !slices.Contains(got, "kitty") {
		t.Errorf("Aliases(cat) = %v, want kitty", got)
	}
	for _, name := range []string{"1.jpg", "2.jpg"} {
		f, err := db.GetFile(ctx, ids[name])
		if err != nil {
			t.Fatalf("GetFile: %v", err)
		}
		if !slices.Equal(f.Tags, []string{cat}) {
			t.Errorf("%s tags = %v, want [cat]", name, f.Tags)
		}
	}

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, cat); got != 2 {
		t.Errorf("count(cat) = %d, want 2", got)
	}
	if got := tagCount(t, svc, animal); got != 2 {
		t.Errorf("count(animal) = %d, want 2", got)
	}

	rows, edges, err := db.LoadTags(ctx)
	if err != nil {
		t.Fatalf("LoadTags: %v", err)
	}
	if len(rows) != 2 || len(edges) != 1 {
		t.Errorf("stored %d tags and %d edges, want 2 and 1", len(rows), len(edges))
	}

	parent := mustTag(t, svc, "parent", "")
	mustTag(t, svc, "child", parent)
	if err := svc.MergeTags(ctx, parent, cat); !errors.Is(err, taggraph.ErrUnsupported) {
		t.Errorf("merging a tag with children error = %v, want ErrUnsupported", err)
	}
}

func TestMoveTagIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, db := setupTestService(t)
	ctx := context.Background()

	animal := mustTag(t, svc, "animal", "")
	plant := mustTag(t, svc, "plant", "")
	cat := mustTag(t, svc, "cat", animal)
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "x.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	if err := svc.AddTags(ctx, []string{idsByName(t, svc)["x.jpg"]}, []string{cat}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}

	if err := svc.MoveTag(ctx, cat, plant, 0); err != nil {
		t.Fatalf("MoveTag: %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, animal); got != 0 {
		t.Errorf("count(animal) = %d, want 0", got)
	}
	if got := tagCount(t, svc, plant); got != 1 {
		t.Errorf("count(plant) = %d, want 1", got)
	}
	if err := svc.MoveTag(ctx, plant, cat, 0); !errors.Is(err, taggraph.ErrCycle) {
		t.Errorf("moving under own subtree error = %v, want ErrCycle", err)
	}

	rows, _, err := db.LoadTags(ctx)
	if err != nil {
		t.Fatalf("LoadTags: %v", err)
	}
	for _, r := range rows {
		if r.ID == cat && r.ParentID != plant {
			t.Errorf("stored parent of cat = %s, want plant", r.ParentID)
		}
	}
}

func TestBulkRetagIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	jpg := mustTag(t, svc, "jpg", "")
	old := mustTag(t, svc, "old", "")
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "a.jpg", "b.jpg", "c.png")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	var all []string
	for _, id := range idsByName(t, svc) {
		all = append(all, id)
	}
	if err := svc.AddTags(ctx, all, []string{old}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}

	cond, err := condition.NewString(condition.KeyExtension, condition.Equals, "jpg")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	var reports [][2]int
	n, err := svc.BulkRetag(ctx, query.All(cond), []string{jpg}, []string{old}, func(done, total int) {
		reports = append(reports, [2]int{done, total})
	})
	if err != nil {
		t.Fatalf("BulkRetag: %v", err)
	}
	if n != 2 {
		t.Errorf("BulkRetag() = %d, want 2", n)
	}
	if len(reports) != 1 || reports[0] != [2]int{2, 2} {
		t.Errorf("progress = %v, want [[2 2]]", reports)
	}

	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, jpg); got != 2 {
		t.Errorf("count(jpg) = %d, want 2", got)
	}
	if got := tagCount(t, svc, old); got != 1 {
		t.Errorf("count(old) = %d, want 1", got)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if n, err := svc.BulkRetag(cancelled, nil, []string{jpg}, nil, nil); !errors.Is(err, context.Canceled) || n != 0 {
		t.Errorf("cancelled BulkRetag() = %d, %v; want 0, context.Canceled", n, err)
	}
	if _, err := svc.BulkRetag(ctx, nil, []string{"missing"}, nil, nil); !errors.Is(err, taggraph.ErrNotFound) {
		t.Errorf("unknown tag error = %v, want ErrNotFound", err)
	}
}

func TestIngestionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, db := setupTestService(t)
	ctx := context.Background()

	cats := mustTag(t, svc, "cats", "")
	loc := mustLocation(t, svc, database.Location{
		Path:         "/media",
		SubLocations: []database.SubLocation{{Name: "cats", Tags: []string{cats, "deleted-tag"}}},
	})

	initial := []FileStats{
		{AbsolutePath: "/media/cats/tom.JPG", Size: 10},
		{AbsolutePath: "/media/dog.png", Size: 20},
		{AbsolutePath: "/media/gone.gif", Size: 30},
	}
	n, err := svc.CreateFilesFromPath(ctx, loc.ID, initial)
	if err != nil || n != 3 {
		t.Fatalf("CreateFilesFromPath() = %d, %v; want 3", n, err)
	}
	if n, err := svc.CreateFilesFromPath(ctx, loc.ID, initial[:1]); err != nil || n != 0 {
		t.Errorf("re-adding a known path = %d, %v; want 0", n, err)
	}

	tom, err := db.GetFileByPath(ctx, "/media/cats/tom.JPG")
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}
	if tom.Extension != "jpg" || tom.RelativePath != "cats/tom.JPG" || !slices.Equal(tom.Tags, []string{cats}) {
		t.Errorf("tom = ext %q rel %q tags %v", tom.Extension, tom.RelativePath, tom.Tags)
	}

	onDisk := []FileStats{
		{AbsolutePath: "/media/cats/tom.JPG", Size: 10},
		{AbsolutePath: "/media/dog.png", Size: 25, DateModified: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{AbsolutePath: "/media/new.webp", Size: 40},
	}
	diff, err := svc.CompareFiles(ctx, loc.ID, onDisk)
	if err != nil {
		t.Fatalf("CompareFiles: %v", err)
	}
	if len(diff.Added) != 1 || diff.Added[0].AbsolutePath != "/media/new.webp" {
		t.Errorf("Added = %+v", diff.Added)
	}
	if len(diff.Missing) != 1 || diff.Missing[0].Name != "gone.gif" {
		t.Errorf("Missing = %+v", diff.Missing)
	}
	if len(diff.Changed) != 1 || diff.Changed[0].Size != 25 {
		t.Errorf("Changed = %+v", diff.Changed)
	}
	if err := svc.ApplyDiff(ctx, loc.ID, diff); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	want := database.Counts{Total: 4, Untagged: 3, Missing: 1}
	if got := svc.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}

	// The missing file comes back.
	diff, err = svc.CompareFiles(ctx, loc.ID, append(onDisk, FileStats{AbsolutePath: "/media/gone.gif", Size: 30}))
	if err != nil {
		t.Fatalf("CompareFiles: %v", err)
	}
	if len(diff.Restored) != 1 || len(diff.Added) != 0 || len(diff.Missing) != 0 {
		t.Fatalf("diff = %+v, want one restored file", diff)
	}
	if err := svc.ApplyDiff(ctx, loc.ID, diff); err != nil {
		t.Fatalf("ApplyDiff: %v", err)
	}
	gone, err := db.GetFileByPath(ctx, "/media/gone.gif")
	if err != nil || gone.Broken {
		t.Errorf("restored file = %+v, %v", gone, err)
	}

	if err := svc.RemoveFiles(ctx, []string{tom.ID}); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, svc, cats); got != 0 {
		t.Errorf("count(cats) = %d after removal, want 0", got)
	}
}

func TestSaveFilesCoalescesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	cfg := DefaultConfig()
	cfg.SaveDebounce = 20 * time.Millisecond
	cfg.Aggregate = aggregate.Config{Debounce: time.Hour}
	svc, err := Open(context.Background(), db, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = svc.Close(context.Background()) }()
	ctx := context.Background()

	red := mustTag(t, svc, "red", "")
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "a.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	f, err := db.GetFileByPath(ctx, "/media/a.jpg")
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}

	var mu sync.Mutex
	saves := 0
	saved := make(chan struct{}, 4)
	svc.OnChange(func(c Change) {
		if c.Kind == ChangeFiles && len(c.IDs) == 1 && c.IDs[0] == f.ID {
			mu.Lock()
			saves++
			mu.Unlock()
			saved <- struct{}{}
		}
	})

	edit := *f
	edit.Width = 640
	svc.SaveFiles(edit)
	edit.Tags = []string{red}
	svc.SaveFiles(edit)

	select {
	case <-saved:
	case <-time.After(5 * time.Second):
		t.Fatal("debounced save did not run")
	}
	mu.Lock()
	if saves != 1 {
		t.Errorf("saves = %d, want 1", saves)
	}
	mu.Unlock()

	got, err := db.GetFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if got.Width != 640 || !slices.Equal(got.Tags, []string{red}) {
		t.Errorf("saved file = width %d tags %v", got.Width, got.Tags)
	}
	if tag, _ := svc.Graph().Get(red); !tag.IsFileCountDirty {
		t.Error("red should be dirty after its file was saved")
	}
}

func TestSavedSearchesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	cond, err := condition.NewNumber(condition.KeySize, condition.GreaterThan, 100)
	if err != nil {
		t.Fatalf("NewNumber: %v", err)
	}
	criteria := query.NewGroup("big", query.And, query.Leaf{Condition: cond}, query.NewGroup("empty", query.Or))
	saved, err := svc.SaveSearch(ctx, "", "Big files", 0, criteria)
	if err != nil {
		t.Fatalf("SaveSearch: %v", err)
	}

	all, err := svc.SavedSearches(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("SavedSearches() = %v, %v", all, err)
	}
	back, err := SearchCriteria(all[0])
	if err != nil {
		t.Fatalf("SearchCriteria: %v", err)
	}
	leaves := slices.Collect(query.Leaves(back))
	if len(back.Children) != 1 || len(leaves) != 1 || leaves[0].String() != cond.String() {
		t.Errorf("decoded = %+v, want one leaf %s", back, cond)
	}

	if err := svc.DeleteSearch(ctx, saved.ID); err != nil {
		t.Fatalf("DeleteSearch: %v", err)
	}
	if err := svc.DeleteSearch(ctx, saved.ID); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second DeleteSearch error = %v, want ErrNotFound", err)
	}
}

func TestExportImportIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	svc, _ := setupTestService(t)
	ctx := context.Background()

	animal := mustTag(t, svc, "animal", "")
	cat := mustTag(t, svc, "cat", animal)
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "a.jpg", "b.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	if err := svc.AddTags(ctx, []string{idsByName(t, svc)["a.jpg"]}, []string{cat}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	snap, err := svc.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	other, _ := setupTestService(t)
	var changes []ChangeKind
	other.OnChange(func(c Change) { changes = append(changes, c.Kind) })
	if err := other.Import(ctx, snap); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := tagCount(t, other, animal); got != 1 {
		t.Errorf("count(animal) = %d after import, want 1", got)
	}
	if parent, _ := other.Graph().Parent(cat); parent != animal {
		t.Errorf("Parent(cat) = %s, want animal", parent)
	}
	if n, err := other.CountFiles(ctx, nil); err != nil || n != 2 {
		t.Errorf("CountFiles() = %d, %v; want 2", n, err)
	}
	if !slices.Contains(changes, ChangeImport) {
		t.Errorf("changes = %v, want an import notification", changes)
	}
}

func TestReopenRecomputesDirtyCountsIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Aggregate = aggregate.Config{Debounce: time.Hour}

	svc, err := Open(ctx, db, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tag := mustTag(t, svc, "t", "")
	loc := mustLocation(t, svc, database.Location{Path: "/media"})
	if _, err := svc.CreateFilesFromPath(ctx, loc.ID, stats("/media", "a.jpg")); err != nil {
		t.Fatalf("CreateFilesFromPath: %v", err)
	}
	if err := svc.AddTags(ctx, []string{idsByName(t, svc)["a.jpg"]}, []string{tag}); err != nil {
		t.Fatalf("AddTags: %v", err)
	}
	if err := db.MarkTagsDirty(ctx, []string{tag}); err != nil {
		t.Fatalf("MarkTagsDirty: %v", err)
	}
	svc.counts.Close()

	reopened, err := Open(ctx, db, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = reopened.Close(ctx) }()
	if err := reopened.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if got := tagCount(t, reopened, tag); got != 1 {
		t.Errorf("count = %d after reopen, want 1", got)
	}
}
