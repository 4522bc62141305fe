package compiler

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/RafaUC/Allusion-sub000/internal/condition"
	"github.com/RafaUC/Allusion-sub000/internal/database"
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

// seedCatalog builds a small tag tree and file set:
//
//	animal > cat, dog;  plant;  cat implies pet
func seedCatalog(t *testing.T, db *database.Database) *taggraph.Graph {
	t.Helper()
	ctx := context.Background()

	g := taggraph.New()
	for _, tag := range []struct{ id, parent string }{
		{"animal", taggraph.RootID}, {"cat", "animal"}, {"dog", "animal"},
		{"plant", taggraph.RootID}, {"pet", taggraph.RootID},
	} {
		if err := g.Insert(taggraph.Tag{ID: tag.id, Name: tag.id}, tag.parent, -1); err != nil {
			t.Fatalf("Insert(%s): %v", tag.id, err)
		}
	}
	if err := g.AddImplication("cat", "pet"); err != nil {
		t.Fatalf("AddImplication: %v", err)
	}

	var rows []database.TagRow
	for _, r := range g.Records() {
		rows = append(rows, database.TagRow{ID: r.ID, Name: r.Name, ParentID: r.ParentID, Position: r.Position})
	}
	var edges []database.ImplicationRow
	for _, e := range g.Implications() {
		edges = append(edges, database.ImplicationRow{TagID: e.Tag, ImpliedID: e.Implied})
	}
	if err := db.ReplaceTagTree(ctx, rows, edges); err != nil {
		t.Fatalf("ReplaceTagTree: %v", err)
	}
	for _, p := range []database.ExtraProperty{
		{ID: "score", Name: "score", Type: database.PropertyNumber},
		{ID: "note", Name: "note", Type: database.PropertyText},
	} {
		if err := db.SaveExtraProperty(ctx, p); err != nil {
			t.Fatalf("SaveExtraProperty: %v", err)
		}
	}
	if err := db.SaveLocation(ctx, database.Location{ID: "loc", Path: "/m"}); err != nil {
		t.Fatalf("SaveLocation: %v", err)
	}

	day := func(d int) time.Time { return time.Date(2024, 1, d, 12, 0, 0, 0, time.UTC) }
	files := []database.File{
		{ID: "1", Name: "Cat.JPG", Extension: "JPG", Size: 100, DateAdded: day(1), Tags: []string{"cat"},
			ExtraProperties: map[string]any{"score": 1.0}},
		{ID: "2", Name: "dog.png", Extension: "png", Size: 200, DateAdded: day(2), Tags: []string{"dog", "plant"},
			ExtraProperties: map[string]any{"note": "Good Boy"}},
		{ID: "3", Name: "fern.png", Extension: "png", Size: 300, DateAdded: day(2), Tags: []string{"plant"}},
		{ID: "4", Name: "blank.gif", Extension: "gif", Size: 400, DateAdded: day(3)},
		{ID: "5", Name: "pet.jpg", Extension: "jpg", Size: 500, DateAdded: day(4), Tags: []string{"pet"},
			ExtraProperties: map[string]any{"score": 9.0, "note": "cute"}},
	}
	for i := range files {
		files[i].LocationID = "loc"
		files[i].AbsolutePath = "/m/" + files[i].Name
		files[i].RelativePath = files[i].Name
	}
	if _, err := db.InsertFiles(ctx, files); err != nil {
		t.Fatalf("InsertFiles: %v", err)
	}
	return g
}

func matchIDs(t *testing.T, db *database.Database, expr database.IndexExpr, filter func(*database.File) bool) []string {
	t.Helper()
	var ids []string
	err := db.ScanFiles(context.Background(), database.ScanRequest{Index: expr, Order: database.Order{Key: "id"}},
		func(r database.Row) error {
			if filter == nil || filter(&r.File) {
				ids = append(ids, r.File.ID)
			}
			return nil
		})
	if err != nil {
		t.Fatalf("ScanFiles: %v", err)
	}
	return ids
}

func TestIndexScanEquivalenceIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	g := seedCatalog(t, db)
	c := New(g, db.Indexes(), PropertyMap{"score": database.PropertyNumber, "note": database.PropertyText}, time.UTC)

	must := func(cond condition.Condition, err error) condition.Condition {
		t.Helper()
		if err != nil {
			t.Fatalf("building condition: %v", err)
		}
		return cond
	}
	jan2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	conds := []condition.Condition{
		must(condition.NewString("name", condition.Equals, "dog.png")),
		must(condition.NewString("name", condition.EqualsIgnoreCase, "CAT.jpg")),
		must(condition.NewString("name", condition.StartsWith, "d")),
		must(condition.NewString("name", condition.StartsWithIgnoreCase, "C")),
		must(condition.NewString("name", condition.NotStartsWith, "d")),
		must(condition.NewString("name", condition.Contains, "PN")),
		must(condition.NewString("extension", condition.NotEqual, "png")),
		must(condition.NewString("absolutePath", condition.EqualsIgnoreCase, "/M/CAT.JPG")),
		must(condition.NewNumber("size", condition.GreaterThanOrEquals, 300)),
		must(condition.NewNumber("size", condition.NotEqual, 300)),
		must(condition.NewDate("dateAdded", condition.Equals, jan2)),
		must(condition.NewDate("dateAdded", condition.NotEqual, jan2)),
		must(condition.NewDate("dateAdded", condition.SmallerThanOrEquals, jan2)),
		must(condition.NewDate("dateAdded", condition.GreaterThan, jan2)),
		must(condition.NewTags(condition.Contains)),
		must(condition.NewTags(condition.Contains, "plant")),
		must(condition.NewTags(condition.ContainsRecursively, "animal")),
		must(condition.NewTags(condition.ContainsRecursively, "pet")),
		must(condition.NewTags(condition.NotContains)),
		must(condition.NewTags(condition.NotContains, "plant")),
		must(condition.NewTags(condition.ContainsNotRecursively, "animal")),
		must(condition.NewExtraProperty("score", condition.ExistsInFile, nil)),
		must(condition.NewExtraProperty("note", condition.NotExistsInFile, nil)),
		must(condition.NewExtraProperty("score", condition.SmallerThan, 5.0)),
		must(condition.NewExtraProperty("note", condition.Contains, "BOY")),
		must(condition.NewExtraProperty("ghost", condition.Equals, 1.0)),
	}

	all := matchIDs(t, db, nil, nil)
	if len(all) != 5 {
		t.Fatalf("seeded %d files, want 5", len(all))
	}

	for _, cond := range conds {
		t.Run(cond.String(), func(t *testing.T) {
			p := c.Compile(cond)
			scan := matchIDs(t, db, nil, p.Match)
			if p.Index == nil {
				return
			}
			viaIndex := matchIDs(t, db, p.Index, p.Filter)
			if !slices.Equal(viaIndex, scan) {
				t.Errorf("index path = %v, scan path = %v", viaIndex, scan)
			}
		})
	}
}

func TestRecursiveMatchesExplicitExpansionIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	g := seedCatalog(t, db)
	c := New(g, db.Indexes(), nil, time.UTC)

	for _, root := range []string{"animal", "pet", "plant", "ghost"} {
		rec, err := condition.NewTags(condition.ContainsRecursively, root)
		if err != nil {
			t.Fatal(err)
		}
		expanded := sortedKeys(g.Expand(root))
		explicit, err := condition.NewTags(condition.Contains, expanded...)
		if err != nil {
			t.Fatal(err)
		}

		pr, pe := c.Compile(rec), c.Compile(explicit)
		got := matchIDs(t, db, pr.Index, pr.Filter)
		want := matchIDs(t, db, pe.Index, pe.Filter)
		if len(expanded) == 0 {
			want = nil
		}
		if !slices.Equal(got, want) {
			t.Errorf("containsRecursively %s = %v, contains %v = %v", root, got, expanded, want)
		}
	}

	// pet is implied by cat, so a cat file is a pet file.
	rec, _ := condition.NewTags(condition.ContainsRecursively, "pet")
	p := c.Compile(rec)
	if got := matchIDs(t, db, p.Index, p.Filter); !slices.Equal(got, []string{"1", "5"}) {
		t.Errorf("containsRecursively pet = %v, want [1 5]", got)
	}
}
