package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/nakama/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_CRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := &models.Profile{
		Name:       "山田 太郎",
		NameRoman:  "Taro Yamada",
		Hobby:      []string{"釣り", "読書"},
		Birthplace: "大阪府",
		Department: "開発部",
	}
	if err := store.CreateProfile(ctx, p); err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Fatal("ID should be assigned")
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	got, err := store.GetProfile(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != p.Name || got.Birthplace != p.Birthplace || got.Department != p.Department {
		t.Errorf("got %+v", got)
	}
	if !reflect.DeepEqual(got.Hobby, p.Hobby) {
		t.Errorf("hobby = %#v", got.Hobby)
	}

	if err := store.DeleteProfile(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetProfile(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteProfile(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStorage_ListPreservesInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"c", "a", "b"} {
		if err := store.CreateProfile(ctx, &models.Profile{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := store.ListProfiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range list {
		names = append(names, p.Name)
	}
	if !reflect.DeepEqual(names, []string{"c", "a", "b"}) {
		t.Errorf("order = %v", names)
	}
}

func TestSQLiteStorage_ImportDocumentLooseShapes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.ImportDocument(ctx, "user-1", map[string]any{
		"name":       "佐藤",
		"hobby":      "サッカー",
		"birthplace": "京都府",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "user-1" {
		t.Errorf("id = %q", id)
	}
	got, err := store.GetProfile(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Hobby, []string{"サッカー"}) {
		t.Errorf("string hobby should be coerced to a list: %#v", got.Hobby)
	}
	if got.HobbyKeywords != nil {
		t.Errorf("absent keywords should stay nil: %#v", got.HobbyKeywords)
	}

	// Re-import replaces.
	if _, err := store.ImportDocument(ctx, "user-1", map[string]any{"name": "佐藤 花子"}); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetProfile(ctx, "user-1")
	if got.Name != "佐藤 花子" || got.Hobby != nil {
		t.Errorf("re-import should replace document: %+v", got)
	}
	n, _ := store.CountProfiles(ctx)
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}

	generated, err := store.ImportDocument(ctx, "", map[string]any{"name": "no id"})
	if err != nil {
		t.Fatal(err)
	}
	if generated == "" {
		t.Error("empty id should be generated")
	}
}

func TestSQLiteStorage_ListProfilesContaining(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _ = store.ImportDocument(ctx, "a", map[string]any{"name": "A", "hobby_keywords": []any{"旅行", "読書"}})
	_, _ = store.ImportDocument(ctx, "b", map[string]any{"name": "B", "hobby_keywords": []any{"旅行記"}})
	_, _ = store.ImportDocument(ctx, "c", map[string]any{"name": "C", "hobby_keywords": "旅行"})
	_, _ = store.ImportDocument(ctx, "d", map[string]any{"name": "D"})

	got, err := store.ListProfilesContaining(ctx, []string{models.FieldHobbyKeywords}, []string{"旅行"})
	if err != nil {
		t.Fatal(err)
	}
	if ids := profileIDs(got); !reflect.DeepEqual(ids, []string{"a", "c"}) {
		t.Errorf("ids = %v, want [a c] (exact element membership)", ids)
	}

	if _, err := store.ListProfilesContaining(ctx, []string{"name') OR 1=1 --"}, []string{"x"}); !errors.Is(err, ErrUnknownField) {
		t.Errorf("expected ErrUnknownField, got %v", err)
	}

	got, err = store.ListProfilesContaining(ctx, []string{models.FieldHobbyKeywords}, nil)
	if err != nil || len(got) != 0 {
		t.Errorf("no values: got %v, %v", got, err)
	}
}

func TestSQLiteStorage_ListProfilesContaining_anyFieldAnyValueInStoreOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _ = store.ImportDocument(ctx, "kyoto", map[string]any{"name": "京都の人", "birthplace": "京都府"})
	_, _ = store.ImportDocument(ctx, "tokyo", map[string]any{"name": "東京の人", "birthplace": "東京都"})
	_, _ = store.ImportDocument(ctx, "osaka", map[string]any{"name": "大阪の人", "birthplace_keywords": []any{"大阪府", "大阪"}})
	_, _ = store.ImportDocument(ctx, "both", map[string]any{"name": "両方", "birthplace": "大阪府", "birthplace_keywords": []any{"京都府"}})

	got, err := store.ListProfilesContaining(ctx,
		[]string{models.FieldBirthplaceKeywords, models.FieldBirthplace},
		[]string{"大阪府", "京都府"},
	)
	if err != nil {
		t.Fatal(err)
	}
	if ids := profileIDs(got); !reflect.DeepEqual(ids, []string{"kyoto", "osaka", "both"}) {
		t.Errorf("ids = %v, want [kyoto osaka both]", ids)
	}
}

func TestSQLiteStorage_ReplaceProfilesBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReplaceProfilesBySource(ctx, "file:x", []*models.Profile{{Name: "旧A"}, {Name: "旧B"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateProfile(ctx, &models.Profile{Name: "other", Source: "file:y"}); err != nil {
		t.Fatal(err)
	}

	fresh := []*models.Profile{{Name: "新A"}, {Name: "新B"}, {Name: "新C"}}
	n, err := store.ReplaceProfilesBySource(ctx, "file:x", fresh)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("replaced %d, want 2", n)
	}
	for _, p := range fresh {
		if p.ID == "" || p.Source != "file:x" {
			t.Errorf("profile not assigned: %+v", p)
		}
	}
	all, _ := store.ListProfiles(ctx)
	if names := profileNames(all); !reflect.DeepEqual(names, []string{"other", "新A", "新B", "新C"}) {
		t.Errorf("names = %v", names)
	}
}

func TestSQLiteStorage_ReplaceProfilesBySource_failedInsertKeepsOldProfiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReplaceProfilesBySource(ctx, "src", []*models.Profile{{Name: "旧A"}, {Name: "旧B"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateProfile(ctx, &models.Profile{ID: "taken", Name: "other"}); err != nil {
		t.Fatal(err)
	}

	// The second insert collides with an existing primary key.
	_, err := store.ReplaceProfilesBySource(ctx, "src", []*models.Profile{{Name: "新A"}, {ID: "taken", Name: "新B"}})
	if err == nil {
		t.Fatal("expected insert failure")
	}
	all, _ := store.ListProfiles(ctx)
	if names := profileNames(all); !reflect.DeepEqual(names, []string{"旧A", "旧B", "other"}) {
		t.Errorf("names after failed replace = %v, want [旧A 旧B other]", names)
	}
}

func profileIDs(profiles []*models.Profile) []string {
	ids := []string{}
	for _, p := range profiles {
		ids = append(ids, p.ID)
	}
	return ids
}

func profileNames(profiles []*models.Profile) []string {
	names := []string{}
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	return names
}

func TestSQLiteStorage_DeleteProfilesBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, p := range []*models.Profile{
		{Name: "one", Source: "file:x"},
		{Name: "two", Source: "file:x"},
		{Name: "three", Source: "file:y"},
	} {
		if err := store.CreateProfile(ctx, p); err != nil {
			t.Fatal(err)
		}
	}
	n, err := store.DeleteProfilesBySource(ctx, "file:x")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	count, _ := store.CountProfiles(ctx)
	if count != 1 {
		t.Errorf("remaining %d, want 1", count)
	}
}

func TestSQLiteStorage_Counts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	n, err := store.CountProfiles(ctx)
	if err != nil || n != 0 {
		t.Errorf("CountProfiles: %v, %d", err, n)
	}
	_ = store.CreateProfile(ctx, &models.Profile{Name: "x"})
	n, _ = store.CountProfiles(ctx)
	if n != 1 {
		t.Errorf("expected 1 profile, got %d", n)
	}
}
