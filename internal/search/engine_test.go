package search

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nakama/internal/matcher"
	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/storage"
)

// fakeStore records calls and serves a fixed profile list.
type fakeStore struct {
	storage.Storage

	mu           sync.Mutex
	profiles     []*models.Profile
	err          error
	listCalls    int
	containCalls []string
}

func (f *fakeStore) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.profiles, nil
}

func (f *fakeStore) ListProfilesContaining(ctx context.Context, fields, values []string) ([]*models.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containCalls = append(f.containCalls, strings.Join(fields, ",")+"="+strings.Join(values, ","))
	if f.err != nil {
		return nil, f.err
	}
	out := []*models.Profile{}
	for _, p := range f.profiles {
		if holdsAny(p, fields, values) {
			out = append(out, p)
		}
	}
	return out, nil
}

func holdsAny(p *models.Profile, fields, values []string) bool {
	for _, field := range fields {
		var held []string
		switch field {
		case models.FieldHobby:
			held = p.Hobby
		case models.FieldHobbyKeywords:
			held = p.HobbyKeywords
		case models.FieldBirthplace:
			held = []string{p.Birthplace}
		case models.FieldBirthplaceKeywords:
			held = p.BirthplaceKeywords
		}
		for _, h := range held {
			for _, v := range values {
				if h == v {
					return true
				}
			}
		}
	}
	return false
}

func scenarioProfiles() []*models.Profile {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []*models.Profile{
		{ID: "a", Name: "A", Hobby: []string{"旅行", "読書"}, Birthplace: "大阪府", CreatedAt: t0},
		{ID: "b", Name: "B", Hobby: []string{"旅行"}, Birthplace: "東京都", CreatedAt: t0.Add(time.Minute)},
		{ID: "c", Name: "C", Hobby: []string{"料理"}, Birthplace: "京都府", CreatedAt: t0.Add(2 * time.Minute)},
	}
}

func TestEngine_Search(t *testing.T) {
	store := &fakeStore{profiles: scenarioProfiles()}
	engine := NewEngine(store, nil)

	resp, err := engine.Search(context.Background(), &models.Query{Hobby: " 旅行 ", Birthplace: "関西"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "A", resp.Users[0].Name)
	assert.Equal(t, models.MatchHobbyAndBirthplace, resp.Users[0].MatchType)
	assert.Equal(t, "旅行", *resp.Users[0].MatchedHobby)
}

func TestEngine_Search_EmptyQueryRejectedBeforeStore(t *testing.T) {
	store := &fakeStore{profiles: scenarioProfiles()}
	engine := NewEngine(store, nil)

	_, err := engine.Search(context.Background(), &models.Query{Hobby: "  ", Birthplace: ""})
	assert.ErrorIs(t, err, models.ErrEmptyQuery)
	assert.Zero(t, store.listCalls)

	_, err = engine.Search(context.Background(), nil)
	assert.ErrorIs(t, err, models.ErrEmptyQuery)
}

func TestEngine_Search_StoreFailure(t *testing.T) {
	cause := errors.New("connection refused")
	engine := NewEngine(&fakeStore{err: cause}, nil)

	resp, err := engine.Search(context.Background(), &models.Query{Hobby: "旅行"})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestEngine_Search_NoMatchesIsEmptyList(t *testing.T) {
	engine := NewEngine(&fakeStore{profiles: scenarioProfiles()}, nil)
	resp, err := engine.Search(context.Background(), &models.Query{Hobby: "スキー"})
	require.NoError(t, err)
	assert.NotNil(t, resp.Users)
	assert.Zero(t, resp.Count)
}

func TestEngine_PrefilterIgnoredForSubstringMode(t *testing.T) {
	store := &fakeStore{profiles: scenarioProfiles()}
	engine := NewEngine(store, matcher.New(), WithStorePrefilter(true))

	_, err := engine.Search(context.Background(), &models.Query{Hobby: "旅"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)
	assert.Empty(t, store.containCalls)
}

func TestEngine_PrefilterHobby(t *testing.T) {
	store := &fakeStore{profiles: scenarioProfiles()}
	engine := NewEngine(store, matcher.New(matcher.WithMode(matcher.ModeExact)), WithStorePrefilter(true))

	resp, err := engine.Search(context.Background(), &models.Query{Hobby: "旅行", Birthplace: "関西"})
	require.NoError(t, err)
	assert.Zero(t, store.listCalls)
	assert.Equal(t, []string{"hobby_keywords,hobby=旅行"}, store.containCalls)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "A", resp.Users[0].Name)
}

func TestEngine_PrefilterBirthplaceRegionTerms(t *testing.T) {
	store := &fakeStore{profiles: scenarioProfiles()}
	engine := NewEngine(store, matcher.New(matcher.WithMode(matcher.ModeExact)), WithStorePrefilter(true))

	resp, err := engine.Search(context.Background(), &models.Query{Birthplace: "関西"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, resultNames(resp))
	require.Len(t, store.containCalls, 1)
	assert.True(t, strings.HasPrefix(store.containCalls[0], "birthplace_keywords,birthplace="))
	assert.Contains(t, store.containCalls[0], "大阪府")
	assert.Contains(t, store.containCalls[0], "京都府")
}

func TestEngine_PrefilterMatchesFullScanOrderWithoutCreatedAt(t *testing.T) {
	profiles := []*models.Profile{
		{ID: "k", Name: "京都の人", Birthplace: "京都府"},
		{ID: "t", Name: "東京の人", Birthplace: "東京都"},
		{ID: "o", Name: "大阪の人", Birthplace: "大阪府"},
	}
	exact := matcher.New(matcher.WithMode(matcher.ModeExact))
	query := models.Query{Birthplace: "関西"}

	q := query
	full, err := NewEngine(&fakeStore{profiles: profiles}, exact).Search(context.Background(), &q)
	require.NoError(t, err)
	q = query
	pre, err := NewEngine(&fakeStore{profiles: profiles}, exact, WithStorePrefilter(true)).Search(context.Background(), &q)
	require.NoError(t, err)

	assert.Equal(t, []string{"京都の人", "大阪の人"}, resultNames(full))
	assert.Equal(t, resultNames(full), resultNames(pre))
}

func resultNames(resp *models.SearchResponse) []string {
	names := []string{}
	for _, u := range resp.Users {
		names = append(names, u.Name)
	}
	return names
}

func TestEngine_SearchSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.ImportDocument(ctx, "a", map[string]any{"name": "A", "hobby": []any{"旅行", "読書"}, "birthplace": "大阪府"})
	require.NoError(t, err)
	_, err = store.ImportDocument(ctx, "b", map[string]any{"name": "B", "hobby": "サッカー", "birthplace": "東京都"})
	require.NoError(t, err)

	engine := NewEngine(store, nil)
	resp, err := engine.Search(ctx, &models.Query{Hobby: "サッカー"})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "B", resp.Users[0].Name)
	assert.Equal(t, "サッカー", resp.Users[0].Hobby)
	assert.Equal(t, "b", resp.Users[0].ID)
}
