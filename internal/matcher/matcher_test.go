package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/nakama/internal/models"
	"github.com/hyperjump/nakama/internal/region"
)

func sampleProfiles() []*models.Profile {
	return []*models.Profile{
		{ID: "a", Name: "A", Hobby: []string{"旅行", "読書"}, Birthplace: "大阪府"},
		{ID: "b", Name: "B", Hobby: []string{"旅行"}, Birthplace: "東京都"},
	}
}

func names(results []models.MatchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Name
	}
	return out
}

func TestMatch_HobbyAndRegion(t *testing.T) {
	m := New()
	got := m.Match(sampleProfiles(), models.Query{Hobby: "旅行", Birthplace: "関西"})
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, models.MatchHobbyAndBirthplace, got[0].MatchType)
	require.NotNil(t, got[0].MatchedHobby)
	require.NotNil(t, got[0].MatchedBirthplace)
	assert.Equal(t, "旅行", *got[0].MatchedHobby)
	assert.Equal(t, "関西", *got[0].MatchedBirthplace)
	assert.Equal(t, []string{"旅行"}, got[0].MatchedHobbyWords)
	assert.Equal(t, []string{"大阪府"}, got[0].MatchedBirthplaceWords)
	assert.Equal(t, "旅行, 読書", got[0].Hobby)
}

func TestMatch_EmptyTermsAreVacuous(t *testing.T) {
	m := New()
	for _, p := range sampleProfiles() {
		ok, words := m.MatchesHobby(p, "")
		assert.True(t, ok)
		assert.Empty(t, words)
		ok, words = m.MatchesBirthplace(p, "")
		assert.True(t, ok)
		assert.Empty(t, words)
	}
	empty := &models.Profile{ID: "e"}
	ok, _ := m.MatchesHobby(empty, "")
	assert.True(t, ok)
}

func TestMatch_HobbyOnly(t *testing.T) {
	got := New().Match(sampleProfiles(), models.Query{Hobby: "旅行"})
	assert.Equal(t, []string{"A", "B"}, names(got))
	for _, r := range got {
		assert.Equal(t, models.MatchHobby, r.MatchType)
		assert.Nil(t, r.MatchedBirthplace)
		assert.Empty(t, r.MatchedBirthplaceWords)
	}
}

func TestMatch_BirthplaceOnly(t *testing.T) {
	got := New().Match(sampleProfiles(), models.Query{Birthplace: "東京"})
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].Name)
	assert.Equal(t, models.MatchBirthplace, got[0].MatchType)
	assert.Nil(t, got[0].MatchedHobby)
}

func TestMatch_RegionExcludesOtherRegions(t *testing.T) {
	m := New()
	ok, words := m.MatchesBirthplace(&models.Profile{Birthplace: "大阪府"}, "関西")
	assert.True(t, ok)
	assert.Equal(t, []string{"大阪府"}, words)
	ok, _ = m.MatchesBirthplace(&models.Profile{Birthplace: "東京都"}, "関西")
	assert.False(t, ok)
}

func TestMatch_SubstringInKeywordsAndRaw(t *testing.T) {
	p := &models.Profile{
		Hobby:         []string{"映画鑑賞", "旅行"},
		HobbyKeywords: []string{"映画", "洋画鑑賞"},
	}
	ok, words := New().MatchesHobby(p, "鑑賞")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"洋画鑑賞", "映画鑑賞"}, words)
}

func TestMatch_MatchedWordsDeduplicated(t *testing.T) {
	p := &models.Profile{
		ID:            "dup",
		Hobby:         []string{"旅行"},
		HobbyKeywords: []string{"旅行"},
	}
	ok, words := New().MatchesHobby(p, "旅行")
	assert.True(t, ok)
	assert.Equal(t, []string{"旅行"}, words)
}

func TestMatch_DeduplicatesProfileIdentity(t *testing.T) {
	p := &models.Profile{ID: "same", Name: "Same", Hobby: []string{"旅行"}, HobbyKeywords: []string{"旅行"}}
	other := &models.Profile{ID: "other", Name: "Other", Hobby: []string{"旅行"}}
	got := New().Match([]*models.Profile{p, other, p}, models.Query{Hobby: "旅行"})
	assert.Equal(t, []string{"Same", "Other"}, names(got))
}

func TestMatch_ProfilesWithoutIDAreNotMerged(t *testing.T) {
	a := &models.Profile{Name: "X", Hobby: []string{"旅行"}}
	b := &models.Profile{Name: "Y", Hobby: []string{"旅行"}}
	got := New().Match([]*models.Profile{a, b}, models.Query{Hobby: "旅行"})
	assert.Len(t, got, 2)
}

func TestMatch_PreservesInputOrder(t *testing.T) {
	profiles := []*models.Profile{
		{ID: "1", Name: "one", Hobby: []string{"釣り"}},
		{ID: "2", Name: "two", Hobby: []string{"ゴルフ"}},
		{ID: "3", Name: "three", Hobby: []string{"海釣り"}},
		{ID: "4", Name: "four", Hobby: []string{"釣り堀"}},
	}
	got := New().Match(profiles, models.Query{Hobby: "釣り"})
	assert.Equal(t, []string{"one", "three", "four"}, names(got))
}

func TestMatch_CaseAndWhitespaceSensitive(t *testing.T) {
	p := &models.Profile{Hobby: []string{"Soccer"}}
	ok, _ := New().MatchesHobby(p, "soccer")
	assert.False(t, ok)
	ok, _ = New().MatchesHobby(&models.Profile{Hobby: []string{"映画 鑑賞"}}, "映画鑑賞")
	assert.False(t, ok)
}

func TestMatch_AbsentFieldsCannotMatch(t *testing.T) {
	p := models.ProfileFromDocument("p", map[string]any{"name": "no fields"})
	m := New()
	ok, _ := m.MatchesHobby(p, "旅行")
	assert.False(t, ok)
	// The display default must not be matchable.
	ok, _ = m.MatchesBirthplace(p, models.DefaultBirthplace)
	assert.False(t, ok)
}

func TestMatch_StringHobbyCoerced(t *testing.T) {
	p := models.ProfileFromDocument("s", map[string]any{"name": "S", "hobby": "サッカー"})
	got := New().Match([]*models.Profile{p}, models.Query{Hobby: "サッカー"})
	require.Len(t, got, 1)
	assert.Equal(t, "サッカー", got[0].Hobby)
}

func TestMatch_EmptyInput(t *testing.T) {
	got := New().Match(nil, models.Query{Hobby: "旅行"})
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestMatch_BirthplaceKeywords(t *testing.T) {
	p := &models.Profile{ID: "k", Birthplace: "Osaka", BirthplaceKeywords: []string{"大阪府", "大阪市"}}
	ok, words := New().MatchesBirthplace(p, "大阪")
	assert.True(t, ok)
	assert.Equal(t, []string{"大阪府", "大阪市"}, words)
}

func TestMatch_ModeExact(t *testing.T) {
	m := New(WithMode(ModeExact))
	ok, _ := m.MatchesHobby(&models.Profile{Hobby: []string{"海釣り"}}, "釣り")
	assert.False(t, ok)
	ok, _ = m.MatchesHobby(&models.Profile{Hobby: []string{"釣り"}}, "釣り")
	assert.True(t, ok)
	ok, _ = m.MatchesBirthplace(&models.Profile{Birthplace: "京都府"}, "関西")
	assert.True(t, ok, "region expansion still applies in exact mode")
}

func TestMatch_Sources(t *testing.T) {
	withBoth := &models.Profile{Hobby: []string{"読書"}, HobbyKeywords: []string{"本"}}
	rawOnly := &models.Profile{Hobby: []string{"読書"}}

	tests := []struct {
		name    string
		sources Sources
		profile *models.Profile
		term    string
		want    bool
	}{
		{"all uses raw", SourcesAll, withBoth, "読書", true},
		{"all uses keywords", SourcesAll, withBoth, "本", true},
		{"keywords_first ignores raw when keywords present", SourcesKeywordsFirst, withBoth, "読書", false},
		{"keywords_first falls back to raw", SourcesKeywordsFirst, rawOnly, "読書", true},
		{"keywords only", SourcesKeywords, rawOnly, "読書", false},
		{"raw only", SourcesRaw, withBoth, "本", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := New(WithSources(tt.sources)).MatchesHobby(tt.profile, tt.term)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestMatch_WithoutRegions(t *testing.T) {
	m := New(WithRegions(nil))
	ok, _ := m.MatchesBirthplace(&models.Profile{Birthplace: "大阪府"}, "関西")
	assert.False(t, ok)
	assert.Equal(t, []string{"関西"}, m.ExpandBirthplace("関西"))
}

func TestMatch_CustomRegions(t *testing.T) {
	m := New(WithRegions(region.New(map[string][]string{"九州": {"福岡県"}})))
	ok, words := m.MatchesBirthplace(&models.Profile{Birthplace: "福岡県"}, "九州")
	assert.True(t, ok)
	assert.Equal(t, []string{"福岡県"}, words)
}

func TestParseModeAndSources(t *testing.T) {
	mode, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSubstring, mode)
	_, err = ParseMode("fuzzy")
	assert.Error(t, err)

	src, err := ParseSources("keywords_first")
	require.NoError(t, err)
	assert.Equal(t, SourcesKeywordsFirst, src)
	_, err = ParseSources("everything")
	assert.Error(t, err)
}
