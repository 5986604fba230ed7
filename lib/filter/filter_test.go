package filter

import (
	"testing"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
	"github.com/fiffu/hubdeck/lib/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func at(minutesAgo int) time.Time {
	return base.Add(-time.Duration(minutesAgo) * time.Minute)
}

func fixture() models.Items {
	return models.Items{
		{ID: "1", Type: "PushEvent", Owner: "fiffu", Timestamp: at(30), Unread: true},
		{ID: "2", Type: "WatchEvent", Owner: "Golang", Timestamp: at(10), Unread: false},
		{ID: "3", Type: "PushEvent", Owner: "golang", Timestamp: at(20), Unread: true},
		{ID: "4", Type: "IssuesEvent", Owner: "fiffu", Timestamp: at(5), Unread: false},
	}
}

func itemIDs(items models.Items) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestApply_NoFiltersSortsNewestFirst(t *testing.T) {
	out := Apply(fixture(), models.Filters{})
	assert.Equal(t, []string{"4", "2", "3", "1"}, itemIDs(out))
}

func TestApply_TypeAllowList(t *testing.T) {
	out := Apply(fixture(), models.Filters{Types: []string{"PushEvent"}})
	assert.Equal(t, []string{"3", "1"}, itemIDs(out))
}

func TestApply_OwnerAllowListIgnoresCase(t *testing.T) {
	out := Apply(fixture(), models.Filters{Owners: []string{"GOLANG"}})
	assert.Equal(t, []string{"2", "3"}, itemIDs(out))
}

func TestApply_UnreadPredicate(t *testing.T) {
	unread, read := true, false
	assert.Equal(t, []string{"3", "1"}, itemIDs(Apply(fixture(), models.Filters{Unread: &unread})))
	assert.Equal(t, []string{"4", "2"}, itemIDs(Apply(fixture(), models.Filters{Unread: &read})))
}

func TestApply_ClearedAtDropsItemsAtOrBeforeWatermark(t *testing.T) {
	clearedAt := at(20)
	out := Apply(fixture(), models.Filters{ClearedAt: &clearedAt})
	assert.Equal(t, []string{"4", "2"}, itemIDs(out))
}

func TestApply_Idempotent(t *testing.T) {
	clearedAt := at(25)
	unread := true
	criteria := []models.Filters{
		{},
		{Types: []string{"PushEvent", "WatchEvent"}},
		{Owners: []string{"fiffu"}, Unread: &unread},
		{ClearedAt: &clearedAt},
	}
	for _, c := range criteria {
		once := Apply(fixture(), c)
		twice := Apply(once, c)
		assert.Equal(t, once, twice)
	}
}

func TestApply_DoesNotReorderInput(t *testing.T) {
	in := fixture()
	_ = Apply(in, models.Filters{})
	assert.Equal(t, []string{"1", "2", "3", "4"}, itemIDs(in))
}

type fakeSource map[string]state.State

func (f fakeSource) Get(id string) (state.State, bool) {
	s, ok := f[id]
	return s, ok
}

func TestSelector_ReturnsIdenticalSliceForUnchangedInputs(t *testing.T) {
	sel, err := NewSelector(8)
	require.NoError(t, err)

	src := fakeSource{"a": {SubscriptionID: "a", Items: fixture(), Version: 1}}
	first := sel.Select(src, []string{"a"}, models.Filters{})
	second := sel.Select(src, []string{"a"}, models.Filters{})

	require.NotEmpty(t, first)
	assert.Same(t, &first[0], &second[0])
}

func TestSelector_RecomputesOnVersionOrFilterChange(t *testing.T) {
	sel, err := NewSelector(8)
	require.NoError(t, err)

	src := fakeSource{"a": {SubscriptionID: "a", Items: fixture(), Version: 1}}
	first := sel.Select(src, []string{"a"}, models.Filters{})

	src["a"] = state.State{SubscriptionID: "a", Items: fixture()[:1], Version: 2}
	afterUpdate := sel.Select(src, []string{"a"}, models.Filters{})
	assert.Len(t, afterUpdate, 1)

	filtered := sel.Select(src, []string{"a"}, models.Filters{Types: []string{"WatchEvent"}})
	assert.Empty(t, filtered)
	assert.Len(t, first, 4)
}

func TestSelector_CombinesSubscriptionsWithoutDuplicates(t *testing.T) {
	sel, err := NewSelector(8)
	require.NoError(t, err)

	src := fakeSource{
		"a": {SubscriptionID: "a", Items: fixture()[:2], Version: 1},
		"b": {SubscriptionID: "b", Items: fixture()[1:], Version: 1},
	}
	out := sel.Select(src, []string{"a", "b", "missing"}, models.Filters{})

	assert.Equal(t, []string{"4", "2", "3", "1"}, itemIDs(out))
	assert.Len(t, sel.Combined(src, []string{"a", "b"}), 4)
}
