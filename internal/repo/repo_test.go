package repo

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/matrix"
	"bizmatrix/api/internal/store"
)

// failingStore reads like an empty store and refuses every write.
type failingStore struct {
	kv.Store
}

func (failingStore) Set(context.Context, string, []byte) error {
	return errors.New("quota exceeded")
}

// corruptStore returns garbage for every key.
type corruptStore struct {
	kv.Memory
}

func (*corruptStore) Get(context.Context, string) ([]byte, error) {
	return []byte("{garbage"), nil
}

// flakyStore fails the next Get of one key with a transport error.
type flakyStore struct {
	kv.Store
	key   string
	fails int
}

func (f *flakyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == f.key && f.fails > 0 {
		f.fails--
		return nil, errors.New("connection reset")
	}
	return f.Store.Get(ctx, key)
}

func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func sampleData() VersionData {
	return VersionData{
		Tasks: []matrix.Task{
			{ID: "task_1", Name: "Kế hoạch kinh doanh", IsGroupHeader: true, RowNumber: 1},
			{ID: "task_2", Levels: matrix.Levels{MC1: "A1", MC2: "A11"}, Name: "Lập ngân sách", RowNumber: 2},
		},
		CompanyAssignments: matrix.Assignments{
			"task_2": {"KD": "Q", "TC": "T,B"},
		},
		DepartmentAssignments: matrix.Assignments{
			"task_2": {"staff_1": "T"},
		},
		Markdown:    "| Code | Task |\n|---|---|\n| A11 | Lập ngân sách |\n",
		Departments: []store.Department{{Code: "KD", Name: "Kinh doanh", Priority: 1}, {Code: "TC", Name: "Tài chính", Priority: 2}},
		Staff:       []store.Staff{{ID: "staff_1", Name: "Lan", Title: "Kế toán", DepartmentCode: "TC"}},
	}
}

func newRedisKV(t *testing.T) kv.Store {
	s := miniredis.RunT(t)
	store, err := kv.NewRedis("redis://" + s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestVersionSaveThenData(t *testing.T) {
	for name, store := range map[string]kv.Store{"memory": kv.NewMemory(), "redis": newRedisKV(t)} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			versions := NewVersions(store, nil)

			index, err := versions.Save(ctx, "v1", sampleData())
			require.NoError(t, err)
			require.Len(t, index, 1)
			assert.Equal(t, "v1", index[0].Name)
			assert.True(t, strings.HasPrefix(index[0].ID, "ver_"))

			data, ok := versions.Data(ctx, index[0].ID)
			require.True(t, ok)
			assert.Equal(t, sampleData(), data)

			require.NoError(t, versions.Delete(ctx, index[0].ID))
			_, ok = versions.Data(ctx, index[0].ID)
			assert.False(t, ok)
			assert.Empty(t, versions.List(ctx))
		})
	}
}

func TestVersionIndexNewestFirst(t *testing.T) {
	ctx := context.Background()
	versions := NewVersions(kv.NewMemory(), nil)
	versions.now = steppingClock(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))

	_, err := versions.Save(ctx, "first", sampleData())
	require.NoError(t, err)
	_, err = versions.Save(ctx, "second", sampleData())
	require.NoError(t, err)
	index, err := versions.Save(ctx, "third", sampleData())
	require.NoError(t, err)

	require.Len(t, index, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{index[0].Name, index[1].Name, index[2].Name})
	assert.NotEqual(t, index[0].ID, index[1].ID)
	assert.Equal(t, index, versions.List(ctx))
}

func TestVersionIDsUniqueWithinOneMillisecond(t *testing.T) {
	ctx := context.Background()
	versions := NewVersions(kv.NewMemory(), nil)
	frozen := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	versions.now = func() time.Time { return frozen }

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		index, err := versions.Save(ctx, "same", VersionData{})
		require.NoError(t, err)
		for _, info := range index {
			seen[info.ID] = true
		}
	}
	assert.Len(t, seen, 20)
}

func TestVersionRename(t *testing.T) {
	ctx := context.Background()
	versions := NewVersions(kv.NewMemory(), nil)
	index, err := versions.Save(ctx, "draft", sampleData())
	require.NoError(t, err)
	id := index[0].ID

	require.NoError(t, versions.Rename(ctx, id, "Q4 plan"))
	info, ok := versions.Info(ctx, id)
	require.True(t, ok)
	assert.Equal(t, "Q4 plan", info.Name)

	data, ok := versions.Data(ctx, id)
	require.True(t, ok)
	assert.Equal(t, sampleData(), data)

	assert.ErrorIs(t, versions.Rename(ctx, "ver_missing", "x"), kv.ErrNotFound)
}

func TestDeleteClearsActivePointerOnly(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	versions := NewVersions(store, nil)
	active := NewActiveMatrix(store, nil)

	index, err := versions.Save(ctx, "v1", sampleData())
	require.NoError(t, err)
	id := index[0].ID
	require.NoError(t, versions.SetActiveID(ctx, id))
	require.NoError(t, active.Save(ctx, sampleData()))

	require.NoError(t, versions.Delete(ctx, id))
	assert.Equal(t, "", versions.ActiveID(ctx))

	data, ok := active.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, sampleData(), data)
}

func TestDeleteOtherVersionKeepsActivePointer(t *testing.T) {
	ctx := context.Background()
	versions := NewVersions(kv.NewMemory(), nil)
	versions.now = steppingClock(time.Now())

	first, err := versions.Save(ctx, "a", VersionData{})
	require.NoError(t, err)
	second, err := versions.Save(ctx, "b", VersionData{})
	require.NoError(t, err)

	activeID := first[0].ID
	require.NoError(t, versions.SetActiveID(ctx, activeID))
	require.NoError(t, versions.Delete(ctx, second[0].ID))
	assert.Equal(t, activeID, versions.ActiveID(ctx))

	assert.ErrorIs(t, versions.Delete(ctx, second[0].ID), kv.ErrNotFound)
}

func TestWriteFailuresSurface(t *testing.T) {
	ctx := context.Background()
	store := failingStore{Store: kv.NewMemory()}

	_, err := NewVersions(store, nil).Save(ctx, "v1", sampleData())
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Error(t, NewActiveMatrix(store, nil).Save(ctx, sampleData()))
	assert.Error(t, NewSettings(store, nil).Set(ctx, DefaultSettings()))
	assert.Error(t, NewConversations(store, nil).Save(ctx, Conversation{ID: "c1"}))
}

func TestVersionMutationsRefuseFailedIndexRead(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: kv.NewMemory(), key: keyVersionIndex}
	versions := NewVersions(store, nil)
	versions.now = steppingClock(time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC))

	for _, name := range []string{"v1", "v2", "v3"} {
		_, err := versions.Save(ctx, name, sampleData())
		require.NoError(t, err)
	}
	first := versions.List(ctx)[2]

	store.fails = 1
	_, err := versions.Save(ctx, "v4", sampleData())
	require.ErrorContains(t, err, "connection reset")
	assert.Len(t, versions.List(ctx), 3)

	store.fails = 1
	require.ErrorContains(t, versions.Rename(ctx, first.ID, "renamed"), "connection reset")
	store.fails = 1
	require.ErrorContains(t, versions.Delete(ctx, first.ID), "connection reset")

	index := versions.List(ctx)
	require.Len(t, index, 3)
	assert.Equal(t, "v1", index[2].Name)
	_, ok := versions.Data(ctx, first.ID)
	assert.True(t, ok)
}

func TestCollectionMutationsRefuseFailedRead(t *testing.T) {
	ctx := context.Background()

	convStore := &flakyStore{Store: kv.NewMemory(), key: keyConversations}
	convs := NewConversations(convStore, nil)
	require.NoError(t, convs.Save(ctx, Conversation{ID: "conv_1", Title: "Ngân sách"}))
	convStore.fails = 1
	require.Error(t, convs.Save(ctx, Conversation{ID: "conv_2", Title: "KPI"}))
	convStore.fails = 1
	require.Error(t, convs.Delete(ctx, "conv_1"))
	assert.Len(t, convs.List(ctx), 1)

	keyStore := &flakyStore{Store: kv.NewMemory(), key: keyAPIKeys}
	keys, err := NewAPIKeys(keyStore, "secret", nil)
	require.NoError(t, err)
	added, err := keys.Add(ctx, "main", "AIzaSy-first-key", 1)
	require.NoError(t, err)
	keyStore.fails = 1
	_, err = keys.Add(ctx, "backup", "AIzaSy-second-key", 2)
	require.Error(t, err)
	keyStore.fails = 1
	require.Error(t, keys.Delete(ctx, added.ID))
	listed := keys.List(ctx)
	require.Len(t, listed, 1)
	assert.Equal(t, added.ID, listed[0].ID)
}

func TestReadFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	store := &corruptStore{}

	assert.Empty(t, NewVersions(store, nil).List(ctx))
	_, ok := NewVersions(store, nil).Data(ctx, "ver_1")
	assert.False(t, ok)
	_, ok = NewActiveMatrix(store, nil).Load(ctx)
	assert.False(t, ok)
	assert.Equal(t, DefaultSettings(), NewSettings(store, nil).Get(ctx))
	assert.Empty(t, NewConversations(store, nil).List(ctx))
}

func TestActiveMatrixEmpty(t *testing.T) {
	_, ok := NewActiveMatrix(kv.NewMemory(), nil).Load(context.Background())
	assert.False(t, ok)
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	settings := NewSettings(kv.NewMemory(), nil)
	assert.Equal(t, "vi", settings.Get(ctx).Language)

	want := AppSettings{CompanyName: "An Phát", Industry: "Logistics", Language: "en", Temperature: 0.2}
	require.NoError(t, settings.Set(ctx, want))
	assert.Equal(t, want, settings.Get(ctx))
}
