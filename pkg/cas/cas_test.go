package cas

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"gridvault/pkg/backend"
	"gridvault/pkg/codec"
	"gridvault/pkg/meta"
	"gridvault/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memBackend 内存后端桩：统计写入/删除次数，支持篡改数据模拟损坏
type memBackend struct {
	mu      sync.Mutex
	code    types.BackendCode
	data    map[types.Location][]byte
	seq     int
	writes  int
	deletes int
}

func newMemBackend(code types.BackendCode) *memBackend {
	return &memBackend{code: code, data: make(map[types.Location][]byte)}
}

func (m *memBackend) Write(_ context.Context, data []byte) (types.Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.writes++
	loc := types.Location(fmt.Sprintf("mem-%04d", m.seq))
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[loc] = cp
	return loc, nil
}

func (m *memBackend) Read(_ context.Context, loc types.Location) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[loc]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return d, nil
}

func (m *memBackend) Delete(_ context.Context, loc types.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[loc]; !ok {
		return backend.ErrNotFound
	}
	delete(m.data, loc)
	m.deletes++
	return nil
}

func (m *memBackend) Code() types.BackendCode { return m.code }
func (m *memBackend) Close() error            { return nil }

func (m *memBackend) corrupt(loc types.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[loc] = []byte("tampered")
}

func newTestStore(t *testing.T) (*Store, *memBackend, *meta.Repository) {
	t.Helper()
	db, err := meta.NewDB(context.Background(), meta.Config{
		Driver: "sqlite",
		Path:   t.TempDir() + "/meta.db",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := meta.NewRepository(db)
	be := newMemBackend("10")
	store := New(repo, map[types.BackendCode]backend.Backend{"10": be})
	return store, be, repo
}

func TestStore_PutGet_RoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	payload := []byte("sample bytes")
	digest, err := store.Put(ctx, "10", payload)
	require.NoError(t, err)
	assert.Equal(t, codec.DigestBytes(payload), digest)

	got, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	ok, err := store.Has(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_Put_Dedup(t *testing.T) {
	store, be, _ := newTestStore(t)
	ctx := context.Background()

	payload := []byte("identical content")
	d1, err := store.Put(ctx, "10", payload)
	require.NoError(t, err)
	d2, err := store.Put(ctx, "10", payload)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Equal(t, 1, be.writes, "相同字节只允许落一份物理拷贝")
}

func TestStore_Get_NotFound(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Get(context.Background(), codec.DigestBytes([]byte("missing")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Get_CorruptData(t *testing.T) {
	store, be, repo := newTestStore(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "10", []byte("pristine"))
	require.NoError(t, err)

	rec, err := repo.GetContent(ctx, digest)
	require.NoError(t, err)
	be.corrupt(types.Location(rec.Location))

	_, err = store.Get(ctx, digest)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestStore_Get_MissingLocation(t *testing.T) {
	store, be, repo := newTestStore(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "10", []byte("will vanish"))
	require.NoError(t, err)

	rec, err := repo.GetContent(ctx, digest)
	require.NoError(t, err)
	require.NoError(t, be.Delete(ctx, types.Location(rec.Location)))

	_, err = store.Get(ctx, digest)
	assert.ErrorIs(t, err, ErrCorruptStore)
}

func TestStore_Put_UnknownBackend(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Put(context.Background(), "99", []byte("x"))
	assert.ErrorIs(t, err, ErrNoBackend)
}

func TestStore_GC_SweepsUnreferenced(t *testing.T) {
	store, be, repo := newTestStore(t)
	ctx := context.Background()

	dLive, err := store.Put(ctx, "10", []byte("live sample"))
	require.NoError(t, err)
	dDead, err := store.Put(ctx, "10", []byte("dead sample"))
	require.NoError(t, err)

	// 模拟提交完成：暂存引用移交给提交图
	store.ResetStaged()

	report, err := store.GC(ctx, map[types.Digest]struct{}{dLive: {}})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Live)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, int64(len("dead sample")), report.BytesFreed)
	assert.Equal(t, 1, be.deletes, "每个被删位置的物理删除恰好一次")

	_, err = store.Get(ctx, dDead)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := store.Get(ctx, dLive)
	require.NoError(t, err)
	assert.Equal(t, []byte("live sample"), got)

	_, err = repo.GetContent(ctx, dDead)
	assert.ErrorIs(t, err, meta.ErrContentNotFound)
}

func TestStore_GC_StagedSurvives(t *testing.T) {
	store, be, _ := newTestStore(t)
	ctx := context.Background()

	// 已 put 未 commit：不在 live 集合里，但必须活过 GC
	digest, err := store.Put(ctx, "10", []byte("staged only"))
	require.NoError(t, err)

	report, err := store.GC(ctx, map[types.Digest]struct{}{})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Deleted)
	assert.Equal(t, 0, be.deletes)
	got, err := store.Get(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, []byte("staged only"), got)
}

func TestStore_Release_DropsStagedRef(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	digest, err := store.Put(ctx, "10", []byte("transient"))
	require.NoError(t, err)
	store.Release(digest)

	// 引用释放后，摘要不再受暂存保护
	report, err := store.GC(ctx, map[types.Digest]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
}

func TestStore_GC_Idempotent(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "10", []byte("garbage"))
	require.NoError(t, err)
	store.ResetStaged()

	first, err := store.GC(ctx, map[types.Digest]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Deleted)

	second, err := store.GC(ctx, map[types.Digest]struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Equal(t, 0, second.Deleted)
}
