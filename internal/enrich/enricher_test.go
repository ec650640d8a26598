package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/rental/internal/backend"
	"github.com/nao1215/rental/pkg/httpclient"
)

// fakeNames はIDごとに応答を返すNameLookupのフェイク。
type fakeNames struct {
	mu      sync.Mutex
	names   map[string]string
	failing map[string]int
	broken  map[string]bool
	calls   map[string]int
	tokens  []string
}

func newFakeNames() *fakeNames {
	return &fakeNames{
		names:   map[string]string{},
		failing: map[string]int{},
		broken:  map[string]bool{},
		calls:   map[string]int{},
	}
}

func (f *fakeNames) GetName(_ context.Context, id, token string) (*httpclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[id]++
	f.tokens = append(f.tokens, token)
	if f.broken[id] {
		return nil, errors.New("connection refused")
	}
	if status, ok := f.failing[id]; ok {
		return &httpclient.Response{StatusCode: status}, nil
	}
	return &httpclient.Response{StatusCode: http.StatusOK, Body: []byte(f.names[id])}, nil
}

// mapCache はNameCacheのインメモリ実装。
type mapCache struct {
	mu sync.Mutex
	m  map[string]string
}

func (c *mapCache) Get(_ context.Context, id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[id]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, id, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = name
}

func ptr(s string) *string { return &s }

func TestEnrich_ResolvesNames(t *testing.T) {
	t.Parallel()

	names := newFakeNames()
	names.names["l1"] = "Landlord One"
	names.names["t1"] = `"Tenant One"`

	e := New(names, zap.NewNop(), WithConcurrency(4))
	rooms := []backend.Room{
		{ID: "r1", Landlord: ptr("l1"), Tenant: ptr("t1"), Status: backend.RoomStatusBooked},
		{ID: "r2", Landlord: ptr("l1"), Status: backend.RoomStatusFree},
	}

	got := e.Enrich(context.Background(), rooms, "tok")

	require.Len(t, got, 2)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, "Landlord One", *got[0].Landlord)
	assert.Equal(t, "Tenant One", *got[0].Tenant)
	assert.Equal(t, "Landlord One", *got[1].Landlord)
	assert.Nil(t, got[1].Tenant, "借主のいない部屋はnilのまま")
	assert.Zero(t, names.calls[""], "借主なしで名前解決を呼ばないこと")

	for _, tok := range names.tokens {
		assert.Equal(t, "tok", tok)
	}
	assert.Equal(t, "l1", *rooms[0].Landlord, "入力スライスは変更されないこと")
}

func TestEnrich_FailuresLeaveFieldsUnresolved(t *testing.T) {
	t.Parallel()

	const n = 10
	names := newFakeNames()
	rooms := make([]backend.Room, 0, n)
	failures := 0
	for i := range n {
		id := fmt.Sprintf("l%d", i)
		names.names[id] = "Name " + id
		switch i % 3 {
		case 0:
			names.failing[id] = http.StatusNotFound
			failures++
		case 1:
			if i == 4 {
				names.broken[id] = true
				failures++
			}
		}
		rooms = append(rooms, backend.Room{ID: fmt.Sprintf("r%d", i), Landlord: ptr(id)})
	}

	got := New(names, zap.NewNop(), WithConcurrency(3)).Enrich(context.Background(), rooms, "tok")

	require.Len(t, got, n, "部屋は一件も落ちないこと")
	unresolved := 0
	for i, r := range got {
		assert.Equal(t, rooms[i].ID, r.ID, "順序が保たれること")
		if r.Landlord == nil {
			unresolved++
		}
	}
	assert.Equal(t, failures, unresolved)
}

func TestEnrich_Empty(t *testing.T) {
	t.Parallel()

	got := New(newFakeNames(), zap.NewNop()).Enrich(context.Background(), nil, "tok")
	assert.Empty(t, got)
}

func TestEnrich_Cache(t *testing.T) {
	t.Parallel()

	names := newFakeNames()
	names.names["l1"] = "Cached Landlord"
	names.failing["l2"] = http.StatusInternalServerError
	cache := &mapCache{m: map[string]string{"l3": "From Cache"}}

	e := New(names, zap.NewNop(), WithCache(cache))
	rooms := []backend.Room{
		{ID: "r1", Landlord: ptr("l1")},
		{ID: "r2", Landlord: ptr("l2")},
		{ID: "r3", Landlord: ptr("l3")},
	}

	first := e.Enrich(context.Background(), rooms, "tok")
	second := e.Enrich(context.Background(), rooms, "tok")

	assert.Equal(t, "Cached Landlord", *first[0].Landlord)
	assert.Equal(t, "Cached Landlord", *second[0].Landlord)
	assert.Equal(t, 1, names.calls["l1"], "2回目はキャッシュから解決されること")
	assert.Nil(t, second[1].Landlord)
	assert.Equal(t, 2, names.calls["l2"], "失敗した名前はキャッシュしないこと")
	assert.Equal(t, "From Cache", *first[2].Landlord)
	assert.Zero(t, names.calls["l3"])
}

func TestWithConcurrency_ClampsToOne(t *testing.T) {
	t.Parallel()

	e := New(newFakeNames(), zap.NewNop(), WithConcurrency(0))
	assert.Equal(t, 1, e.concurrency)
}

func TestRedisNameCache_Unavailable(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRedisNameCache(client, time.Minute, zap.NewNop())
	cache.Set(context.Background(), "u1", "Alice")

	_, ok := cache.Get(context.Background(), "u1")
	assert.False(t, ok, "Redisに接続できない場合はミス扱いになること")
}
