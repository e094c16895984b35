package kvstore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/forever-free1/TideTable/storage"
	"github.com/forever-free1/TideTable/watch"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutAndGet(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("name", "alice"))

	got, err := s.Get("name")
	require.NoError(t, err)
	require.Equal(t, "alice", got)
}

func TestStore_PutOverwrite(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("name", "alice"))
	require.NoError(t, s.Put("name", "bob"))

	got, err := s.Get("name")
	require.NoError(t, err)
	require.Equal(t, "bob", got)

	// 覆盖不产生新键
	require.EqualValues(t, 1, s.Count())
}

func TestStore_GetNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("name", "alice"))
	require.NoError(t, s.Delete("name"))

	_, err := s.Get("name")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.EqualValues(t, 0, s.Count())
}

func TestStore_DeleteNotFound(t *testing.T) {
	s := openTestStore(t)

	err := s.Delete("missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_PutAfterDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("name", "alice"))
	require.NoError(t, s.Delete("name"))
	require.NoError(t, s.Put("name", "carol"))

	got, err := s.Get("name")
	require.NoError(t, err)
	require.Equal(t, "carol", got)
	require.EqualValues(t, 1, s.Count())
}

func TestStore_Validation(t *testing.T) {
	s := openTestStore(t)

	require.ErrorIs(t, s.Put("", "v"), ErrEmptyKey)
	require.ErrorIs(t, s.Put(strings.Repeat("k", KeyCapacity+1), "v"), ErrKeyTooLong)
	require.ErrorIs(t, s.Put("k", strings.Repeat("v", ValueCapacity+1)), ErrValueTooLong)

	// 恰好等于容量是合法的
	key := strings.Repeat("k", KeyCapacity)
	value := strings.Repeat("v", ValueCapacity)
	require.NoError(t, s.Put(key, value))

	got, err := s.Get(key)
	require.NoError(t, err)
	require.Equal(t, value, got)
}

func TestStore_RejectsNulBytes(t *testing.T) {
	s := openTestStore(t)

	// 零字节是定容编码的填充符，含 NUL 的输入无法往返
	require.ErrorIs(t, s.Put("a\x00", "v"), ErrNulByte)
	require.ErrorIs(t, s.Put("k", "v\x00"), ErrNulByte)
	require.ErrorIs(t, s.Put("a\x00b", "v"), ErrNulByte)

	// "a" 和 "a\x00" 编码后是同一个键，后者绝不能覆盖前者
	require.NoError(t, s.Put("a", "first"))
	require.ErrorIs(t, s.Put("a\x00", "second"), ErrNulByte)

	got, err := s.Get("a")
	require.NoError(t, err)
	require.Equal(t, "first", got)
	require.EqualValues(t, 1, s.Count())
}

func TestStore_Range(t *testing.T) {
	s := openTestStore(t)

	for _, k := range []string{"delta", "alpha", "charlie", "bravo"} {
		require.NoError(t, s.Put(k, "v:"+k))
	}

	entries, err := s.Range("alpha", "charlie")
	require.NoError(t, err)

	// 闭区间，按键升序
	require.Len(t, entries, 3)
	require.Equal(t, "alpha", entries[0].Key)
	require.Equal(t, "bravo", entries[1].Key)
	require.Equal(t, "charlie", entries[2].Key)
	require.Equal(t, "v:bravo", entries[1].Value)
}

func TestStore_RangeEmpty(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("a", "1"))

	// 区间倒置：空结果而非错误
	entries, err := s.Range("z", "a")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestStore_Scan(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put(fmt.Sprintf("key-%02d", i), fmt.Sprintf("val-%d", i)))
	}
	require.NoError(t, s.Delete("key-05"))

	entries, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, entries, 9)

	for i := 1; i < len(entries); i++ {
		require.Less(t, entries[i-1].Key, entries[i].Key, "扫描结果应按键升序")
	}
	for _, e := range entries {
		require.NotEqual(t, "key-05", e.Key, "已删除的键不应出现在扫描结果里")
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Put("name", "alice"))
	require.NoError(t, s.Put("city", "paris"))
	require.NoError(t, s.Delete("city"))
	require.NoError(t, s.Close())

	s2, err := Open(dir)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get("name")
	require.NoError(t, err)
	require.Equal(t, "alice", got)

	_, err = s2.Get("city")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.EqualValues(t, 1, s2.Count())
}

func TestStore_WatchEvents(t *testing.T) {
	hub := watch.NewHub()
	defer hub.Close()

	s := openTestStore(t, WithHub(hub))

	watcher := hub.Watch("", 16)
	defer hub.Unregister(watcher)

	require.NoError(t, s.Put("name", "alice"))
	require.NoError(t, s.Put("name", "bob"))
	require.NoError(t, s.Delete("name"))

	expect := func() *watch.Event {
		select {
		case ev := <-watcher.Ch:
			return ev
		case <-time.After(time.Second):
			t.Fatal("等待事件超时")
			return nil
		}
	}

	ev := expect()
	require.Equal(t, watch.EventPut, ev.Type)
	require.Equal(t, "name", ev.Key)
	require.Equal(t, "alice", ev.Value)
	require.Equal(t, "", ev.PrevValue)

	ev = expect()
	require.Equal(t, watch.EventPut, ev.Type)
	require.Equal(t, "bob", ev.Value)
	require.Equal(t, "alice", ev.PrevValue)

	ev = expect()
	require.Equal(t, watch.EventDelete, ev.Type)
	require.Equal(t, "name", ev.Key)
	require.Equal(t, "bob", ev.PrevValue)
}

func TestStore_ConcurrentReads(t *testing.T) {
	s := openTestStore(t, WithSyncWrites(false))

	for i := 0; i < 50; i++ {
		require.NoError(t, s.Put(fmt.Sprintf("key-%02d", i), "v"))
	}

	done := make(chan error, 8)
	for g := 0; g < 8; g++ {
		go func() {
			for i := 0; i < 50; i++ {
				if _, err := s.Get(fmt.Sprintf("key-%02d", i)); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for g := 0; g < 8; g++ {
		require.NoError(t, <-done)
	}
}

func TestStore_ErrorsAreDistinct(t *testing.T) {
	require.False(t, errors.Is(ErrKeyTooLong, ErrValueTooLong))
	require.False(t, errors.Is(ErrEmptyKey, storage.ErrNotFound))
}
