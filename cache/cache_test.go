package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type testBuildInfo struct {
	Owner string
}

func TestStoreAndRetrieve(t *testing.T) {
	c := New[testBuildInfo]()
	c.Store("some-key", testBuildInfo{Owner: "node-a"})
	info, ok := c.Lookup("some-key")
	require.True(t, ok)
	require.Equal(t, "node-a", info.Owner)

	_, ok = c.Lookup("missing")
	require.False(t, ok)
	require.Equal(t, 1, c.Len())
}

func TestStoreAndRemove(t *testing.T) {
	c := New[testBuildInfo]()
	c.Store("some-key", testBuildInfo{Owner: "node-a"})
	c.Remove("some-key")
	_, ok := c.Lookup("some-key")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestStoreIfAbsentOnlyOneWinner(t *testing.T) {
	c := New[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, stored := c.StoreIfAbsent("key", i); stored {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, winners)
}

func TestRemoveIf(t *testing.T) {
	c := New[string]()
	c.Store("key", "first")
	require.False(t, c.RemoveIf("key", func(v string) bool { return v == "second" }))
	v, _ := c.Lookup("key")
	require.Equal(t, "first", v)
	require.True(t, c.RemoveIf("key", func(v string) bool { return v == "first" }))
	require.Zero(t, c.Len())
}
