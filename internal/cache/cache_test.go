package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyIsStableAcrossParamOrder(t *testing.T) {
	a := Key("prometheus", map[string]string{"query": "up", "namespace": "default"})
	b := Key("prometheus", map[string]string{"namespace": "default", "query": "up"})
	require.Equal(t, a, b)
}

func TestKeySeparatesTools(t *testing.T) {
	params := map[string]string{"query": "up"}
	require.NotEqual(t, Key("prometheus", params), Key("loki", params))
}

func TestMemoryCacheComputesOnce(t *testing.T) {
	c := NewMemoryCache()

	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte("value"), nil
	}

	for i := 0; i < 3; i++ {
		out, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
		require.NoError(t, err)
		require.Equal(t, []byte("value"), out)
	}
	require.Equal(t, 1, calls)
}

func TestMemoryCacheExpires(t *testing.T) {
	c := NewMemoryCache()
	current := time.Now()
	c.now = func() time.Time { return current }

	calls := 0
	compute := func() ([]byte, error) {
		calls++
		return []byte("value"), nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	_, err = c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestMemoryCacheDoesNotCacheErrors(t *testing.T) {
	c := NewMemoryCache()

	calls := 0
	compute := func() ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("backend down")
		}
		return []byte("value"), nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.Error(t, err)

	out, err := c.GetOrCompute(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	require.Equal(t, []byte("value"), out)
	require.Equal(t, 2, calls)
}

func TestNoopAlwaysComputes(t *testing.T) {
	c := Noop{}

	calls := 0
	for i := 0; i < 2; i++ {
		_, err := c.GetOrCompute(context.Background(), "k", time.Minute, func() ([]byte, error) {
			calls++
			return []byte("v"), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 2, calls)
}
