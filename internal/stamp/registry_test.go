package stamp

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tuple(status Status, time int64, author int) Tuple {
	return Tuple{Status: status, Time: time, Author: author, Module: 10, Path: 1}
}

func TestIntern_Idempotent(t *testing.T) {
	r := NewRegistry()

	a := r.Intern(tuple(Active, 100, 1))
	b := r.Intern(tuple(Active, 100, 1))
	c := r.Intern(tuple(Active, 100, 2))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, 2, r.Len())
}

func TestIntern_IDsIncrease(t *testing.T) {
	r := NewRegistry()

	first := r.Intern(tuple(Active, 300, 1))
	second := r.Intern(tuple(Active, 100, 1))

	assert.Less(t, first, second, "ids follow intern order, not time order")
}

func TestIntern_Concurrent(t *testing.T) {
	r := NewRegistry()
	const goroutines = 32

	ids := make([]ID, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Intern(tuple(Active, 500, 7))
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, tuple(Active, 500, 7), r.Resolve(ids[0]))
}

func TestResolve_UnknownPanics(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() { r.Resolve(42) })

	_, ok := r.Lookup(42)
	assert.False(t, ok)
}

func TestPublish(t *testing.T) {
	r := NewRegistry()
	id := r.Intern(tuple(Active, 100, 1))

	assert.False(t, r.IsPublished(id))
	r.Publish(id)
	assert.True(t, r.IsPublished(id))
	assert.False(t, r.IsPublished(999))
}

func TestPublish_BatchBecomesVisibleTogether(t *testing.T) {
	r := NewRegistry()
	var batch atomic.Pointer[[2]ID]
	stop := make(chan struct{})

	var (
		wg      sync.WaitGroup
		partial atomic.Int64
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ids := batch.Load()
				if ids == nil {
					continue
				}
				// The first stamp is flagged first by a per-id loop.
				if r.IsPublished(ids[0]) && !r.IsPublished(ids[1]) {
					partial.Add(1)
				}
			}
		}()
	}

	for i := range int64(5000) {
		ids := [2]ID{
			r.Intern(tuple(Inactive, 100+i, 1)),
			r.Intern(tuple(Active, 100+i, 1)),
		}
		batch.Store(&ids)
		r.Publish(ids[0], ids[1])
		require.True(t, r.IsPublished(ids[0]))
		require.True(t, r.IsPublished(ids[1]))
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, partial.Load())
}

func TestPublish_KeepsRestoredStamps(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Restore(3, tuple(Active, 100, 1), true))
	fresh := r.Intern(tuple(Active, 200, 1))

	r.Publish(3, fresh)
	assert.True(t, r.IsPublished(3))
	assert.True(t, r.IsPublished(fresh))
}

func TestRestore(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Restore(5, tuple(Active, 100, 1), true))
	require.NoError(t, r.Restore(5, tuple(Active, 100, 1), true), "restore is idempotent")

	assert.True(t, r.IsPublished(5))
	assert.Equal(t, ID(5), r.Intern(tuple(Active, 100, 1)))

	next := r.Intern(tuple(Active, 200, 1))
	assert.Greater(t, next, ID(5), "new ids continue after restored ones")

	err := r.Restore(6, tuple(Active, 100, 1), true)
	assert.ErrorIs(t, err, ErrStampConflict)
}

func TestAliases(t *testing.T) {
	r := NewRegistry()
	a := r.Intern(tuple(Active, 100, 1))
	b := r.Intern(tuple(Active, 101, 1))
	c := r.Intern(tuple(Active, 102, 1))
	gen := r.AliasGeneration()

	assert.Equal(t, []ID{a}, r.Aliases(a))
	assert.Equal(t, a, r.Canonical(a))

	require.NoError(t, r.AddAlias(a, b))
	require.NoError(t, r.AddAlias(b, c), "aliasing through a member joins the canonical class")

	assert.Equal(t, []ID{a, b, c}, r.Aliases(c))
	assert.Equal(t, a, r.Canonical(c))
	assert.True(t, r.Equivalent(b, c))
	assert.Greater(t, r.AliasGeneration(), gen)

	assert.Equal(t, []AliasPair{{Canonical: a, Alias: b}, {Canonical: a, Alias: c}}, r.AliasPairs())
}

func TestAddAlias_Errors(t *testing.T) {
	r := NewRegistry()
	a := r.Intern(tuple(Active, 100, 1))

	assert.ErrorIs(t, r.AddAlias(a, a), ErrSelfAlias)
	assert.ErrorIs(t, r.AddAlias(a, 77), ErrUnknownStamp)
	assert.ErrorIs(t, r.AddAlias(77, a), ErrUnknownStamp)
}

func TestAddAlias_Idempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Intern(tuple(Active, 100, 1))
	b := r.Intern(tuple(Active, 101, 1))

	require.NoError(t, r.AddAlias(a, b))
	gen := r.AliasGeneration()
	require.NoError(t, r.AddAlias(a, b))
	require.NoError(t, r.AddAlias(b, a))
	assert.Equal(t, gen, r.AliasGeneration())
}

func TestStatus(t *testing.T) {
	s, err := ParseStatus("ACTIVE")
	require.NoError(t, err)
	assert.Equal(t, Active, s)
	assert.Equal(t, "inactive", Inactive.String())

	_, err = ParseStatus("retired")
	assert.Error(t, err)
	assert.False(t, Status(0).Valid())
}

func TestTuple_Uncommitted(t *testing.T) {
	tup := tuple(Active, SentinelUncommitted, 1)
	assert.True(t, tup.Uncommitted())
	assert.Contains(t, tup.String(), "uncommitted")
	assert.False(t, tuple(Active, 1, 1).Uncommitted())
}
