package transition

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// options is a stand-in for a configuration-options value: two instances are
// considered the same input when their checksums match.
type options struct {
	flags []string
}

func checksum(o options) digest.Digest {
	return digest.FromString(strings.Join(o.flags, "\x00"))
}

type output struct {
	flags []string
	label string
}

func applyFlags(o options, label string) (*output, error) {
	return &output{flags: o.flags, label: label}, nil
}

func TestApplyReturnsSameInstance(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := New(func(o options, label string) (*output, error) {
		calls.Add(1)
		return applyFlags(o, label)
	}, checksum)

	// Structurally equal but distinct input values.
	first, err := cache.Apply(options{flags: []string{"-O2", "--strip"}}, "exec")
	require.NoError(t, err)
	second, err := cache.Apply(options{flags: []string{"-O2", "--strip"}}, "exec")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestApplyDistinguishesContexts(t *testing.T) {
	t.Parallel()

	cache := New(applyFlags, checksum)

	execOut, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)
	targetOut, err := cache.Apply(options{flags: []string{"-O2"}}, "target")
	require.NoError(t, err)

	assert.NotSame(t, execOut, targetOut)

	// Each context keeps interning independently.
	again, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)
	assert.Same(t, execOut, again)
}

func TestApplyDistinguishesInputs(t *testing.T) {
	t.Parallel()

	cache := New(applyFlags, checksum)

	out1, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)
	out2, err := cache.Apply(options{flags: []string{"-O3"}}, "exec")
	require.NoError(t, err)

	assert.NotSame(t, out1, out2)
}

func TestApplyFailureIsNotMemoized(t *testing.T) {
	t.Parallel()

	boom := errors.New("malformed input")
	var calls atomic.Int32
	cache := New(func(o options, label string) (*output, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return applyFlags(o, label)
	}, checksum)

	_, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.ErrorIs(t, err, boom)

	// The failure was not cached; the next call retries and succeeds.
	out, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestApplySingleFlightPerKey(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := New(func(o options, label string) (*output, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return applyFlags(o, label)
	}, checksum)

	const goroutines = 16
	start := make(chan struct{})
	outputs := make([]*output, goroutines)

	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
			assert.NoError(t, err)
			outputs[i] = out
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent equal applications must share one computation")
	for _, out := range outputs[1:] {
		assert.Same(t, outputs[0], out)
	}
}

func TestEntriesHaveLifetimeOfOutputs(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cache := New(func(o options, label string) (*output, error) {
		calls.Add(1)
		return applyFlags(o, label)
	}, checksum)

	out, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)

	// The entry survives collection while the output is reachable.
	runtime.GC()
	again, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
	require.NoError(t, err)
	assert.Same(t, out, again)
	assert.Equal(t, int32(1), calls.Load())

	// Once the output is unreachable the cache recomputes on demand.
	out = nil
	again = nil
	_ = again
	require.Eventually(t, func() bool {
		runtime.GC()
		fresh, err := cache.Apply(options{flags: []string{"-O2"}}, "exec")
		if err != nil || fresh == nil {
			return false
		}
		return calls.Load() == 2
	}, 5*time.Second, 10*time.Millisecond)
}
