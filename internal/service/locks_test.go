package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-ml/internal/domain"
)

func TestKeyLocker_Serializes(t *testing.T) {
	l := newKeyLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "anomaly:dev1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

func TestKeyLocker_IndependentKeys(t *testing.T) {
	l := newKeyLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestKeyLocker_WaitHonorsContext(t *testing.T) {
	l := newKeyLocker()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.size())

	unlock()
	unlock() // idempotent
	assert.Zero(t, l.size())
}

func TestStateTracker_Lifecycle(t *testing.T) {
	st := newStateTracker()

	_, known := st.get("k")
	assert.False(t, known)

	prev := st.begin("k", false)
	assert.Equal(t, domain.StateUntrained, prev)
	s, _ := st.get("k")
	assert.Equal(t, domain.StateTraining, s)

	st.fail("k", prev)
	s, _ = st.get("k")
	assert.Equal(t, domain.StateUntrained, s)

	st.begin("k", false)
	st.finish("k")
	s, _ = st.get("k")
	assert.Equal(t, domain.StateTrained, s)

	prev = st.begin("k", false)
	assert.Equal(t, domain.StateTrained, prev)
	s, _ = st.get("k")
	assert.Equal(t, domain.StateRetraining, s)

	st.fail("k", prev)
	s, _ = st.get("k")
	assert.Equal(t, domain.StateTrained, s)
}

func TestStateTracker_UnseenKeyWithStoredModel(t *testing.T) {
	st := newStateTracker()

	prev := st.begin("k", true)
	assert.Equal(t, domain.StateTrained, prev)
	s, _ := st.get("k")
	assert.Equal(t, domain.StateRetraining, s)
}
