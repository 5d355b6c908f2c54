package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestRecordSetCookiesStripsAttributes(t *testing.T) {
	jar := NewJar(time.Minute)

	jar.RecordSetCookies("abc", []string{
		"sid=1; Path=/; HttpOnly; Secure",
		"csrf=tok; SameSite=Lax",
	})

	cookie, ok := jar.CookieHeader("abc")
	require.True(t, ok)
	assert.Equal(t, "sid=1; csrf=tok", cookie)
}

func TestRecordSetCookiesAccumulates(t *testing.T) {
	jar := NewJar(time.Minute)

	jar.RecordSetCookies("abc", []string{"sid=1"})
	jar.RecordSetCookies("abc", []string{"sid=2; Path=/"})

	cookie, ok := jar.CookieHeader("abc")
	require.True(t, ok)
	assert.Equal(t, "sid=1; sid=2", cookie)
}

func TestRecordSetCookiesSkipsEmptyValues(t *testing.T) {
	jar := NewJar(time.Minute)

	jar.RecordSetCookies("abc", []string{"", "  ; Path=/", "novalue"})

	_, ok := jar.CookieHeader("abc")
	assert.False(t, ok)
	assert.Equal(t, 1, jar.Len(), "session is still created and touched")
}

func TestSessionsAreIsolated(t *testing.T) {
	jar := NewJar(time.Minute)

	jar.RecordSetCookies("a", []string{"x=1"})
	jar.RecordSetCookies("b", []string{"y=2"})

	a, _ := jar.CookieHeader("a")
	b, _ := jar.CookieHeader("b")
	assert.Equal(t, "x=1", a)
	assert.Equal(t, "y=2", b)

	_, ok := jar.CookieHeader("c")
	assert.False(t, ok)
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	jar := NewJar(10 * time.Minute).WithClock(clock.Now)

	jar.RecordSetCookies("active", []string{"sid=1"})
	jar.RecordSetCookies("idle", []string{"sid=2"})

	clock.Advance(8 * time.Minute)
	jar.Touch("active")
	clock.Advance(8 * time.Minute)

	removed := jar.Sweep()
	assert.Equal(t, 1, removed)

	cookie, ok := jar.CookieHeader("active")
	require.True(t, ok)
	assert.Equal(t, "sid=1", cookie, "touch must not modify cookies")

	_, ok = jar.CookieHeader("idle")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	jar := NewJar(time.Minute)
	jar.RecordSetCookies("abc", []string{"sid=1"})

	assert.True(t, jar.Clear("abc"))
	assert.False(t, jar.Clear("abc"))
	assert.Equal(t, 0, jar.Len())
}

func TestConcurrentRecordsAreNotLost(t *testing.T) {
	jar := NewJar(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jar.RecordSetCookies("shared", []string{fmt.Sprintf("c%d=%d", n, n)})
			jar.Touch("shared")
		}(i)
	}
	wg.Wait()

	cookie, ok := jar.CookieHeader("shared")
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		assert.Contains(t, cookie, fmt.Sprintf("c%d=%d", i, i))
	}
}
