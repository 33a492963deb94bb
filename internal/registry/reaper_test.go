package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepKillsOnlyExpiredSessions(t *testing.T) {
	settings := testSettings()
	settings.TTL = time.Minute
	r := New(settings)
	t.Cleanup(r.Shutdown)

	// "stale" is detached and past its TTL, "fresh" carries a longer
	// per-session TTL, "held" stays attached.
	for _, name := range []string{"stale", "fresh", "held"} {
		req := attachReq(name)
		if name == "fresh" {
			req.TTL = time.Hour
		}
		_, _, err := r.Attach(req, &nullClient{id: "c-" + name})
		require.NoError(t, err)
	}
	require.NoError(t, r.Detach("stale"))
	require.NoError(t, r.Detach("fresh"))

	reaper := NewReaper(r, 0)
	reaper.Sweep(time.Now())
	assert.Len(t, r.List(), 3, "nothing has expired yet")

	reaper.Sweep(time.Now().Add(2 * time.Minute))
	names := make([]string, 0, 2)
	for _, s := range r.List() {
		names = append(names, s.Name)
	}
	assert.ElementsMatch(t, []string{"fresh", "held"}, names)
}

func TestSweepIgnoresSessionsWithoutTTL(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.Attach(attachReq("forever"), &nullClient{id: "c1"})
	require.NoError(t, err)
	require.NoError(t, r.Detach("forever"))

	NewReaper(r, 0).Sweep(time.Now().Add(100 * time.Hour))
	assert.Len(t, r.List(), 1)
}

func TestNewReaperDefaultsInterval(t *testing.T) {
	r := NewReaper(newTestRegistry(t), 0)
	assert.Equal(t, DefaultReapInterval, r.interval)
}
