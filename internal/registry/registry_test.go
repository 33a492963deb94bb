package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holdover-sh/holdover/internal/config"
	"github.com/holdover-sh/holdover/internal/protocol"
	"github.com/holdover-sh/holdover/internal/session"
)

type nullClient struct {
	id string

	mu     sync.Mutex
	closed bool
}

func (c *nullClient) ID() string            { return c.id }
func (c *nullClient) Send(data []byte) error { return nil }

func (c *nullClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func testSettings() Settings {
	return Settings{
		DefaultRestoreBudget: 64 * 1024,
		Shell:                "/bin/sh",
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(testSettings())
	t.Cleanup(r.Shutdown)
	return r
}

func attachReq(name string) *protocol.Request {
	return &protocol.Request{
		Kind:    protocol.KindAttach,
		Name:    name,
		Command: []string{"/bin/cat"},
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("work"))
	assert.NoError(t, ValidateName("feature/branch-1"))
	assert.Error(t, ValidateName(""))
	assert.Error(t, ValidateName("two words"))
	assert.Error(t, ValidateName("tab\there"))
	assert.Error(t, ValidateName("line\nbreak"))
}

func TestAttachCreatesSession(t *testing.T) {
	r := newTestRegistry(t)

	s, restore, err := r.Attach(attachReq("work"), &nullClient{id: "c1"})
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NotNil(t, restore)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "work", list[0].Name)
	assert.True(t, list[0].Attached)
}

func TestAttachExistingSessionBusy(t *testing.T) {
	r := newTestRegistry(t)

	_, _, err := r.Attach(attachReq("work"), &nullClient{id: "c1"})
	require.NoError(t, err)

	_, _, err = r.Attach(attachReq("work"), &nullClient{id: "c2"})
	assert.ErrorIs(t, err, session.ErrBusy)
	assert.Len(t, r.List(), 1, "busy attach must not spawn a second session")
}

func TestAttachReusesDetachedSession(t *testing.T) {
	r := newTestRegistry(t)

	first, _, err := r.Attach(attachReq("work"), &nullClient{id: "c1"})
	require.NoError(t, err)
	require.NoError(t, r.Detach("work"))

	second, _, err := r.Attach(attachReq("work"), &nullClient{id: "c2"})
	require.NoError(t, err)
	assert.Same(t, first, second, "reattach binds the existing session")
}

func TestConcurrentAttachSpawnsOnce(t *testing.T) {
	r := newTestRegistry(t)

	const racers = 8
	errs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := r.Attach(attachReq("contested"), &nullClient{id: fmt.Sprintf("c%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins, busy := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case assert.ErrorIs(t, err, session.ErrBusy):
			busy++
		}
	}
	assert.Equal(t, 1, wins, "exactly one racer binds the session")
	assert.Equal(t, racers-1, busy)
	assert.Len(t, r.List(), 1, "the race must spawn a single shell")
}

func TestAttachRejectsInvalidName(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Attach(attachReq("bad name"), &nullClient{id: "c1"})
	assert.Error(t, err)
	assert.Empty(t, r.List())
}

func TestDetachUnknownSession(t *testing.T) {
	r := newTestRegistry(t)
	assert.ErrorIs(t, r.Detach("ghost"), ErrNotFound)
}

func TestDetachClosesAttachedClient(t *testing.T) {
	r := newTestRegistry(t)
	client := &nullClient{id: "c1"}
	_, _, err := r.Attach(attachReq("work"), client)
	require.NoError(t, err)

	require.NoError(t, r.Detach("work"))
	client.mu.Lock()
	closed := client.closed
	client.mu.Unlock()
	assert.True(t, closed)

	list := r.List()
	require.Len(t, list, 1)
	assert.False(t, list[0].Attached, "session survives detach")
}

func TestKillRemovesSession(t *testing.T) {
	r := newTestRegistry(t)
	_, _, err := r.Attach(attachReq("doomed"), &nullClient{id: "c1"})
	require.NoError(t, err)

	require.NoError(t, r.Kill("doomed"))
	assert.Empty(t, r.List())
	assert.ErrorIs(t, r.Kill("doomed"), ErrNotFound)
}

func TestListSortedByName(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		_, _, err := r.Attach(attachReq(name), &nullClient{id: "c-" + name})
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "mid", list[1].Name)
	assert.Equal(t, "zeta", list[2].Name)
}

func TestShellExitRemovesEntry(t *testing.T) {
	r := newTestRegistry(t)
	req := attachReq("short")
	req.Command = []string{"/bin/sh", "-c", "exit 0"}
	s, _, err := r.Attach(req, &nullClient{id: "c1"})
	require.NoError(t, err)

	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("shell did not exit")
	}
	assert.Empty(t, r.List())
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{
		SessionRestore: "512KB",
		SessionTTL:     "1h",
		KeybindTimeout: "750ms",
		Shell:          "/bin/zsh",
		Keybindings: []config.Keybinding{
			{Binding: "Ctrl-Space Ctrl-q", Action: "detach"},
		},
	}

	settings, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 512*1024, settings.DefaultRestoreBudget)
	assert.Equal(t, time.Hour, settings.TTL)
	assert.Equal(t, 750*time.Millisecond, settings.KeybindTimeout)
	assert.Equal(t, "/bin/zsh", settings.Shell)
	require.Len(t, settings.Bindings, 1)
	assert.Equal(t, []byte{0x00, 0x11}, settings.Bindings[0].Sequence)
}

func TestSettingsFromConfigRejectsBadBinding(t *testing.T) {
	cfg := &config.Config{
		SessionRestore: "1MB",
		Keybindings:    []config.Keybinding{{Binding: "Ctrl-", Action: "detach"}},
	}
	_, err := SettingsFromConfig(cfg)
	assert.Error(t, err)
}
