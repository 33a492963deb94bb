package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("panicky", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoWithCleanupRunsCleanupOnPanic(t *testing.T) {
	cleaned := make(chan struct{})
	GoWithCleanup("panicky", func() { panic("boom") }, func() { close(cleaned) })
	select {
	case <-cleaned:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not run after panic")
	}
}

func TestGoWithCleanupRunsCleanupOnReturn(t *testing.T) {
	ran := make(chan string, 2)
	GoWithCleanup("ordinary",
		func() { ran <- "fn" },
		func() { ran <- "cleanup" })

	assert.Equal(t, "fn", <-ran)
	assert.Equal(t, "cleanup", <-ran)
}
