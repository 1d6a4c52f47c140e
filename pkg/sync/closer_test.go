package sync_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	psync "serpradio/pkg/sync"
)

func TestCloser(t *testing.T) {
	closer := psync.NewCloser()

	select {
	case <-closer.Done():
		t.Fatal("closer done before Close")
	default:
	}

	closer.Close()
	closer.Close() // safe to call twice

	select {
	case <-closer.Done():
	case <-time.After(time.Second):
		t.Fatal("closer never done after Close")
	}

	require.NotPanics(t, closer.Close)
}
