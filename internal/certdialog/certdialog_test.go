package certdialog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingRunner struct {
	mu       sync.Mutex
	calls    []string
	argv     [][]string
	searchID string
	failStep string
}

func (r *recordingRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name+" "+strings.Join(args, " "))
	r.argv = append(r.argv, append([]string(nil), args...))
	if args[0] == r.failStep {
		return nil, errors.New("exit status 1")
	}
	if args[0] == "search" {
		if r.searchID == "" {
			return nil, errors.New("exit status 1")
		}
		return []byte(r.searchID + "\n"), nil
	}
	return nil, nil
}

func newTestInjector(r *recordingRunner) *Xdotool {
	x := NewXdotool(zap.NewNop(), r.run)
	x.Settle = 0
	return x
}

func TestXdotool_Inject(t *testing.T) {
	t.Run("answers the dialog", func(t *testing.T) {
		r := &recordingRunner{searchID: "41943047\n41943050"}
		ok := newTestInjector(r).Inject(context.Background(), "数字证书", "secret")
		require.True(t, ok)
		assert.Equal(t, []string{
			"xdotool search --name 数字证书",
			"xdotool windowactivate --sync 41943047",
			"xdotool type --window 41943047 --delay 50 -- secret",
			"xdotool key --window 41943047 Return",
		}, r.calls)
	})

	t.Run("option-like text is typed literally", func(t *testing.T) {
		r := &recordingRunner{searchID: "7"}
		require.True(t, newTestInjector(r).Inject(context.Background(), "数字证书", "--help"))
		require.Len(t, r.argv, 4)
		typeArgs := r.argv[2]
		require.Equal(t, "type", typeArgs[0])
		n := len(typeArgs)
		assert.Equal(t, []string{"--", "--help"}, typeArgs[n-2:], "options end before the text")
	})

	t.Run("no window", func(t *testing.T) {
		r := &recordingRunner{}
		assert.False(t, newTestInjector(r).Inject(context.Background(), "数字证书", "secret"))
		assert.Len(t, r.calls, 1)
	})

	t.Run("typing fails", func(t *testing.T) {
		r := &recordingRunner{searchID: "7", failStep: "type"}
		assert.False(t, newTestInjector(r).Inject(context.Background(), "数字证书", "secret"))
		assert.Len(t, r.calls, 3, "Enter must not be sent after a failed type")
	})

	t.Run("cancelled while settling", func(t *testing.T) {
		r := &recordingRunner{searchID: "7"}
		x := newTestInjector(r)
		x.Settle = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.False(t, x.Inject(ctx, "数字证书", "secret"))
		assert.Empty(t, r.calls)
	})
}

func TestNoop(t *testing.T) {
	assert.False(t, Noop{}.Inject(context.Background(), "any", "text"))
	assert.IsType(t, Noop{}, New("none", zap.NewNop()))
}
