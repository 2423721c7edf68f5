package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xkilldash9x/portalq/internal/config"
)

func TestBoxCenter(t *testing.T) {
	x, y, ok := boxCenter(dom.Quad{10, 20, 110, 20, 110, 60, 10, 60})
	require.True(t, ok)
	assert.Equal(t, 60.0, x)
	assert.Equal(t, 40.0, y)

	_, _, ok = boxCenter(dom.Quad{1, 2, 3})
	assert.False(t, ok, "short quad")

	_, _, ok = boxCenter(dom.Quad{5, 5, 5, 5, 5, 5, 5, 5})
	assert.False(t, ok, "collapsed box")
}

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	type ctxKey string
	const key ctxKey = "tab"

	t.Run("inherits target values", func(t *testing.T) {
		target := context.WithValue(context.Background(), key, "t1")
		ctx, cancel := combineContext(target, context.Background())
		defer cancel()
		assert.Equal(t, "t1", ctx.Value(key))
		assert.NoError(t, ctx.Err())
	})

	t.Run("cancelled by the operation", func(t *testing.T) {
		op, opCancel := context.WithCancel(context.Background())
		ctx, cancel := combineContext(context.Background(), op)
		defer cancel()
		opCancel()
		assert.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("cancelled by the target", func(t *testing.T) {
		target, targetCancel := context.WithCancel(context.Background())
		ctx, cancel := combineContext(target, context.Background())
		defer cancel()
		targetCancel()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("applies the operation deadline", func(t *testing.T) {
		op, opCancel := context.WithTimeout(context.Background(), time.Hour)
		defer opCancel()
		want, _ := op.Deadline()
		ctx, cancel := combineContext(context.Background(), op)
		defer cancel()
		got, ok := ctx.Deadline()
		require.True(t, ok)
		assert.Equal(t, want, got)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey("k"), "v"))
	cancel()
	d := detach(parent)
	assert.NoError(t, d.Err())
	assert.Nil(t, d.Done())
	assert.Equal(t, "v", d.Value(ctxKey("k")))
}

func TestExecOptions(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser()
	base := len(execOptions(cfg))

	cfg.Args = []string{"--start-maximized", "lang=zh-CN", "--", ""}
	assert.Equal(t, base+2, len(execOptions(cfg)), "blank args are dropped")
}

// stubPage fails the center click path so the fallback can be observed.
type stubPage struct {
	Page
	clickErr error
	forceErr error
	forced   int
}

func (s *stubPage) WaitPresent(ctx context.Context, _ string) error    { return ctx.Err() }
func (s *stubPage) ScrollIntoView(ctx context.Context, _ string) error { return ctx.Err() }
func (s *stubPage) ClickCenter(context.Context, string) error          { return s.clickErr }
func (s *stubPage) ForceClick(context.Context, string) error {
	s.forced++
	return s.forceErr
}

func TestClickWithFallback(t *testing.T) {
	t.Run("center click succeeds", func(t *testing.T) {
		p := &stubPage{}
		require.NoError(t, ClickWithFallback(context.Background(), p, "#queryBtn", time.Second, time.Second))
		assert.Zero(t, p.forced)
	})

	t.Run("falls back to a forced click", func(t *testing.T) {
		p := &stubPage{clickErr: errors.New("node is covered")}
		require.NoError(t, ClickWithFallback(context.Background(), p, "#queryBtn", time.Second, time.Second))
		assert.Equal(t, 1, p.forced)
	})

	t.Run("both fail", func(t *testing.T) {
		p := &stubPage{clickErr: errors.New("node is covered"), forceErr: errors.New("no element matches #queryBtn")}
		err := ClickWithFallback(context.Background(), p, "#queryBtn", time.Second, time.Second)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node is covered")
		assert.Contains(t, err.Error(), "no element matches")
	})
}

func TestSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}
