package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/config"
	"github.com/xkilldash9x/portalq/internal/mocks"
)

// -- Test Fixture --

type engineFixture struct {
	cfg      *mocks.MockConfig
	session  *mocks.MockSession
	driver   *mocks.MockFormDriver
	capturer *mocks.MockCapturer
	ctx      *mocks.FakeContext
	engine   *QueryEngine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		cfg:      new(mocks.MockConfig),
		session:  new(mocks.MockSession),
		driver:   new(mocks.MockFormDriver),
		capturer: new(mocks.MockCapturer),
	}
	f.cfg.On("Engine").Return(config.EngineConfig{QueryTimeout: time.Minute})

	b := &mocks.FakeBrowser{NewPage: func() *mocks.FakePage { return mocks.NewFakePage(".dashboard") }}
	bc, err := b.NewContext(context.Background(), browser.ContextPolicy{})
	require.NoError(t, err)
	f.ctx = bc.(*mocks.FakeContext)

	f.engine, err = New(f.cfg, zap.NewNop(), f.session, f.driver, f.capturer)
	require.NoError(t, err)
	return f
}

func personalSpec() schemas.QuerySpec {
	return schemas.PersonalParams{DateStart: "2024-03-01", DateEnd: "2024-03-05", IDNo: "1"}.Spec()
}

// -- Test Cases --

func TestNew_ValidatesDependencies(t *testing.T) {
	cfg := new(mocks.MockConfig)
	logger := zap.NewNop()
	session := new(mocks.MockSession)
	driver := new(mocks.MockFormDriver)
	capturer := new(mocks.MockCapturer)

	testCases := []struct {
		name    string
		build   func() (*QueryEngine, error)
		wantErr string
	}{
		{"nil config", func() (*QueryEngine, error) { return New(nil, logger, session, driver, capturer) }, "config cannot be nil"},
		{"nil logger", func() (*QueryEngine, error) { return New(cfg, nil, session, driver, capturer) }, "logger cannot be nil"},
		{"nil session", func() (*QueryEngine, error) { return New(cfg, logger, nil, driver, capturer) }, "session cannot be nil"},
		{"nil driver", func() (*QueryEngine, error) { return New(cfg, logger, session, nil, capturer) }, "form driver cannot be nil"},
		{"nil capturer", func() (*QueryEngine, error) { return New(cfg, logger, session, driver, nil) }, "capturer cannot be nil"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := tc.build()
			assert.Nil(t, e)
			assert.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestExecute_Success(t *testing.T) {
	f := newEngineFixture(t)
	spec := personalSpec()
	dl := &mocks.FakeDownload{}
	want := []schemas.Record{{"姓名": nil}}

	var order []string
	f.session.On("EnsureReady", mock.Anything).Return(nil).Run(func(mock.Arguments) { order = append(order, "ready") })
	f.session.On("NewContext", mock.Anything).Return(f.ctx, nil).Run(func(mock.Arguments) { order = append(order, "context") })
	f.session.On("Login", mock.Anything, f.ctx.Page()).Return(nil).Run(func(mock.Arguments) { order = append(order, "login") })
	f.driver.On("Run", mock.Anything, f.ctx.Page(), spec).Return(dl, nil).Run(func(args mock.Arguments) {
		order = append(order, "form")
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "queries run under the query timeout")
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
	})
	f.capturer.On("Capture", mock.Anything, dl, "glcx", schemas.QueryPersonal).Return(want, nil).Run(func(mock.Arguments) {
		order = append(order, "capture")
		assert.Zero(t, f.ctx.Closed(), "the context stays open until capture is done")
	})

	got, err := f.engine.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"ready", "context", "login", "form", "capture"}, order)
	assert.Equal(t, 1, f.ctx.Closed())
}

func TestExecute_SessionNotReady(t *testing.T) {
	f := newEngineFixture(t)
	initErr := &schemas.SessionInitError{Stage: "launch", Err: errors.New("no chrome")}
	f.session.On("EnsureReady", mock.Anything).Return(initErr)

	_, err := f.engine.Execute(context.Background(), personalSpec())
	assert.ErrorIs(t, err, initErr)
	f.session.AssertNotCalled(t, "NewContext", mock.Anything)
}

func TestExecute_LoginFailureClosesContext(t *testing.T) {
	f := newEngineFixture(t)
	f.session.On("EnsureReady", mock.Anything).Return(nil)
	f.session.On("NewContext", mock.Anything).Return(f.ctx, nil)
	f.session.On("Login", mock.Anything, mock.Anything).Return(errors.New("landmark never appeared"))

	_, err := f.engine.Execute(context.Background(), personalSpec())
	var initErr *schemas.SessionInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "login", initErr.Stage)
	assert.Equal(t, 1, f.ctx.Closed())
	f.driver.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_FormFailureClosesContext(t *testing.T) {
	f := newEngineFixture(t)
	formErr := &schemas.FormInteractionError{Selector: "#queryBtn", Action: "click", Err: errors.New("covered")}
	f.session.On("EnsureReady", mock.Anything).Return(nil)
	f.session.On("NewContext", mock.Anything).Return(f.ctx, nil)
	f.session.On("Login", mock.Anything, mock.Anything).Return(nil)
	f.driver.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, formErr)

	_, err := f.engine.Execute(context.Background(), personalSpec())
	assert.ErrorIs(t, err, formErr)
	assert.Equal(t, 1, f.ctx.Closed())
	f.capturer.AssertNotCalled(t, "Capture", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_DownloadTimeout(t *testing.T) {
	f := newEngineFixture(t)
	dlErr := &schemas.DownloadTimeoutError{QueryType: schemas.QueryPersonal, Timeout: time.Minute}
	f.session.On("EnsureReady", mock.Anything).Return(nil)
	f.session.On("NewContext", mock.Anything).Return(f.ctx, nil)
	f.session.On("Login", mock.Anything, mock.Anything).Return(nil)
	f.driver.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(&mocks.FakeDownload{}, nil)
	f.capturer.On("Capture", mock.Anything, mock.Anything, "glcx", schemas.QueryPersonal).Return([]schemas.Record{}, dlErr)

	got, err := f.engine.Execute(context.Background(), personalSpec())
	assert.ErrorIs(t, err, dlErr)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1, f.ctx.Closed())
}
