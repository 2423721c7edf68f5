package browser_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/certdialog"
	"github.com/xkilldash9x/portalq/internal/config"
	"github.com/xkilldash9x/portalq/internal/mocks"
)

const landmark = ".dashboard"

// -- Test Fixture --

type sessionFixture struct {
	cfg      *config.Config
	launcher *mocks.FakeLauncher
	pages    []*mocks.FakePage
	mu       sync.Mutex
	// preparePage customizes every page the fake browser hands out.
	preparePage func(*mocks.FakePage)
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.PortalCfg.Password = "111111"
	cfg.AutomationCfg.ScratchDir = t.TempDir()
	cfg.AutomationCfg.NavigationTimeout = time.Second
	cfg.AutomationCfg.LoginTimeout = 2 * time.Second
	cfg.AutomationCfg.ProbeTimeout = 50 * time.Millisecond
	cfg.AutomationCfg.StepTimeout = 100 * time.Millisecond
	cfg.AutomationCfg.ForceClickTimeout = 100 * time.Millisecond

	f := &sessionFixture{cfg: cfg}
	f.launcher = &mocks.FakeLauncher{
		NewBrowser: func() *mocks.FakeBrowser {
			return &mocks.FakeBrowser{NewPage: f.newPage}
		},
	}
	return f
}

func (f *sessionFixture) newPage() *mocks.FakePage {
	p := mocks.NewFakePage(landmark)
	p.PageTitle = "综合查询"
	if f.preparePage != nil {
		f.preparePage(p)
	}
	f.mu.Lock()
	f.pages = append(f.pages, p)
	f.mu.Unlock()
	return p
}

func (f *sessionFixture) session(t *testing.T, injector certdialog.Injector) *browser.Session {
	return browser.NewSession("worker-1", f.cfg, f.launcher, injector, zaptest.NewLogger(t))
}

func (f *sessionFixture) loginNavigations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.pages {
		n += len(p.CallsWithPrefix("navigate " + f.cfg.PortalCfg.LoginURL()))
	}
	return n
}

// -- Test Cases --

func TestSession_EnsureReady_ConcurrentCallersShareOneInit(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newSessionFixture(t)
	f.launcher.Delay = 50 * time.Millisecond
	s := f.session(t, nil)

	const callers = 16
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.EnsureReady(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, browser.StateReady, s.State())
	assert.Equal(t, 1, f.launcher.Launches(), "exactly one launch")
	assert.Equal(t, 1, f.loginNavigations(), "exactly one login")

	contexts := f.launcher.Browsers[0].AllContexts()
	require.Len(t, contexts, 1)
	assert.Equal(t, 1, contexts[0].Closed(), "probe context is disposed")

	require.NoError(t, s.Close(context.Background()))
}

func TestSession_EnsureReady_LaunchFailureDegrades(t *testing.T) {
	f := newSessionFixture(t)
	f.launcher.Err = mocks.ErrLaunch
	s := f.session(t, nil)

	err := s.EnsureReady(context.Background())
	require.Error(t, err)

	var initErr *schemas.SessionInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "launch", initErr.Stage)
	assert.ErrorIs(t, err, mocks.ErrLaunch)
	assert.Equal(t, browser.StateDegraded, s.State())
	assert.Equal(t, err, s.LastError())

	// Degraded sessions recover on the next call.
	f.launcher.Err = nil
	require.NoError(t, s.EnsureReady(context.Background()))
	assert.Equal(t, browser.StateReady, s.State())
	assert.Equal(t, 2, f.launcher.Launches())
	assert.NoError(t, s.LastError())
}

func TestSession_EnsureReady_LoginFailureClosesBrowser(t *testing.T) {
	f := newSessionFixture(t)
	f.cfg.AutomationCfg.LoginTimeout = 200 * time.Millisecond
	f.preparePage = func(p *mocks.FakePage) { p.SetVisible(landmark, false) }
	s := f.session(t, nil)

	err := s.EnsureReady(context.Background())
	var initErr *schemas.SessionInitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "login", initErr.Stage)
	assert.Contains(t, err.Error(), "login landmark")

	b := f.launcher.Browsers[0]
	assert.Equal(t, 1, b.Closed(), "a browser launched for a failed init is closed")
	assert.Equal(t, 1, b.AllContexts()[0].Closed())
	assert.Equal(t, browser.StateDegraded, s.State())
}

func TestSession_Login(t *testing.T) {
	t.Run("submits the password form", func(t *testing.T) {
		f := newSessionFixture(t)
		s := f.session(t, nil)
		page := f.newPage()

		require.NoError(t, s.Login(context.Background(), page))
		calls := page.Recorded()
		assert.Equal(t, "navigate "+f.cfg.PortalCfg.LoginURL(), calls[0])
		assert.Contains(t, calls, `fill input[type="password"] 111111`)
		assert.Contains(t, calls, "click #loginBtn")
		assert.Equal(t, "waitvisible "+landmark, calls[len(calls)-1])
	})

	t.Run("already logged in", func(t *testing.T) {
		f := newSessionFixture(t)
		s := f.session(t, nil)
		page := f.newPage()
		page.SetVisible("#loginBtn", false)

		require.NoError(t, s.Login(context.Background(), page))
		assert.Empty(t, page.CallsWithPrefix("fill"))
		assert.Empty(t, page.CallsWithPrefix("click"))
	})

	t.Run("passes the certificate interstitial", func(t *testing.T) {
		f := newSessionFixture(t)
		injector := new(mocks.MockInjector)
		injector.On("Inject", mock.Anything, f.cfg.PortalCfg.CertWindowTitle, "111111").Return(true).Once()
		s := f.session(t, injector)
		page := f.newPage()
		page.SetVisible("#details-button", true)

		require.NoError(t, s.Login(context.Background(), page))
		clicks := page.CallsWithPrefix("click")
		require.GreaterOrEqual(t, len(clicks), 2)
		assert.Equal(t, []string{"click #details-button", "click #proceed-link"}, clicks[:2])
		injector.AssertExpectations(t)
	})

	t.Run("navigation failure without any prompt", func(t *testing.T) {
		f := newSessionFixture(t)
		injector := new(mocks.MockInjector)
		injector.On("Inject", mock.Anything, mock.Anything, mock.Anything).Return(false).Once()
		s := f.session(t, injector)
		page := f.newPage()
		page.Errors["navigate "+f.cfg.PortalCfg.LoginURL()] = errors.New("net::ERR_CONNECTION_REFUSED")

		err := s.Login(context.Background(), page)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open login page")
		injector.AssertExpectations(t)
	})

	t.Run("navigation failure answered by the dialog", func(t *testing.T) {
		f := newSessionFixture(t)
		injector := new(mocks.MockInjector)
		injector.On("Inject", mock.Anything, mock.Anything, mock.Anything).Return(true).Once()
		s := f.session(t, injector)
		page := f.newPage()
		page.Errors["navigate "+f.cfg.PortalCfg.LoginURL()] = context.DeadlineExceeded

		require.NoError(t, s.Login(context.Background(), page))
		injector.AssertExpectations(t)
	})
}

func TestSession_NewContext(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session(t, nil)

	_, err := s.NewContext(context.Background())
	require.Error(t, err, "contexts need a ready session")

	require.NoError(t, s.EnsureReady(context.Background()))
	bc, err := s.NewContext(context.Background())
	require.NoError(t, err)

	contexts := f.launcher.Browsers[0].AllContexts()
	policy := contexts[len(contexts)-1].Policy
	assert.True(t, policy.AcceptDialogs)
	assert.True(t, policy.IgnoreCertErrors)
	assert.Equal(t, 1920, policy.ViewportWidth)
	require.NotEmpty(t, policy.DownloadDir)
	assert.DirExists(t, policy.DownloadDir)

	require.NoError(t, bc.Close(context.Background()))
	assert.NoDirExists(t, policy.DownloadDir, "download dir goes with its context")
	_, statErr := os.Stat(policy.DownloadDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSession_NewContext_BrowserFailureDegrades(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session(t, nil)
	require.NoError(t, s.EnsureReady(context.Background()))

	b := f.launcher.Browsers[0]
	b.ContextErr = errors.New("websocket closed")
	_, err := s.NewContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, browser.StateDegraded, s.State())
	assert.Equal(t, 1, b.Closed())

	require.NoError(t, s.EnsureReady(context.Background()))
	assert.Equal(t, 2, f.launcher.Launches())
}

func TestSession_Close(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session(t, nil)
	require.NoError(t, s.EnsureReady(context.Background()))

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "closing twice is a no-op")
	assert.Equal(t, browser.StateClosed, s.State())
	assert.Equal(t, 1, f.launcher.Browsers[0].Closed())

	assert.ErrorIs(t, s.EnsureReady(context.Background()), schemas.ErrSessionClosed)
	_, err := s.NewContext(context.Background())
	assert.ErrorIs(t, err, schemas.ErrSessionClosed)
}

func TestSession_CloseBeforeInit(t *testing.T) {
	f := newSessionFixture(t)
	s := f.session(t, nil)
	require.NoError(t, s.Close(context.Background()))
	assert.Zero(t, f.launcher.Launches())
}

func TestSession_Title(t *testing.T) {
	f := newSessionFixture(t)
	s := browser.NewSession("worker-1", f.cfg, f.launcher, nil, zap.NewNop())

	title, err := s.Title(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "综合查询", title)

	for _, c := range f.launcher.Browsers[0].AllContexts() {
		assert.Equal(t, 1, c.Closed())
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", browser.StateReady.String())
	assert.Equal(t, "degraded", browser.StateDegraded.String())
	assert.Equal(t, "state(42)", browser.State(42).String())
}
