// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/browser"
	"github.com/xkilldash9x/portalq/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Portal() config.PortalConfig {
	args := m.Called()
	return args.Get(0).(config.PortalConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Automation() config.AutomationConfig {
	args := m.Called()
	return args.Get(0).(config.AutomationConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetEngineWorkers(n int) {
	m.Called(n)
}

func (m *MockConfig) SetEngineIsolateFailures(b bool) {
	m.Called(b)
}

// -- Certificate Dialog Mock --

// MockInjector mocks certdialog.Injector.
type MockInjector struct {
	mock.Mock
}

func (m *MockInjector) Inject(ctx context.Context, title, text string) bool {
	return m.Called(ctx, title, text).Bool(0)
}

// -- Extraction Mock --

// MockParser mocks download.Parser.
type MockParser struct {
	mock.Mock
}

func (m *MockParser) Parse(path string, q schemas.QueryType) ([]schemas.Record, error) {
	args := m.Called(path, q)
	var records []schemas.Record
	if r := args.Get(0); r != nil {
		records = r.([]schemas.Record)
	}
	return records, args.Error(1)
}

// -- Engine Collaborator Mocks --

// MockSession mocks the session side of engine.Session.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) EnsureReady(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSession) NewContext(ctx context.Context) (browser.BrowsingContext, error) {
	args := m.Called(ctx)
	var bc browser.BrowsingContext
	if c := args.Get(0); c != nil {
		bc = c.(browser.BrowsingContext)
	}
	return bc, args.Error(1)
}

func (m *MockSession) Login(ctx context.Context, page browser.Page) error {
	return m.Called(ctx, page).Error(0)
}

// MockFormDriver mocks engine.FormDriver.
type MockFormDriver struct {
	mock.Mock
}

func (m *MockFormDriver) Run(ctx context.Context, page browser.Page, spec schemas.QuerySpec) (browser.DownloadHandle, error) {
	args := m.Called(ctx, page, spec)
	var h browser.DownloadHandle
	if v := args.Get(0); v != nil {
		h = v.(browser.DownloadHandle)
	}
	return h, args.Error(1)
}

// MockCapturer mocks engine.Capturer.
type MockCapturer struct {
	mock.Mock
}

func (m *MockCapturer) Capture(ctx context.Context, h browser.DownloadHandle, prefix string, q schemas.QueryType) ([]schemas.Record, error) {
	args := m.Called(ctx, h, prefix, q)
	var records []schemas.Record
	if r := args.Get(0); r != nil {
		records = r.([]schemas.Record)
	}
	return records, args.Error(1)
}

// -- Worker Mocks --

// MockExecutor mocks worker.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, spec schemas.QuerySpec) ([]schemas.Record, error) {
	args := m.Called(ctx, spec)
	var records []schemas.Record
	if r := args.Get(0); r != nil {
		records = r.([]schemas.Record)
	}
	return records, args.Error(1)
}

// MockSessionCloser mocks the session handle a worker owns.
type MockSessionCloser struct {
	mock.Mock
}

func (m *MockSessionCloser) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSessionCloser) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- API Mocks --

// MockDispatcher mocks api.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, q schemas.QueryType, items []schemas.Params) ([]interface{}, error) {
	args := m.Called(ctx, q, items)
	var results []interface{}
	if r := args.Get(0); r != nil {
		results = r.([]interface{})
	}
	return results, args.Error(1)
}

func (m *MockDispatcher) SelfTest(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// -- Store Mock --

// MockJournal mocks the run journal.
type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordRun(ctx context.Context, rec schemas.RunRecord) error {
	return m.Called(ctx, rec).Error(0)
}

func (m *MockJournal) RecentRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error) {
	args := m.Called(ctx, limit)
	var runs []schemas.RunRecord
	if r := args.Get(0); r != nil {
		runs = r.([]schemas.RunRecord)
	}
	return runs, args.Error(1)
}
