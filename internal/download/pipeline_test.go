package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalq/api/schemas"
	"github.com/xkilldash9x/portalq/internal/config"
	"github.com/xkilldash9x/portalq/internal/extract"
	"github.com/xkilldash9x/portalq/internal/mocks"
)

// -- Test Helpers --

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.AutomationCfg.ScratchDir = filepath.Join(t.TempDir(), "scratch")
	cfg.AutomationCfg.DownloadTimeout = time.Second
	return cfg
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no downloaded file may outlive Capture")
}

var tempName = regexp.MustCompile(`^glcx_[0-9a-f]{32}\.xlsx$`)

// -- Test Cases --

func TestCapture_RemovesFileOnSuccess(t *testing.T) {
	cfg := newTestConfig(t)
	parser := new(mocks.MockParser)
	want := []schemas.Record{{"姓名": nil}}

	var seen string
	parser.On("Parse", mock.AnythingOfType("string"), schemas.QueryPersonal).
		Run(func(args mock.Arguments) {
			seen = args.String(0)
			assert.FileExists(t, seen, "the file exists while it is parsed")
		}).
		Return(want, nil).Once()

	p := New(cfg, parser, zaptest.NewLogger(t))
	got, err := p.Capture(context.Background(), &mocks.FakeDownload{Content: []byte("PK")}, "glcx", schemas.QueryPersonal)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Regexp(t, tempName, filepath.Base(seen))
	assert.Equal(t, cfg.AutomationCfg.ScratchDir, filepath.Dir(seen))
	assert.NoFileExists(t, seen)
	assertScratchEmpty(t, cfg.AutomationCfg.ScratchDir)
	parser.AssertExpectations(t)
}

func TestCapture_RemovesFileOnExtractionFailure(t *testing.T) {
	cfg := newTestConfig(t)
	parser := new(mocks.MockParser)
	parser.On("Parse", mock.Anything, schemas.QueryPersonal).Return(nil, errors.New("zip: not a valid zip file")).Once()

	p := New(cfg, parser, zaptest.NewLogger(t))
	got, err := p.Capture(context.Background(), &mocks.FakeDownload{Content: []byte("<html>")}, "glcx", schemas.QueryPersonal)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "extract download")
	assertScratchEmpty(t, cfg.AutomationCfg.ScratchDir)
}

func TestCapture_RemovesFileOnExtractionPanic(t *testing.T) {
	cfg := newTestConfig(t)
	parser := new(mocks.MockParser)
	parser.On("Parse", mock.Anything, schemas.QueryPersonal).Run(func(mock.Arguments) {
		panic("corrupt shared strings")
	})

	p := New(cfg, parser, zaptest.NewLogger(t))
	assert.Panics(t, func() {
		_, _ = p.Capture(context.Background(), &mocks.FakeDownload{Content: []byte("PK")}, "glcx", schemas.QueryPersonal)
	})
	assertScratchEmpty(t, cfg.AutomationCfg.ScratchDir)
}

func TestCapture_Timeout(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.AutomationCfg.DownloadTimeout = 50 * time.Millisecond
	parser := new(mocks.MockParser)
	dl := &mocks.FakeDownload{Block: true}

	p := New(cfg, parser, zaptest.NewLogger(t))
	got, err := p.Capture(context.Background(), dl, "zzcx", schemas.QueryCrossStation)
	require.Error(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	var dlErr *schemas.DownloadTimeoutError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, schemas.QueryCrossStation, dlErr.QueryType)
	assert.Equal(t, 50*time.Millisecond, dlErr.Timeout)
	assert.True(t, dl.Cancelled)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
	assertScratchEmpty(t, cfg.AutomationCfg.ScratchDir)
}

func TestCapture_CallerCancellationIsNotATimeout(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, new(mocks.MockParser), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Capture(ctx, &mocks.FakeDownload{Block: true}, "glcx", schemas.QueryPersonal)
	require.Error(t, err)
	var dlErr *schemas.DownloadTimeoutError
	assert.False(t, errors.As(err, &dlErr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCapture_BrowserCanceledDownload(t *testing.T) {
	cfg := newTestConfig(t)
	p := New(cfg, new(mocks.MockParser), zaptest.NewLogger(t))

	_, err := p.Capture(context.Background(), &mocks.FakeDownload{Err: errors.New("download was canceled by the browser")}, "glcx", schemas.QueryPersonal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save download")
}

func TestCapture_WithExtractor(t *testing.T) {
	cfg := newTestConfig(t)

	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"乘客姓名", "车次", "出行日期"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"张三", "G1", "2024/03/05"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	p := New(cfg, extract.New(zaptest.NewLogger(t)), zaptest.NewLogger(t))
	records, err := p.Capture(context.Background(), &mocks.FakeDownload{Content: buf.Bytes()}, "plgjcx", schemas.QueryBatch)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0]["姓名"])
	assert.Equal(t, "张三", *records[0]["姓名"])
	assert.Equal(t, "2024-03-05", *records[0]["乘车日期"])
	assertScratchEmpty(t, cfg.AutomationCfg.ScratchDir)
}
