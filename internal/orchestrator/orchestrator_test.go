package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalq/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var personalFields = schemas.QueryPersonal.RequiredFields()

func personal(id string) schemas.Params {
	return schemas.Params{"date_start": "2024-03-01", "date_end": "2024-03-05", "id_no": id}
}

func str(s string) *string { return &s }

// recordsFor returns a single record tagging the item it came from.
func recordsFor(item schemas.Params) []schemas.Record {
	return []schemas.Record{{"证件号码": str(item["id_no"].(string))}}
}

func TestRunBatch_ValidatesBeforeExecuting(t *testing.T) {
	o := New(zap.NewNop())
	var calls atomic.Int32
	handler := func(context.Context, int, schemas.Params) ([]schemas.Record, error) {
		calls.Add(1)
		return nil, nil
	}

	items := []schemas.Params{
		personal("1"),
		{"date_start": "2024-03-01"},
		personal("3"),
		{"date_start": "2024-03-01", "date_end": "2024-03-05", "id_no": nil},
	}
	results, err := o.RunBatch(context.Background(), items, personalFields, handler)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Zero(t, calls.Load(), "no item may run when any item is invalid")

	var valErr *schemas.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, map[int][]string{
		1: {"date_end", "id_no"},
		3: {"id_no"},
	}, valErr.Missing)
	assert.Contains(t, err.Error(), "item 1 is missing required fields: date_end, id_no")
	assert.True(t, schemas.IsClientError(err))
}

func TestRunBatch_EmptyBatch(t *testing.T) {
	o := New(zap.NewNop(), WithItemIsolation())
	results, err := o.RunBatch(context.Background(), []schemas.Params{}, personalFields, func(context.Context, int, schemas.Params) ([]schemas.Record, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})
	require.NoError(t, err)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRunBatch_PreservesSubmissionOrder(t *testing.T) {
	o := New(zap.NewNop())
	firstMayFinish := make(chan struct{})

	handler := func(ctx context.Context, index int, item schemas.Params) ([]schemas.Record, error) {
		if index == 0 {
			select {
			case <-firstMayFinish:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			defer close(firstMayFinish)
		}
		return recordsFor(item), nil
	}

	results, err := o.RunBatch(context.Background(), []schemas.Params{personal("A"), personal("B")}, personalFields, handler)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, recordsFor(personal("A")), results[0])
	assert.Equal(t, recordsFor(personal("B")), results[1])
}

func TestRunBatch_ItemsRunConcurrently(t *testing.T) {
	o := New(zap.NewNop())
	const n = 4
	var arrived sync.WaitGroup
	arrived.Add(n)

	handler := func(ctx context.Context, _ int, item schemas.Params) ([]schemas.Record, error) {
		arrived.Done()
		// Every item waits for all the others; a serial run would deadlock.
		arrived.Wait()
		return recordsFor(item), nil
	}

	items := []schemas.Params{personal("1"), personal("2"), personal("3"), personal("4")}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.RunBatch(context.Background(), items, personalFields, handler)
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("items did not run concurrently")
	}
}

func TestRunBatch_ConcurrencyLimit(t *testing.T) {
	o := New(zap.NewNop(), WithConcurrencyLimit(2))
	var running, peak atomic.Int32

	handler := func(_ context.Context, _ int, item schemas.Params) ([]schemas.Record, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return recordsFor(item), nil
	}

	items := []schemas.Params{personal("1"), personal("2"), personal("3"), personal("4"), personal("5")}
	results, err := o.RunBatch(context.Background(), items, personalFields, handler)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunBatch_FirstErrorFailsBatchWithoutCancellingSiblings(t *testing.T) {
	o := New(zap.NewNop())
	boom := &schemas.FormInteractionError{Selector: "#queryBtn", Action: "click", Err: errors.New("covered")}
	var siblingFinished atomic.Bool

	handler := func(ctx context.Context, index int, item schemas.Params) ([]schemas.Record, error) {
		if index == 0 {
			return nil, boom
		}
		time.Sleep(30 * time.Millisecond)
		if ctx.Err() == nil {
			siblingFinished.Store(true)
		}
		return recordsFor(item), nil
	}

	results, err := o.RunBatch(context.Background(), []schemas.Params{personal("1"), personal("2")}, personalFields, handler)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, results)
	assert.True(t, siblingFinished.Load(), "a failing item does not cancel its siblings")
}

func TestRunBatch_ItemIsolation(t *testing.T) {
	o := New(zap.NewNop(), WithItemIsolation())
	dlErr := &schemas.DownloadTimeoutError{QueryType: schemas.QueryPersonal, Timeout: time.Minute}

	handler := func(_ context.Context, index int, item schemas.Params) ([]schemas.Record, error) {
		if index == 1 {
			return []schemas.Record{}, dlErr
		}
		return recordsFor(item), nil
	}

	results, err := o.RunBatch(context.Background(), []schemas.Params{personal("1"), personal("2"), personal("3")}, personalFields, handler)
	require.NoError(t, err)
	require.Len(t, results, 3)

	first, ok := results[0].(schemas.QueryResult)
	require.True(t, ok)
	assert.Nil(t, first.Error)
	assert.Equal(t, recordsFor(personal("1")), first.Records)

	failed := results[1].(schemas.QueryResult)
	require.NotNil(t, failed.Error)
	assert.Equal(t, schemas.KindDownloadTimeout, failed.Error.Kind)
	assert.Equal(t, dlErr.Error(), failed.Error.Message)
	assert.Empty(t, failed.Records)

	assert.Nil(t, results[2].(schemas.QueryResult).Error)
}

func TestRunBatch_NilRecordsBecomeEmpty(t *testing.T) {
	o := New(zap.NewNop())
	results, err := o.RunBatch(context.Background(), []schemas.Params{personal("1")}, personalFields,
		func(context.Context, int, schemas.Params) ([]schemas.Record, error) { return nil, nil })
	require.NoError(t, err)
	assert.Equal(t, []schemas.Record{}, results[0])
}

func TestRunBatch_RecoversPanics(t *testing.T) {
	o := New(zap.NewNop(), WithItemIsolation())
	results, err := o.RunBatch(context.Background(), []schemas.Params{personal("1")}, personalFields,
		func(context.Context, int, schemas.Params) ([]schemas.Record, error) { panic("nil page") })
	require.NoError(t, err)
	res := results[0].(schemas.QueryResult)
	require.NotNil(t, res.Error)
	assert.Equal(t, schemas.KindInternal, res.Error.Kind)
	assert.Contains(t, res.Error.Message, "nil page")
}
