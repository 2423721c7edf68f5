package schemas

import (
	"bytes"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// -- Result Schemas --

// Record is one extracted spreadsheet row keyed by canonical field name.
// A nil value is a field with no data and encodes as JSON null.
type Record map[string]*string

// recordFieldOrder is the export's column order. Every query type's columns
// are a subsequence of it.
var recordFieldOrder = []string{
	"业务类型", "姓名", "证件类型", "证件编号", "乘车日期", "乘车时间", "票号",
	"车次", "发站", "到站", "车厢号", "席别", "座位号", "票种", "票价",
	"售票处", "窗口", "操作员", "售票时间",
}

var recordFieldRank = func() map[string]int {
	m := make(map[string]int, len(recordFieldOrder))
	for i, f := range recordFieldOrder {
		m[f] = i
	}
	return m
}()

// FieldRank returns the position of a canonical field in encoded records.
func FieldRank(field string) (int, bool) {
	r, ok := recordFieldRank[field]
	return r, ok
}

// MarshalJSON writes the fields in export column order. Unknown fields
// follow in name order.
func (r Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := recordFieldRank[keys[i]]
		rj, jok := recordFieldRank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})

	json := jsoniter.ConfigCompatibleWithStandardLibrary
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		v := r[k]
		if v == nil {
			buf.WriteString("null")
			continue
		}
		value, err := json.Marshal(*v)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrorDescriptor summarizes a failed query for the caller.
type ErrorDescriptor struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// QueryResult is the outcome of a single query item. Exactly one of Records
// or Error is meaningful.
type QueryResult struct {
	Records []Record         `json:"records"`
	Error   *ErrorDescriptor `json:"error,omitempty"`
}

// NewErrorResult builds a QueryResult describing err.
func NewErrorResult(err error) QueryResult {
	return QueryResult{
		Records: []Record{},
		Error:   &ErrorDescriptor{Kind: ErrorKind(err), Message: err.Error()},
	}
}

// Response codes used in the API envelope.
const (
	CodeSuccess        = 900
	CodeBadRequest     = 400
	CodeNotFound       = 404
	CodeNotAllowed     = 405
	CodeTooManyRequest = 429
	CodeInternal       = 500
)

// Envelope is the response body every endpoint returns.
type Envelope struct {
	Code    int         `json:"code"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Title   string      `json:"title,omitempty"`
}

// RunStatus is the terminal state of a journaled batch run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunRejected  RunStatus = "rejected"
)

// RunRecord is one journal entry describing a batch execution.
type RunRecord struct {
	ID          string    `json:"id"`
	QueryType   QueryType `json:"query_type"`
	ItemCount   int       `json:"item_count"`
	RecordCount int       `json:"record_count"`
	Status      RunStatus `json:"status"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
