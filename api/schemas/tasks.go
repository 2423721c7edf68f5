package schemas

import (
	"fmt"
	"sort"
	"strings"
)

// -- Query Schemas --

// QueryType identifies one of the portal's query forms.
type QueryType string

const (
	QueryPersonal     QueryType = "personal"
	QueryCrossStation QueryType = "cross-station"
	QueryBatch        QueryType = "batch"
)

// wireNames maps each query type to the short name the portal and the inbound
// routes use for it. The name also prefixes downloaded files.
var wireNames = map[QueryType]string{
	QueryPersonal:     "glcx",
	QueryCrossStation: "zzcx",
	QueryBatch:        "plgjcx",
}

// requiredFields is the parameter set each query type must be given.
var requiredFields = map[QueryType][]string{
	QueryPersonal:     {"date_start", "date_end", "id_no"},
	QueryCrossStation: {"train_date", "train_code", "from_station", "to_station"},
	QueryBatch:        {"date_start", "date_end", "id_no_list"},
}

// AllQueryTypes returns every supported query type in a stable order.
func AllQueryTypes() []QueryType {
	return []QueryType{QueryPersonal, QueryCrossStation, QueryBatch}
}

// WireName returns the portal-side name of the query type, e.g. "glcx".
func (q QueryType) WireName() string {
	return wireNames[q]
}

// Valid reports whether q is a known query type.
func (q QueryType) Valid() bool {
	_, ok := wireNames[q]
	return ok
}

// RequiredFields returns a copy of the parameter names q requires.
func (q QueryType) RequiredFields() []string {
	fields := requiredFields[q]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// ParseQueryType accepts either the descriptive name ("personal") or the
// portal's wire name ("glcx").
func ParseQueryType(s string) (QueryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for q, wire := range wireNames {
		if s == string(q) || s == wire {
			return q, nil
		}
	}
	known := make([]string, 0, len(wireNames))
	for q, wire := range wireNames {
		known = append(known, fmt.Sprintf("%s (%s)", q, wire))
	}
	sort.Strings(known)
	return "", fmt.Errorf("%w: %q, expected one of %s", ErrUnknownQueryType, s, strings.Join(known, ", "))
}

// Params is a caller-submitted parameter object, exactly as decoded from JSON.
type Params map[string]interface{}

// Missing returns the names in fields that are absent from p, in order.
// A present key with a null value counts as missing.
func (p Params) Missing(fields []string) []string {
	var missing []string
	for _, f := range fields {
		if v, ok := p[f]; !ok || v == nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// -- Query Parameter Definitions --

// PersonalParams defines parameters for the personal (ID number) query.
type PersonalParams struct {
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
	IDNo      string `json:"id_no"`
}

// CrossStationParams defines parameters for the station-to-station query.
type CrossStationParams struct {
	TrainDate   string `json:"train_date"`
	TrainCode   string `json:"train_code"`
	FromStation string `json:"from_station"`
	ToStation   string `json:"to_station"`
}

// BatchParams defines parameters for the batch query over many ID numbers.
type BatchParams struct {
	DateStart string   `json:"date_start"`
	DateEnd   string   `json:"date_end"`
	IDNoList  []string `json:"id_no_list"`
}

// QuerySpec is a validated query ready for the form driver. Fields is keyed by
// parameter name; IDList is only set for batch queries.
type QuerySpec struct {
	Type   QueryType
	Fields map[string]string
	IDList []string
}

// Spec converts the typed parameters into a QuerySpec.
func (p PersonalParams) Spec() QuerySpec {
	return QuerySpec{
		Type: QueryPersonal,
		Fields: map[string]string{
			"date_start": p.DateStart,
			"date_end":   p.DateEnd,
			"id_no":      p.IDNo,
		},
	}
}

// Spec converts the typed parameters into a QuerySpec.
func (p CrossStationParams) Spec() QuerySpec {
	return QuerySpec{
		Type: QueryCrossStation,
		Fields: map[string]string{
			"train_date":   p.TrainDate,
			"train_code":   p.TrainCode,
			"from_station": p.FromStation,
			"to_station":   p.ToStation,
		},
	}
}

// Spec converts the typed parameters into a QuerySpec.
func (p BatchParams) Spec() QuerySpec {
	ids := make([]string, 0, len(p.IDNoList))
	for _, id := range p.IDNoList {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return QuerySpec{
		Type: QueryBatch,
		Fields: map[string]string{
			"date_start": p.DateStart,
			"date_end":   p.DateEnd,
		},
		IDList: ids,
	}
}
