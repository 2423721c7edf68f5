// Package adapters turns raw request items into typed query specs, one
// adapter per query type.
package adapters

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/portalq/api/schemas"
)

// Adapter decodes a single request item for one query type.
type Adapter interface {
	Name() string
	Type() schemas.QueryType
	Decode(item schemas.Params) (schemas.QuerySpec, error)
}

type specer interface {
	Spec() schemas.QuerySpec
}

// paramsAdapter decodes items into P and converts them with P.Spec.
type paramsAdapter[P specer] struct {
	name  string
	qType schemas.QueryType
}

func (a paramsAdapter[P]) Name() string            { return a.name }
func (a paramsAdapter[P]) Type() schemas.QueryType { return a.qType }

func (a paramsAdapter[P]) Decode(item schemas.Params) (schemas.QuerySpec, error) {
	var p P
	if err := remarshalParams(item, &p); err != nil {
		return schemas.QuerySpec{}, err
	}
	spec := p.Spec()
	var blank []string
	for _, f := range a.qType.RequiredFields() {
		if v, ok := spec.Fields[f]; ok && strings.TrimSpace(v) == "" {
			blank = append(blank, f)
		}
	}
	if len(blank) > 0 {
		return schemas.QuerySpec{}, fmt.Errorf("fields must not be blank: %s", strings.Join(blank, ", "))
	}
	if a.qType == schemas.QueryBatch && len(spec.IDList) == 0 {
		return schemas.QuerySpec{}, fmt.Errorf("id_no_list must contain at least one ID number")
	}
	return spec, nil
}

// NewPersonalAdapter decodes personal (ID number) queries.
func NewPersonalAdapter() Adapter {
	return paramsAdapter[schemas.PersonalParams]{name: "PersonalAdapter", qType: schemas.QueryPersonal}
}

// NewCrossStationAdapter decodes station-to-station queries.
func NewCrossStationAdapter() Adapter {
	return paramsAdapter[schemas.CrossStationParams]{name: "CrossStationAdapter", qType: schemas.QueryCrossStation}
}

// NewBatchAdapter decodes batch queries over an ID number list.
func NewBatchAdapter() Adapter {
	return paramsAdapter[schemas.BatchParams]{name: "BatchAdapter", qType: schemas.QueryBatch}
}

// Defaults returns one adapter per supported query type.
func Defaults() map[schemas.QueryType]Adapter {
	registry := make(map[schemas.QueryType]Adapter)
	for _, a := range []Adapter{NewPersonalAdapter(), NewCrossStationAdapter(), NewBatchAdapter()} {
		registry[a.Type()] = a
	}
	return registry
}
