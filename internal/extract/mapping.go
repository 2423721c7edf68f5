package extract

import "github.com/xkilldash9x/portalq/api/schemas"

// Column binds one canonical field to the header spellings the portal has
// been seen to use for it.
type Column struct {
	Field   string
	Aliases []string
}

// ColumnMapping is the ordered column table for one query type. Its order
// matches the order records are encoded in.
type ColumnMapping []Column

// Fields lists the canonical field names in table order.
func (m ColumnMapping) Fields() []string {
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Field
	}
	return out
}

var (
	colName     = Column{"姓名", []string{"姓名", "乘客姓名"}}
	colIDType   = Column{"证件类型", []string{"证件类型", "证件类别"}}
	colIDNo     = Column{"证件编号", []string{"证件编号", "证件号码", "身份证号"}}
	colTripDate = Column{"乘车日期", []string{"乘车日期", "出行日期"}}
	colTripTime = Column{"乘车时间", []string{"乘车时间", "出发时间"}}
	colTrain    = Column{"车次", []string{"车次", "列车号"}}
	colFrom     = Column{"发站", []string{"发站", "出发站"}}
	colTo       = Column{"到站", []string{"到站", "到达站"}}
	colCoach    = Column{"车厢号", []string{"车厢号", "车厢"}}
	colSeatType = Column{"席别", []string{"席别", "座位类型"}}
	colSeat     = Column{"座位号", []string{"座位号", "座位"}}
	colFare     = Column{"票价", []string{"票价", "金额"}}
)

var mappings = map[schemas.QueryType]ColumnMapping{
	schemas.QueryPersonal: {
		{"业务类型", []string{"业务类型", "业务类别"}},
		colName, colIDType, colIDNo, colTripDate, colTripTime,
		colTrain, colFrom, colTo, colCoach, colSeatType, colSeat, colFare,
	},
	schemas.QueryCrossStation: {
		colName, colIDType, colIDNo, colTripDate, colTripTime,
		{"票号", []string{"票号", "票据号"}},
		colTrain, colFrom, colTo, colCoach, colSeatType, colSeat,
		{"票种", []string{"票种", "票据类型"}},
		colFare,
		{"售票处", []string{"售票处", "售票点"}},
		{"窗口", []string{"窗口", "柜台"}},
		{"操作员", []string{"操作员", "售票员"}},
		{"售票时间", []string{"售票时间", "出票时间"}},
	},
	schemas.QueryBatch: {
		colName, colIDType, colIDNo, colTripDate, colTripTime,
		colTrain, colFrom, colTo, colCoach, colSeatType, colSeat, colFare,
	},
}

// MappingFor returns the column table for q.
func MappingFor(q schemas.QueryType) (ColumnMapping, error) {
	m, ok := mappings[q]
	if !ok {
		return nil, schemas.ErrUnknownQueryType
	}
	return m, nil
}
