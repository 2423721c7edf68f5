package protocol

import (
	"github.com/xkilldash9x/portalq/api/schemas"
)

// WaitKind selects what a ClickStep waits for after its click.
type WaitKind int

const (
	// WaitSettle is a short fixed pause.
	WaitSettle WaitKind = iota
	// WaitMarker waits for a marker element to become visible.
	WaitMarker
	// WaitDownloadSettle is the longer pause after the download trigger.
	WaitDownloadSettle
)

// ClickStep is one click in a form's sequence.
type ClickStep struct {
	Selector string
	Wait     WaitKind
	// Marker is the selector awaited when Wait is WaitMarker.
	Marker string
	// Required steps abort the run when both click strategies fail.
	Required bool
	// Download marks the step that triggers the file download.
	Download bool
}

// Field binds a query parameter to the input it is typed into.
type Field struct {
	Param    string
	Selector string
	// Readonly inputs have the attribute removed before filling.
	Readonly bool
}

// Anchor gives a stable id to the index-th element of a class on page
// variants that render the control without one.
type Anchor struct {
	Class string
	Index int
	ID    string
}

// Form is the static description of one query page.
type Form struct {
	Anchors []Anchor
	Fields  []Field
	// Upload, when set, is the file input the batch id list is attached to.
	Upload string
	Steps  []ClickStep
}

const (
	classControl = "dhxform_control"
	classButton  = "dhxform_btn"

	selUploadInput   = "input[type=file]"
	selUploadButton  = "#upload"
	selUploadSuccess = ".upload-success"
	selQueryButton   = "#queryBtn"
	selConfirmButton = "#confirmBtn"
	selDownload      = "#download"
)

// uploadStepIndex is where the upload click goes in the batch sequence.
const uploadStepIndex = 2

func optional(sel string) ClickStep { return ClickStep{Selector: sel} }

// tail is the query, confirm and download steps every form ends with.
func tail() []ClickStep {
	return []ClickStep{
		{Selector: selQueryButton, Required: true},
		optional(selConfirmButton),
		{Selector: selDownload, Required: true, Download: true, Wait: WaitDownloadSettle},
	}
}

func buttonAnchors() []Anchor {
	return []Anchor{
		{Class: classButton, Index: 0, ID: "queryBtn"},
		{Class: classButton, Index: 1, ID: "download"},
	}
}

var forms = map[schemas.QueryType]Form{
	schemas.QueryPersonal: {
		Anchors: append([]Anchor{
			{Class: classControl, Index: 0, ID: "startDate"},
			{Class: classControl, Index: 1, ID: "endDate"},
			{Class: classControl, Index: 3, ID: "idNo"},
		}, buttonAnchors()...),
		Fields: []Field{
			{Param: "date_start", Selector: `input[name="startDate"]`, Readonly: true},
			{Param: "date_end", Selector: `input[name="endDate"]`, Readonly: true},
			{Param: "id_no", Selector: "#idNo"},
		},
		Steps: append([]ClickStep{
			optional("#idNo"),
			optional("#startDate"),
			optional("#endDate"),
		}, tail()...),
	},
	schemas.QueryCrossStation: {
		Anchors: append([]Anchor{
			{Class: classControl, Index: 0, ID: "trainDate"},
			{Class: classControl, Index: 1, ID: "boardTrainCode"},
			{Class: classControl, Index: 2, ID: "fromStation"},
			{Class: classControl, Index: 3, ID: "toStation"},
		}, buttonAnchors()...),
		Fields: []Field{
			{Param: "train_date", Selector: `input[name="trainDate"]`, Readonly: true},
			{Param: "train_code", Selector: `input[name="boardTrainCode"]`},
			{Param: "from_station", Selector: `input[name="fromStation"]`},
			{Param: "to_station", Selector: `input[name="toStation"]`},
		},
		Steps: append([]ClickStep{
			optional("#trainDate"),
			optional("#boardTrainCode"),
			optional("#fromStation"),
			optional("#toStation"),
		}, tail()...),
	},
	schemas.QueryBatch: {
		Anchors: append([]Anchor{
			{Class: classControl, Index: 0, ID: "startDate"},
			{Class: classControl, Index: 1, ID: "endDate"},
		}, buttonAnchors()...),
		Fields: []Field{
			{Param: "date_start", Selector: `input[name="startDate"]`, Readonly: true},
			{Param: "date_end", Selector: `input[name="endDate"]`, Readonly: true},
		},
		Upload: selUploadInput,
		Steps: append([]ClickStep{
			optional("#startDate"),
			optional("#endDate"),
		}, tail()...),
	},
}

// FormFor returns the form of q.
func FormFor(q schemas.QueryType) (Form, bool) {
	f, ok := forms[q]
	return f, ok
}

// Sequence returns the click steps to run, with the upload step inserted
// for forms that take a file.
func (f Form) Sequence() []ClickStep {
	steps := make([]ClickStep, 0, len(f.Steps)+1)
	steps = append(steps, f.Steps...)
	if f.Upload == "" {
		return steps
	}
	at := uploadStepIndex
	if at > len(steps) {
		at = len(steps)
	}
	upload := ClickStep{Selector: selUploadButton, Required: true, Wait: WaitMarker, Marker: selUploadSuccess}
	steps = append(steps[:at], append([]ClickStep{upload}, steps[at:]...)...)
	return steps
}
