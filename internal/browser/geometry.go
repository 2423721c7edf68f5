package browser

import (
	"github.com/chromedp/cdproto/dom"
)

// boxCenter returns the geometric center of a box model quad. A quad that
// is missing or degenerate reports false.
func boxCenter(q dom.Quad) (x, y float64, ok bool) {
	if len(q) < 8 {
		return 0, 0, false
	}
	x = (q[0] + q[2] + q[4] + q[6]) / 4
	y = (q[1] + q[3] + q[5] + q[7]) / 4
	if q[0] == q[2] && q[1] == q[5] {
		return 0, 0, false
	}
	return x, y, true
}
