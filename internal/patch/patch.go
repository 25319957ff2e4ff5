// Package patch splices item outputs into a host document at the marker spans
// that introduced them. Operations are applied back to front so that each
// replacement leaves the offsets of the remaining spans valid.
package patch

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/xiaot623/gogo/runstream/internal/aggregate"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

var (
	ErrOutOfRange = errors.New("operation range out of bounds")
	ErrOverlap    = errors.New("operations overlap")
)

// DefaultMarkerPattern matches {{run:<item id>}}.
var DefaultMarkerPattern = regexp.MustCompile(`\{\{run:([A-Za-z0-9_.\-]+)\}\}`)

// Marker is a span of the document reserved for one item. Offsets are byte
// offsets, End exclusive.
type Marker struct {
	ItemID string
	Start  int
	End    int
}

// Operation replaces doc[Start:End] with Text.
type Operation struct {
	Start  int
	End    int
	Text   string
	ItemID string
}

// Output is the current result of one item.
type Output struct {
	ItemID string
	Status domain.ItemStatus
	Text   string
}

// Options controls how outputs are rendered.
type Options struct {
	// InlineProgress replaces markers of running items with a placeholder.
	InlineProgress bool
	// Placeholder renders a running item. Defaults to "<text>…".
	Placeholder func(Output) string
	// Format renders a finished item. Defaults to the output text.
	Format func(Output) string
}

// FindMarkers returns every match of re in doc. The first submatch of re is
// the item id. A nil re uses DefaultMarkerPattern.
func FindMarkers(doc string, re *regexp.Regexp) []Marker {
	if re == nil {
		re = DefaultMarkerPattern
	}
	matches := re.FindAllStringSubmatchIndex(doc, -1)
	markers := make([]Marker, 0, len(matches))
	for _, m := range matches {
		if len(m) < 4 || m[2] < 0 {
			continue
		}
		markers = append(markers, Marker{ItemID: doc[m[2]:m[3]], Start: m[0], End: m[1]})
	}
	return markers
}

// Plan derives one operation per marker whose item has something to show.
// Markers of items without output are left out.
func Plan(markers []Marker, outputs map[string]Output, opts Options) []Operation {
	ops := make([]Operation, 0, len(markers))
	for _, m := range markers {
		out, ok := outputs[m.ItemID]
		if !ok {
			continue
		}
		var text string
		switch {
		case out.Status == domain.ItemStatusDone:
			text = out.Text
			if opts.Format != nil {
				text = opts.Format(out)
			}
		case out.Status == domain.ItemStatusRunning && opts.InlineProgress:
			text = out.Text + "…"
			if opts.Placeholder != nil {
				text = opts.Placeholder(out)
			}
		default:
			continue
		}
		ops = append(ops, Operation{Start: m.Start, End: m.End, Text: text, ItemID: m.ItemID})
	}
	return ops
}

// Apply returns doc with ops applied. ops is not modified.
func Apply(doc string, ops []Operation) (string, error) {
	sorted := slices.Clone(ops)
	slices.SortStableFunc(sorted, func(a, b Operation) int {
		return cmp.Compare(b.Start, a.Start)
	})

	for i, op := range sorted {
		if op.Start < 0 || op.End < op.Start || op.End > len(doc) {
			return "", fmt.Errorf("%w: item %q [%d,%d) in document of length %d", ErrOutOfRange, op.ItemID, op.Start, op.End, len(doc))
		}
		if i > 0 && op.End > sorted[i-1].Start {
			return "", fmt.Errorf("%w: item %q [%d,%d) and item %q [%d,%d)", ErrOverlap,
				op.ItemID, op.Start, op.End, sorted[i-1].ItemID, sorted[i-1].Start, sorted[i-1].End)
		}
	}

	for _, op := range sorted {
		doc = doc[:op.Start] + op.Text + doc[op.End:]
	}
	return doc, nil
}

// Outputs converts aggregator views into patch outputs keyed by item id.
func Outputs(views []aggregate.ItemView) map[string]Output {
	outputs := make(map[string]Output, len(views))
	for _, v := range views {
		outputs[v.ItemID] = Output{ItemID: v.ItemID, Status: v.Status, Text: v.Preview}
	}
	return outputs
}

// Render finds the markers in doc and replaces those whose items have output.
func Render(doc string, re *regexp.Regexp, views []aggregate.ItemView, opts Options) (string, error) {
	return Apply(doc, Plan(FindMarkers(doc, re), Outputs(views), opts))
}
