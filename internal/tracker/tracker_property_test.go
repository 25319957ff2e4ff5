package tracker

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// step is one generated record applied to a tracker.
type step struct {
	Kind    int
	Latency int64
	Text    string
}

func genStep() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.Int64Range(0, 5000),
		gen.AlphaString(),
	).Map(func(values []interface{}) step {
		return step{Kind: values[0].(int), Latency: values[1].(int64), Text: values[2].(string)}
	})
}

func applyStep(tr *Tracker, s step) {
	latency := time.Duration(s.Latency) * time.Millisecond
	switch s.Kind {
	case 0:
		tr.Start()
	case 1:
		tr.Output(strings.Repeat(s.Text, 3))
	case 2:
		tr.FirstSignal(latency)
	case 3:
		if s.Latency%2 == 0 {
			tr.Done(latency, &s.Text)
		} else {
			tr.Done(latency, nil)
		}
	case 4:
		tr.Fail(s.Text)
	}
}

func TestTrackerInvariantsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("preview never exceeds the bound", prop.ForAll(
		func(steps []step) bool {
			tr := New("p", WithMaxPreview(16))
			for _, s := range steps {
				applyStep(tr, s)
				if tr.Snapshot().PreviewLen() > 16 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genStep()),
	))

	properties.Property("first signal latency never exceeds total latency", prop.ForAll(
		func(steps []step) bool {
			tr := New("p")
			for _, s := range steps {
				applyStep(tr, s)
			}
			snap := tr.Snapshot()
			if snap.FirstSignalLatency != nil && snap.TotalLatency != nil {
				return *snap.FirstSignalLatency <= *snap.TotalLatency
			}
			return true
		},
		gen.SliceOf(genStep()),
	))

	properties.Property("terminal states are absorbing", prop.ForAll(
		func(prefix, suffix []step) bool {
			tr := New("p")
			for _, s := range prefix {
				applyStep(tr, s)
			}
			if !tr.Status().IsTerminal() {
				tr.Fail("forced")
			}
			before := tr.Snapshot()
			for _, s := range suffix {
				applyStep(tr, s)
			}
			return reflect.DeepEqual(before, tr.Snapshot())
		},
		gen.SliceOf(genStep()),
		gen.SliceOf(genStep()),
	))

	properties.Property("error detail is set only in the error state", prop.ForAll(
		func(steps []step) bool {
			tr := New("p")
			for _, s := range steps {
				applyStep(tr, s)
			}
			snap := tr.Snapshot()
			return (snap.ErrorDetail != nil) == (snap.Status == domain.ItemStatusError)
		},
		gen.SliceOf(genStep()),
	))

	properties.TestingRun(t)
}
