package patch

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runstream/internal/aggregate"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/tracker"
)

const doc = "Intro {{run:a}} middle {{run:b}} tail {{run:c}}."

func TestFindMarkers(t *testing.T) {
	markers := FindMarkers(doc, nil)
	require.Len(t, markers, 3)
	assert.Equal(t, Marker{ItemID: "a", Start: 6, End: 15}, markers[0])
	for _, m := range markers {
		assert.Equal(t, "{{run:"+m.ItemID+"}}", doc[m.Start:m.End])
	}

	custom := regexp.MustCompile(`<slot id="(\w+)"/>`)
	markers = FindMarkers(`x<slot id="img1"/>y`, custom)
	require.Len(t, markers, 1)
	assert.Equal(t, "img1", markers[0].ItemID)
}

func TestApplyOutOfOrderCompletion(t *testing.T) {
	markers := FindMarkers(doc, nil)

	// Only c and a have finished, c first.
	outputs := map[string]Output{
		"c": {ItemID: "c", Status: domain.ItemStatusDone, Text: "a much longer replacement for C"},
		"a": {ItemID: "a", Status: domain.ItemStatusDone, Text: "A"},
		"b": {ItemID: "b", Status: domain.ItemStatusRunning, Text: "partial"},
	}
	ops := Plan(markers, outputs, Options{})
	require.Len(t, ops, 2)

	out, err := Apply(doc, ops)
	require.NoError(t, err)
	assert.Equal(t, "Intro A middle {{run:b}} tail a much longer replacement for C.", out)

	again, err := Apply(doc, ops)
	require.NoError(t, err)
	assert.Equal(t, out, again, "apply is idempotent on the same input")
	assert.Equal(t, "a", ops[0].ItemID, "operations are not reordered in place")
}

func TestPlanInlineProgress(t *testing.T) {
	markers := FindMarkers(doc, nil)
	outputs := map[string]Output{
		"b": {ItemID: "b", Status: domain.ItemStatusRunning, Text: "par"},
		"c": {ItemID: "c", Status: domain.ItemStatusError, Text: "boom"},
	}

	out, err := Apply(doc, Plan(markers, outputs, Options{InlineProgress: true}))
	require.NoError(t, err)
	assert.Equal(t, "Intro {{run:a}} middle par… tail {{run:c}}.", out)

	out, err = Apply(doc, Plan(markers, outputs, Options{
		InlineProgress: true,
		Placeholder:    func(o Output) string { return "[" + o.ItemID + " running]" },
	}))
	require.NoError(t, err)
	assert.Equal(t, "Intro {{run:a}} middle [b running] tail {{run:c}}.", out)
}

func TestApplyValidation(t *testing.T) {
	_, err := Apply("short", []Operation{{Start: 2, End: 10, ItemID: "x"}})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Apply("short", []Operation{{Start: 3, End: 2}})
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Apply("0123456789", []Operation{
		{Start: 0, End: 5, ItemID: "a"},
		{Start: 4, End: 8, ItemID: "b"},
	})
	assert.ErrorIs(t, err, ErrOverlap)

	out, err := Apply("0123456789", []Operation{
		{Start: 0, End: 5, Text: "A"},
		{Start: 5, End: 10, Text: "B"},
	})
	require.NoError(t, err)
	assert.Equal(t, "AB", out, "adjacent spans do not overlap")

	out, err = Apply("unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestRenderFromAggregator(t *testing.T) {
	agg := aggregate.New(t.Context(), "run_1", func(o *aggregate.Options) {
		o.TrackerOptions = []tracker.Option{tracker.WithMaxPreview(64)}
	})
	defer agg.Close()

	agg.ApplyItem("a", domain.KindStart, domain.ItemStartPayload{ItemID: "a"})
	agg.ApplyItem("a", domain.KindDelta, domain.ItemDeltaPayload{ItemID: "a", Text: "streamed"})
	agg.ApplyItem("b", domain.KindStart, domain.ItemStartPayload{ItemID: "b"})
	final := "final B"
	agg.ApplyItem("b", domain.KindDone, domain.ItemDonePayload{ItemID: "b", LatencyMs: 10, Preview: &final})

	out, err := Render(doc, nil, agg.View(), Options{
		Format: func(o Output) string { return "**" + o.Text + "**" },
	})
	require.NoError(t, err)
	assert.Equal(t, "Intro {{run:a}} middle **final B** tail {{run:c}}.", out)
}
