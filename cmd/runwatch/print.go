package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/xiaot623/gogo/runstream/internal/aggregate"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func statusText(v aggregate.ItemView) string {
	s := string(v.Status)
	switch {
	case v.Abandoned:
		return gray(s + " (abandoned)")
	case v.Status == domain.ItemStatusDone:
		return green(s)
	case v.Status == domain.ItemStatusError:
		return red(s)
	case v.Status == domain.ItemStatusRunning:
		return yellow(s)
	}
	return gray(s)
}

func runStatusText(s domain.RunStatus) string {
	switch s {
	case domain.RunStatusCompleted:
		return green(string(s))
	case domain.RunStatusFailed:
		return red(string(s))
	case domain.RunStatusCancelled:
		return yellow(string(s))
	}
	return string(s)
}

func latency(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func itemName(v aggregate.ItemView) string {
	if v.Label != "" {
		return v.Label
	}
	return v.ItemID
}

// progress prints one line whenever an item changes status, and the run
// status when it ends. It is an aggregator subscriber.
type progress struct {
	mu   sync.Mutex
	out  io.Writer
	agg  *aggregate.Aggregator
	seen map[string]domain.ItemStatus
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out, seen: make(map[string]domain.ItemStatus)}
}

// attach subscribes to agg. It is passed to the watcher so it runs before the
// stream applies its first record.
func (p *progress) attach(agg *aggregate.Aggregator) {
	p.mu.Lock()
	p.agg = agg
	p.mu.Unlock()
	agg.Subscribe(p.onChange)
}

func (p *progress) onChange(c aggregate.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Type == aggregate.ChangeRun {
		if c.RunStatus.IsTerminal() {
			fmt.Fprintf(p.out, "run %s %s\n", p.agg.RunID(), runStatusText(c.RunStatus))
		}
		return
	}

	v, ok := p.agg.Item(c.ItemID)
	if !ok || p.seen[c.ItemID] == v.Status {
		return
	}
	p.seen[c.ItemID] = v.Status

	line := fmt.Sprintf("%-8s %s", statusText(v), bold(itemName(v)))
	switch v.Status {
	case domain.ItemStatusDone:
		line += fmt.Sprintf(" first=%s total=%s", latency(v.FirstSignalLatency), latency(v.TotalLatency))
	case domain.ItemStatusError:
		if v.ErrorDetail != nil {
			line += " " + red(*v.ErrorDetail)
		}
	}
	fmt.Fprintln(p.out, line)
}

// printTable writes the final sorted view.
func printTable(out io.Writer, views []aggregate.ItemView) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tITEM\tSTATUS\tFIRST\tTOTAL\tPREVIEW")
	for i, v := range views {
		preview := oneLine(v.Preview, 60)
		if v.ErrorDetail != nil {
			preview = oneLine(*v.ErrorDetail, 60)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1, itemName(v), v.Status, latency(v.FirstSignalLatency), latency(v.TotalLatency), preview)
	}
	tw.Flush()
}
