package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/afero"
)

const (
	plotFileMode = 0o644
	msPerSecond  = 1000
	fullZoomPct  = 100
)

// WriteTable writes the rendered messages as a table. A positive limit keeps
// only the first limit rows.
func (r *Result) WriteTable(w io.Writer, limit int) {
	rows := r.Events
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"#", "Time (ms)", "Position", "Message"})

	for i, row := range rows {
		tbl.AppendRow(table.Row{i + 1, strconv.FormatFloat(row.Time*msPerSecond, 'f', 3, 64), row.Position, row.Message})
	}

	tbl.AppendFooter(table.Row{"", "", "Total", fmt.Sprintf("%s of %s messages",
		humanize.Comma(int64(len(rows))), humanize.Comma(int64(len(r.Events))))})

	tbl.Render()
}

// WriteSummary writes a short report. Colour follows color.NoColor.
func (r *Result) WriteSummary(w io.Writer) error {
	name := r.Name
	if name == "" {
		name = "score"
	}

	title := color.New(color.FgGreen, color.Bold)
	if len(r.Errors) > 0 {
		title = color.New(color.FgYellow, color.Bold)
	}

	if _, err := title.Fprintf(w, "Rendered %s: %s s in %s pulses\n",
		name, humanize.Ftoa(r.Duration), humanize.Comma(int64(r.Totals.Pulses))); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	_, err := fmt.Fprintf(w, "  ticks: %s  events: %s  loops: %s  messages: %s\n",
		humanize.Comma(int64(r.Totals.Ticks)), humanize.Comma(int64(r.Totals.Events)),
		humanize.Comma(int64(r.Totals.Loops)), humanize.Comma(int64(len(r.Events))))
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	for _, msg := range r.Errors {
		if _, err := color.New(color.FgRed).Fprintf(w, "  - %s\n", msg); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	return nil
}

// WriteJSON writes the result as indented JSON.
func (r *Result) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return nil
}

// Chart returns a line chart of tempo and position over time.
func (r *Result) Chart() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Tempo and position",
			Subtitle: r.Name,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "5px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: fullZoomPct}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Ticks"})

	labels := make([]string, len(r.Samples))
	bpm := make([]opts.LineData, len(r.Samples))
	ticks := make([]opts.LineData, len(r.Samples))

	for i, s := range r.Samples {
		labels[i] = strconv.FormatFloat(s.Time, 'f', 3, 64)
		bpm[i] = opts.LineData{Value: s.BPM}
		ticks[i] = opts.LineData{Value: s.Ticks}
	}

	line.SetXAxis(labels)
	line.AddSeries("BPM", bpm)
	line.AddSeries("Ticks", ticks, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	return line
}

// WritePlot renders the chart as an HTML page at path on fs.
func (r *Result) WritePlot(fs afero.Fs, path string) error {
	var buf bytes.Buffer

	if err := r.Chart().Render(&buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	if err := afero.WriteFile(fs, path, buf.Bytes(), plotFileMode); err != nil {
		return fmt.Errorf("write plot %s: %w", path, err)
	}

	return nil
}
