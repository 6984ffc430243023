package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// chartEvents renders recent event widths as a bar chart (HTML). This is a
// debugging-only endpoint for eyeballing detection behaviour without a UI.
// Query params:
//   - limit (optional; default 100) number of events to plot
func (s *Server) chartEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	events, err := s.db.Events(limit)
	if err != nil {
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}

	// Events arrive newest first; plot oldest to newest left to right.
	labels := make([]string, 0, len(events))
	widths := make([]opts.BarData, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		labels = append(labels, e.StartedAt.Format(time.TimeOnly))
		style := &opts.ItemStyle{Color: "#31688e"}
		if !e.Confirmed {
			style = &opts.ItemStyle{Color: "#b5b5b5"}
		}
		widths = append(widths, opts.BarData{Value: e.WidthMs, ItemStyle: style})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tripwire Events", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Event Widths",
			Subtitle: fmt.Sprintf("events=%d (grey bars broke before confirmation)", len(events)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "start time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "width (ms)"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("width", widths)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("failed to render chart: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
