package api

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/waterlevel/internal/db"
	"github.com/banshee-data/waterlevel/internal/httputil"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 10000
	defaultChartLimit   = 2000
)

// loadHistory reads up to ?limit= records and returns them oldest first.
// With ?since= (RFC 3339) only records at or after that instant are read,
// and the newest limit of them are kept.
func (s *Server) loadHistory(w http.ResponseWriter, r *http.Request, def int) ([]db.LevelRecord, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return nil, false
	}
	limit, err := httputil.QueryInt(r, "limit", def, maxHistoryLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.BadRequest(w, "since must be an RFC 3339 timestamp")
			return nil, false
		}
		recs, err := s.history.LevelsSince(r.Context(), since)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to load levels: %v", err))
			return nil, false
		}
		if len(recs) > limit {
			recs = recs[len(recs)-limit:]
		}
		return recs, true
	}

	recs, err := s.history.Levels(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load levels: %v", err))
		return nil, false
	}
	slices.Reverse(recs)
	return recs, true
}

func (s *Server) listLevels(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.loadHistory(w, r, defaultHistoryLimit)
	if !ok {
		return
	}
	if recs == nil {
		recs = []db.LevelRecord{}
	}
	httputil.WriteJSONOK(w, recs)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	sessions, err := s.history.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// plotLevels renders the history as a PNG line plot.
func (s *Server) plotLevels(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.loadHistory(w, r, defaultChartLimit)
	if !ok {
		return
	}
	if len(recs) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no levels recorded")
		return
	}

	p := plot.New()
	p.Title.Text = "Water level"
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Level (m)"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(recs))
	for i, rec := range recs {
		pts[i].X = float64(rec.RecordedAt.Unix())
		pts[i].Y = rec.Level
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	line.Width = vg.Points(1.5)
	p.Add(line)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// chartLevels renders the history as an interactive HTML line chart.
func (s *Server) chartLevels(w http.ResponseWriter, r *http.Request) {
	recs, ok := s.loadHistory(w, r, defaultChartLimit)
	if !ok {
		return
	}

	x := make([]string, len(recs))
	y := make([]opts.LineData, len(recs))
	for i, rec := range recs {
		x[i] = rec.RecordedAt.Local().Format("2006-01-02 15:04")
		y[i] = opts.LineData{Value: rec.Level}
	}

	subtitle := "no levels recorded"
	if len(recs) > 0 {
		subtitle = fmt.Sprintf("%d readings, last %s", len(recs), recs[len(recs)-1].RecordedAt.Format(time.RFC3339))
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Water level", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Water level", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Level (m)", Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("level", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
