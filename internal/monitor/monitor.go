// Package monitor serves the estimator's debug pages: live state, runtime
// settings, and trajectory charts of live or recorded runs.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/fieldpose/internal/db"
	"github.com/banshee-data/fieldpose/internal/estimator"
	"github.com/banshee-data/fieldpose/internal/fieldlayout"
	"github.com/banshee-data/fieldpose/internal/geom"
	"github.com/banshee-data/fieldpose/internal/httputil"
	"github.com/banshee-data/fieldpose/internal/monitoring"
	"github.com/banshee-data/fieldpose/internal/pipeline"
)

var logf = monitoring.Subsystem("monitor")

const (
	commandTimeout = 2 * time.Second
	maxBodyBytes   = 64 << 10
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Controller is the part of the control loop the monitor drives.
type Controller interface {
	Snapshot() pipeline.Snapshot
	SetStrategy(ctx context.Context, s estimator.PoseStrategy) error
	SetReferencePose(ctx context.Context, p geom.Pose) error
	SetRobotToCamera(ctx context.Context, t geom.Transform) error
	SetLastPose(ctx context.Context, p geom.Pose) error
	SetCameraHeight(ctx context.Context, h *float64) error
}

// RunStore reads recorded runs. *db.DB implements it.
type RunStore interface {
	Runs(ctx context.Context, limit int) ([]db.Run, error)
	ListRunEstimates(ctx context.Context, runID string) ([]db.Estimate, error)
}

// Extra is any additional state to include in the estimator page, such as
// camera or stream counters.
type Extra func() interface{}

// Monitor holds what the debug pages read.
type Monitor struct {
	control Controller
	store   RunStore
	layout  *fieldlayout.Layout
	extras  map[string]Extra
}

// New returns a Monitor. store may be nil, in which case only the live run
// can be charted.
func New(control Controller, store RunStore, layout *fieldlayout.Layout) *Monitor {
	return &Monitor{
		control: control,
		store:   store,
		layout:  layout,
		extras:  make(map[string]Extra),
	}
}

// AddExtra adds a named section to the estimator state page.
func (m *Monitor) AddExtra(name string, f Extra) {
	m.extras[name] = f
}

// AttachAdminRoutes mounts the debug pages under /debug/.
func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("estimator", "estimator state (JSON)", m.handleState)
	debug.HandleSilentFunc("estimator/strategy", m.handleSetStrategy)
	debug.HandleSilentFunc("estimator/reference-pose", m.handleSetReferencePose)
	debug.HandleSilentFunc("estimator/robot-to-camera", m.handleSetRobotToCamera)
	debug.HandleSilentFunc("estimator/last-pose", m.handleSetLastPose)
	debug.HandleSilentFunc("estimator/camera-height", m.handleSetCameraHeight)
	debug.HandleFunc("trajectory", "trajectory chart (?run=<id> for a recorded run)", m.handleTrajectoryChart)
	debug.HandleSilentFunc("trajectory.png", m.handleTrajectoryPNG)
}

func (m *Monitor) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	state := map[string]interface{}{
		"estimator": m.control.Snapshot(),
	}
	for name, f := range m.extras {
		state[name] = f()
	}
	httputil.WriteJSONOK(w, state)
}

func (m *Monitor) handleSetStrategy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s, err := estimator.ParseStrategy(r.FormValue("strategy"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := m.control.SetStrategy(ctx, s); err != nil {
		httputil.Unavailable(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"strategy": s.String()})
}

// decodeBody reads a POSTed JSON body into v, writing the error response
// itself when it returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return false
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// apply runs set against the control loop and answers with the resulting
// estimator state. what is logged once the loop has taken the change.
func (m *Monitor) apply(w http.ResponseWriter, r *http.Request, what string, set func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	if err := set(ctx); err != nil {
		httputil.Unavailable(w, err.Error())
		return
	}
	logf("%s", what)
	httputil.WriteJSONOK(w, m.control.Snapshot())
}

func (m *Monitor) handleSetReferencePose(w http.ResponseWriter, r *http.Request) {
	var p geom.Pose
	if !decodeBody(w, r, &p) {
		return
	}
	m.apply(w, r, fmt.Sprintf("reference pose set to %v", p), func(ctx context.Context) error { return m.control.SetReferencePose(ctx, p) })
}

func (m *Monitor) handleSetRobotToCamera(w http.ResponseWriter, r *http.Request) {
	var t geom.Transform
	if !decodeBody(w, r, &t) {
		return
	}
	m.apply(w, r, fmt.Sprintf("robot to camera set to %v", t), func(ctx context.Context) error { return m.control.SetRobotToCamera(ctx, t) })
}

func (m *Monitor) handleSetLastPose(w http.ResponseWriter, r *http.Request) {
	var p geom.Pose
	if !decodeBody(w, r, &p) {
		return
	}
	m.apply(w, r, fmt.Sprintf("last pose set to %v", p), func(ctx context.Context) error { return m.control.SetLastPose(ctx, p) })
}

// handleSetCameraHeight takes {"camera_height_m": h}. A null or missing
// height reverts to the mount's Z.
func (m *Monitor) handleSetCameraHeight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HeightM *float64 `json:"camera_height_m"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HeightM != nil && (*req.HeightM < 0 || math.IsNaN(*req.HeightM) || math.IsInf(*req.HeightM, 0)) {
		httputil.BadRequest(w, "camera_height_m must be a non-negative number")
		return
	}
	what := "camera height reset to mount height"
	if req.HeightM != nil {
		what = fmt.Sprintf("camera height set to %.3f m", *req.HeightM)
	}
	m.apply(w, r, what, func(ctx context.Context) error { return m.control.SetCameraHeight(ctx, req.HeightM) })
}

// trajectory returns the poses to chart and a title. With no run parameter
// the live loop's recent estimates are used.
func (m *Monitor) trajectory(r *http.Request) ([]geom.Pose, string, error) {
	runID := strings.TrimSpace(r.URL.Query().Get("run"))
	if runID == "" {
		snap := m.control.Snapshot()
		poses := make([]geom.Pose, len(snap.Recent))
		for i, e := range snap.Recent {
			poses[i] = e.Pose
		}
		return poses, fmt.Sprintf("live (%s), last %d estimates", snap.Strategy, len(poses)), nil
	}
	if m.store == nil {
		return nil, "", fmt.Errorf("no database configured")
	}
	if runID == "latest" {
		runs, err := m.store.Runs(r.Context(), 1)
		if err != nil {
			return nil, "", err
		}
		if len(runs) == 0 {
			return nil, "", fmt.Errorf("no recorded runs")
		}
		runID = runs[0].ID
	}
	estimates, err := m.store.ListRunEstimates(r.Context(), runID)
	if err != nil {
		return nil, "", err
	}
	poses := make([]geom.Pose, len(estimates))
	for i, e := range estimates {
		poses[i] = e.Pose
	}
	return poses, fmt.Sprintf("run %s, %d estimates", runID, len(poses)), nil
}

func (m *Monitor) handleTrajectoryChart(w http.ResponseWriter, r *http.Request) {
	poses, title, err := m.trajectory(r)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}

	robot := make([]opts.ScatterData, len(poses))
	for i, p := range poses {
		_, _, yaw := p.Rotation.RPY()
		robot[i] = opts.ScatterData{Value: []interface{}{p.Translation.X, p.Translation.Y, yaw}}
	}

	xMax, yMax := 1.0, 1.0
	var tags []opts.ScatterData
	if m.layout != nil {
		f := m.layout.Field()
		xMax, yMax = max(xMax, f.Length), max(yMax, f.Width)
		for _, tag := range m.layout.Tags() {
			tags = append(tags, opts.ScatterData{
				Name:  fmt.Sprintf("tag %d", tag.ID),
				Value: []interface{}{tag.Pose.Translation.X, tag.Pose.Translation.Y},
			})
		}
	}
	for _, p := range poses {
		xMax, yMax = max(xMax, p.Translation.X), max(yMax, p.Translation.Y)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Robot trajectory", Width: "1200px", Height: "640px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Robot trajectory", Subtitle: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: xMax, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: yMax, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("robot", robot, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	if len(tags) > 0 {
		scatter.AddSeries("tags", tags, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10, Symbol: "rect"}))
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (m *Monitor) handleTrajectoryPNG(w http.ResponseWriter, r *http.Request) {
	poses, title, err := m.trajectory(r)
	if err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := WriteTrajectoryPNG(&buf, title, poses, m.layout); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
