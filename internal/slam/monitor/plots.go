package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/gridslam/internal/geometry"
	"github.com/banshee-data/gridslam/internal/httputil"
	"github.com/banshee-data/gridslam/internal/slam/gridmap"
	"github.com/banshee-data/gridslam/internal/slam/mapping"
)

const defaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// cellGrid is a block-downsampled copy of the grid probabilities. Each
// sample holds the maximum of its block so thin walls survive.
type cellGrid struct {
	cols, rows int
	stride     int
	resolution float64
	origin     geometry.Point // world position of cell (0, 0)
	z          []float64
}

func sampleGrid(m *gridmap.LogOddsGridMap, maxDim int) *cellGrid {
	w, h := m.Width(), m.Height()
	stride := 1
	if d := max(w, h); d > maxDim {
		stride = int(math.Ceil(float64(d) / float64(maxDim)))
	}
	g := &cellGrid{
		cols:       (w + stride - 1) / stride,
		rows:       (h + stride - 1) / stride,
		stride:     stride,
		resolution: m.Resolution(),
		origin:     m.ToWorldCoordinate(geometry.Point{}),
	}
	g.z = make([]float64, g.cols*g.rows)
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			best := 0.0
			for y := r * stride; y < min((r+1)*stride, h); y++ {
				for x := c * stride; x < min((c+1)*stride, w); x++ {
					best = math.Max(best, m.Value(x, y))
				}
			}
			g.z[r*g.cols+c] = best
		}
	}
	return g
}

func (g *cellGrid) Dims() (c, r int) { return g.cols, g.rows }
func (g *cellGrid) Z(c, r int) float64 { return g.z[r*g.cols+c] }
func (g *cellGrid) X(c int) float64 {
	return g.origin.X + float64(c*g.stride)*g.resolution
}
func (g *cellGrid) Y(r int) float64 {
	return g.origin.Y + float64(r*g.stride)*g.resolution
}

// renderMapPNG draws the grid as a heat map with the pose track on top.
func renderMapPNG(g *cellGrid, poses []mapping.PoseRecord, sizeInches float64) ([]byte, error) {
	p := plot.New()
	p.Title.Text = "Occupancy grid"
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	hm := plotter.NewHeatMap(g, palette.Heat(32, 1))
	hm.Min, hm.Max = 0, 1
	p.Add(hm)

	if len(poses) > 0 {
		track := make(plotter.XYs, len(poses))
		for i, rec := range poses {
			track[i] = plotter.XY{X: rec.Pose.X, Y: rec.Pose.Y}
		}
		line, err := plotter.NewLine(track)
		if err != nil {
			return nil, fmt.Errorf("failed to build pose track: %w", err)
		}
		line.Width = vg.Points(1)
		line.Color = color.RGBA{R: 30, G: 144, B: 255, A: 255}
		p.Add(line)
	}

	wt, err := p.WriterTo(vg.Length(sizeInches)*vg.Inch, vg.Length(sizeInches)*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("failed to render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// handleMapPNG renders the grid with gonum/plot.
// Query params:
//   - max_dim (optional; default 256) caps the sampled grid size
//   - size (optional; default 8) image size in inches at 96 dpi
func (ws *WebServer) handleMapPNG(w http.ResponseWriter, r *http.Request) {
	maxDim := max(httputil.PositiveIntParam(r, "max_dim", 256, 2048), 2)
	size := httputil.PositiveIntParam(r, "size", 8, 40)

	var g *cellGrid
	ws.session.WithMap(func(m *gridmap.LogOddsGridMap) { g = sampleGrid(m, maxDim) })

	body, err := renderMapPNG(g, ws.session.Poses(), float64(size))
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteBody(w, "image/png", body)
}

// occupiedPoints lists the world positions of occupied samples with their
// probability.
func occupiedPoints(g *cellGrid) []opts.ScatterData {
	var data []opts.ScatterData
	for r := 0; r < g.rows; r++ {
		for c := 0; c < g.cols; c++ {
			if z := g.Z(c, r); z > 0.5 {
				data = append(data, opts.ScatterData{Value: []interface{}{g.X(c), g.Y(r), z}})
			}
		}
	}
	return data
}

// handleMapHTML renders occupied cells and the pose track with go-echarts.
// Query params:
//   - max_dim (optional; default 512) caps the sampled grid size
func (ws *WebServer) handleMapHTML(w http.ResponseWriter, r *http.Request) {
	maxDim := max(httputil.PositiveIntParam(r, "max_dim", 512, 4096), 2)

	var g *cellGrid
	ws.session.WithMap(func(m *gridmap.LogOddsGridMap) { g = sampleGrid(m, maxDim) })
	cells := occupiedPoints(g)

	poses := ws.session.Poses()
	track := make([]opts.ScatterData, 0, len(poses))
	for _, rec := range poses {
		track = append(track, opts.ScatterData{Value: []interface{}{rec.Pose.X, rec.Pose.Y, 1.0}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "gridslam map", Width: "900px", Height: "900px", AssetsHost: ws.assetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy grid", Subtitle: fmt.Sprintf("session=%s occupied=%d poses=%d stride=%d", ws.session.ID(), len(cells), len(poses), g.stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0.5,
			Max:        1,
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#fde725", "#35b779", "#31688e", "#440154"}},
		}),
	)
	scatter.AddSeries("occupied", cells, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("pose", track, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}
