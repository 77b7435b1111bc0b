// Package mapstate models the map client's level-of-detail state machine:
// which administrative level is rendered, scoped to which parent, colored by
// which criterion. Transitions load asynchronously and only the most recently
// initiated load may touch the renderer.
package mapstate

import (
	"context"
	"sync"

	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/opencarto/territoria/internal/geo"
	"github.com/opencarto/territoria/internal/viewport"
)

// Loader fetches an assembled feature collection for a viewport query.
type Loader interface {
	Load(ctx context.Context, q viewport.Query) (*geojson.FeatureCollection, error)
}

// Renderer is the drawing surface the machine drives. Implementations must
// tolerate RemoveSource for an id that was never added.
type Renderer interface {
	// RemoveSource drops a source and its layers.
	RemoveSource(id string)
	// AddSource adds a source with per-feature fill colors keyed by code.
	AddSource(id string, fc *geojson.FeatureCollection, colors map[string]string)
	// SetHover flags or unflags one feature's hover state.
	SetHover(sourceID, code string, hovered bool)
	// FlyTo moves the camera to the given bounds.
	FlyTo(b viewport.BBox)
}

// Crumb is one breadcrumb entry. The root crumb is France at region level
// with no parent.
type Crumb struct {
	Label      string
	Level      geo.Level
	ParentCode string
}

// DetailFunc is called when a commune is clicked; communes are terminal, a
// click opens a detail view instead of drilling further.
type DetailFunc func(code string)

// Options configures a Machine.
type Options struct {
	// ZoomThreshold separates the regions and departements bands. Crossing
	// it upward loads departements nationwide; crossing it downward
	// returns to regions.
	ZoomThreshold float64
	OnDetail      DetailFunc
}

// Machine is the client state machine. All exported methods are safe for
// concurrent use.
type Machine struct {
	loader   Loader
	renderer Renderer
	opts     Options
	palette  *Palette

	mu           sync.Mutex
	level        geo.Level
	parentCode   string
	criterionID  string
	hovered      string
	activeSource string
	breadcrumb   []Crumb
	current      *geojson.FeatureCollection
	seq          uint64

	inflight sync.WaitGroup
}

// New creates a Machine at region level with an empty map.
func New(loader Loader, renderer Renderer, palette *Palette, opts Options) *Machine {
	if opts.ZoomThreshold == 0 {
		opts.ZoomThreshold = 7
	}
	return &Machine{
		loader:     loader,
		renderer:   renderer,
		palette:    palette,
		opts:       opts,
		level:      geo.LevelRegion,
		breadcrumb: []Crumb{{Label: "France", Level: geo.LevelRegion}},
	}
}

// Start triggers the initial region load.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	m.beginLoadLocked(ctx)
	m.mu.Unlock()
}

// Level returns the current level of detail.
func (m *Machine) Level() geo.Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// ParentCode returns the current drill-down scope, empty when nationwide.
func (m *Machine) ParentCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.parentCode
}

// Breadcrumb returns a copy of the current breadcrumb trail.
func (m *Machine) Breadcrumb() []Crumb {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Crumb, len(m.breadcrumb))
	copy(out, m.breadcrumb)
	return out
}

// Current returns the last applied feature collection, nil before the first
// load completes.
func (m *Machine) Current() *geojson.FeatureCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Wait blocks until all in-flight loads have settled. Intended for shutdown
// and tests; normal operation never waits.
func (m *Machine) Wait() {
	m.inflight.Wait()
}

// HandleZoom applies a zoom change. Crossing the threshold moves between
// regions and departements; communes are never entered by zoom, only left.
func (m *Machine) HandleZoom(ctx context.Context, zoom float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case zoom >= m.opts.ZoomThreshold && m.level == geo.LevelRegion:
		m.level = geo.LevelDepartment
		m.parentCode = ""
		m.breadcrumb = m.breadcrumb[:1]
		m.beginLoadLocked(ctx)
	case zoom < m.opts.ZoomThreshold && m.level != geo.LevelRegion:
		m.level = geo.LevelRegion
		m.parentCode = ""
		m.breadcrumb = m.breadcrumb[:1]
		m.beginLoadLocked(ctx)
	}
}

// HandleClick drills into the clicked feature: region to its departements,
// departement to its communes. A commune click opens the detail view.
func (m *Machine) HandleClick(ctx context.Context, code, name string, bounds *viewport.BBox) {
	m.mu.Lock()

	switch m.level {
	case geo.LevelRegion:
		m.level = geo.LevelDepartment
		m.parentCode = code
		m.breadcrumb = append(m.breadcrumb[:1], Crumb{Label: name, Level: geo.LevelDepartment, ParentCode: code})
		m.beginLoadLocked(ctx)
	case geo.LevelDepartment:
		m.level = geo.LevelCommune
		m.parentCode = code
		m.breadcrumb = append(m.breadcrumb, Crumb{Label: name, Level: geo.LevelCommune, ParentCode: code})
		m.beginLoadLocked(ctx)
	case geo.LevelCommune:
		m.mu.Unlock()
		if m.opts.OnDetail != nil {
			m.opts.OnDetail(code)
		}
		return
	}
	m.mu.Unlock()

	if bounds != nil {
		m.renderer.FlyTo(*bounds)
	}
}

// NavigateBreadcrumb jumps to the trail entry at index. Index 0 is France:
// nationwide regions with every filter cleared.
func (m *Machine) NavigateBreadcrumb(ctx context.Context, index int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if index < 0 || index >= len(m.breadcrumb) {
		return
	}
	crumb := m.breadcrumb[index]
	m.breadcrumb = m.breadcrumb[:index+1]
	m.level = crumb.Level
	m.parentCode = crumb.ParentCode
	m.beginLoadLocked(ctx)
}

// SetCriterion switches the active criterion and reloads the current level
// in place.
func (m *Machine) SetCriterion(ctx context.Context, criterionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.criterionID == criterionID {
		return
	}
	m.criterionID = criterionID
	m.beginLoadLocked(ctx)
}

// HandleHover moves the single hover flag to code. An empty code clears the
// hover entirely. At most one feature is hovered at any time.
func (m *Machine) HandleHover(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hovered == code {
		return
	}
	if m.hovered != "" {
		m.renderer.SetHover(m.activeSource, m.hovered, false)
	}
	m.hovered = code
	if code != "" {
		m.renderer.SetHover(m.activeSource, code, true)
	}
}

// Hovered returns the currently hovered feature code, empty when none.
func (m *Machine) Hovered() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hovered
}

// beginLoadLocked snapshots the query, claims the next sequence token, and
// fires the load. Callers hold m.mu.
func (m *Machine) beginLoadLocked(ctx context.Context) {
	m.seq++
	token := m.seq
	q := viewport.Query{
		Level:       m.level,
		ParentCode:  m.parentCode,
		CriterionID: m.criterionID,
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.load(ctx, token, q)
	}()
}

func (m *Machine) load(ctx context.Context, token uint64, q viewport.Query) {
	fc, err := m.loader.Load(ctx, q)

	m.mu.Lock()
	defer m.mu.Unlock()

	if token != m.seq {
		zap.L().Debug("mapstate: discarding stale response",
			zap.Uint64("token", token),
			zap.Uint64("latest", m.seq),
		)
		return
	}
	if err != nil {
		zap.L().Warn("mapstate: load failed",
			zap.String("level", string(q.Level)),
			zap.String("parent", q.ParentCode),
			zap.Error(err),
		)
		return
	}

	colors := m.palette.Colors(q.CriterionID, fc)

	// Remove before add keeps source ids unique in the renderer.
	if m.activeSource != "" {
		m.renderer.RemoveSource(m.activeSource)
	}
	sourceID := "territories-" + string(q.Level)
	if sourceID != m.activeSource {
		m.renderer.RemoveSource(sourceID)
	}
	m.renderer.AddSource(sourceID, fc, colors)

	m.activeSource = sourceID
	m.current = fc
	m.hovered = ""
}
