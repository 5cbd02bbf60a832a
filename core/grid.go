package core

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/signalsfoundry/askapmetry/model"
)

// MaxGridCells bounds the size of a single offset grid.
const MaxGridCells = 1 << 20

// Axis is one dimension of the trial offset grid, in arcseconds.
type Axis struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// Len returns the number of grid points along the axis. Max is included
// when (Max-Min) is a whole number of steps.
func (a Axis) Len() int {
	switch n := a.points(); {
	case !(n <= MaxGridCells):
		return MaxGridCells + 1
	case n < 0:
		return 0
	default:
		return int(n)
	}
}

// points is the axis length as a float so oversized or overflowing spans can
// be detected before any int conversion.
func (a Axis) points() float64 {
	return math.Floor((a.Max-a.Min)/a.Step+1e-9) + 1
}

// Values returns the axis points Min, Min+Step, ... up to Max.
func (a Axis) Values() []float64 {
	n := a.Len()
	out := make([]float64, n)
	for i := range out {
		v := a.Min + float64(i)*a.Step
		if math.Abs(v) < a.Step*1e-9 {
			v = 0
		}
		out[i] = v
	}
	return out
}

func (a Axis) validate(name string) error {
	for _, v := range []float64{a.Min, a.Max, a.Step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s axis has non-finite bound: %w", name, ErrInvalidGrid)
		}
	}
	if a.Step <= 0 {
		return fmt.Errorf("%s axis step %g must be positive: %w", name, a.Step, ErrInvalidGrid)
	}
	if a.Max <= a.Min {
		return fmt.Errorf("%s axis [%g, %g] has no extent: %w", name, a.Min, a.Max, ErrInvalidGrid)
	}
	if n := a.points(); math.IsNaN(n) || math.IsInf(n, 0) || n > MaxGridCells {
		return fmt.Errorf("%s axis [%g, %g] step %g has too many points (limit %d): %w",
			name, a.Min, a.Max, a.Step, MaxGridCells, ErrInvalidGrid)
	}
	return nil
}

// GridSpec is the rectangular set of trial offsets explored by a search.
type GridSpec struct {
	RA  Axis `yaml:"ra" json:"ra"`
	Dec Axis `yaml:"dec" json:"dec"`
}

// SymmetricGrid spans ±extent arcsec on both axes with the given step.
func SymmetricGrid(extent, step float64) GridSpec {
	axis := Axis{Min: -extent, Max: extent, Step: step}
	return GridSpec{RA: axis, Dec: axis}
}

// DefaultGrid is ±5" at 0.5" resolution.
func DefaultGrid() GridSpec { return SymmetricGrid(5, 0.5) }

// Validate rejects grids with zero extent or a non-positive step.
func (g GridSpec) Validate() error {
	if err := g.RA.validate("ra"); err != nil {
		return err
	}
	if err := g.Dec.validate("dec"); err != nil {
		return err
	}
	if cells := g.RA.points() * g.Dec.points(); cells > MaxGridCells {
		return fmt.Errorf("grid has %.0f cells, limit is %d: %w", cells, MaxGridCells, ErrInvalidGrid)
	}
	return nil
}

// Cells returns the number of trial offsets in the grid.
func (g GridSpec) Cells() int { return g.RA.Len() * g.Dec.Len() }

// Cell is one populated entry of a StatisticGrid.
type Cell struct {
	Row, Col int
	Offset   model.Offset
	Value    float64
}

// StatisticGrid maps every trial offset to the statistic computed for it.
// Rows follow the Dec axis and columns follow the RA axis.
type StatisticGrid struct {
	Statistic string
	Goal      Goal
	RA        []float64
	Dec       []float64

	values *mat.Dense
}

func newStatisticGrid(spec GridSpec, stat Statistic) *StatisticGrid {
	ra, dec := spec.RA.Values(), spec.Dec.Values()
	return &StatisticGrid{
		Statistic: stat.Name(),
		Goal:      stat.Goal(),
		RA:        ra,
		Dec:       dec,
		values:    mat.NewDense(len(dec), len(ra), nil),
	}
}

// Dims returns the number of Dec rows and RA columns.
func (g *StatisticGrid) Dims() (rows, cols int) { return g.values.Dims() }

// At returns the statistic at Dec row i and RA column j.
func (g *StatisticGrid) At(i, j int) float64 { return g.values.At(i, j) }

// OffsetAt returns the trial offset of cell (i, j).
func (g *StatisticGrid) OffsetAt(i, j int) model.Offset {
	return model.Offset{RA: g.RA[j], Dec: g.Dec[i]}
}

// Matrix returns a copy of the underlying values.
func (g *StatisticGrid) Matrix() *mat.Dense { return mat.DenseCopyOf(g.values) }

// Equal reports whether two grids cover the same offsets with identical values.
func (g *StatisticGrid) Equal(other *StatisticGrid) bool {
	if g == nil || other == nil {
		return g == other
	}
	if g.Statistic != other.Statistic || g.Goal != other.Goal {
		return false
	}
	if !equalFloats(g.RA, other.RA) || !equalFloats(g.Dec, other.Dec) {
		return false
	}
	return mat.Equal(g.values, other.values)
}

// Cells lists every cell in row-major order.
func (g *StatisticGrid) Cells() []Cell {
	rows, cols := g.Dims()
	out := make([]Cell, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out = append(out, Cell{Row: i, Col: j, Offset: g.OffsetAt(i, j), Value: g.At(i, j)})
		}
	}
	return out
}

// BestFit is the optimal cell of a StatisticGrid.
type BestFit struct {
	Offset   model.Offset
	Row, Col int
	Value    float64
}

// Best returns the cell that optimises the statistic. Exact ties go to the
// offset nearest (0, 0), then to the lowest row-major position. NaN never
// wins. ErrNoMatches is returned when no cell carries a finite value, or
// when a maximised statistic never rises above zero.
func (g *StatisticGrid) Best() (BestFit, error) {
	rows, cols := g.Dims()
	best := BestFit{Row: -1, Col: -1}
	found := false

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := g.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			off := g.OffsetAt(i, j)
			if !found || g.Goal.better(v, best.Value) ||
				(v == best.Value && off.Norm() < best.Offset.Norm()) {
				best = BestFit{Offset: off, Row: i, Col: j, Value: v}
				found = true
			}
		}
	}

	if !found {
		return BestFit{}, fmt.Errorf("%s grid has no finite cells: %w", g.Statistic, ErrNoMatches)
	}
	if g.Goal == Maximize && best.Value <= 0 {
		return BestFit{}, fmt.Errorf("%s never exceeds zero: %w", g.Statistic, ErrNoMatches)
	}
	return best, nil
}

func (g *StatisticGrid) set(i, j int, v float64) { g.values.Set(i, j, v) }

func equalFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
