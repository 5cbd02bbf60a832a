package catalogue

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"math"
	"strings"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

var ErrMissingColumn = errors.New("missing required column")

// Column aliases accepted in CSV headers, matched case-insensitively.
var (
	idColumns       = []string{"id", "source_name", "island_source", "designation", "name"}
	raColumns       = []string{"ra", "ra_deg", "raj2000"}
	decColumns      = []string{"dec", "dec_deg", "dej2000"}
	intFluxColumns  = []string{"int_flux", "flux_int"}
	peakFluxColumns = []string{"peak_flux", "flux_peak"}
)

type header map[string]int

func parseHeader(row []string) header {
	h := make(header, len(row))
	for i, name := range row {
		h[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return h
}

func (h header) find(aliases []string) (int, bool) {
	for _, a := range aliases {
		if i, ok := h[a]; ok {
			return i, true
		}
	}
	return -1, false
}

func (h header) require(aliases []string) (int, error) {
	if i, ok := h.find(aliases); ok {
		return i, nil
	}
	return -1, fmt.Errorf("%w: one of %s", ErrMissingColumn, strings.Join(aliases, ", "))
}

// ReadComponentsCSV reads a radio component catalogue with ra, dec,
// int_flux and peak_flux columns. Rows without an id column are numbered.
func ReadComponentsCSV(r io.Reader) ([]Component, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	h := parseHeader(first)

	idCol, hasID := h.find(idColumns)
	cols := make([]int, 4)
	for i, aliases := range [][]string{raColumns, decColumns, intFluxColumns, peakFluxColumns} {
		if cols[i], err = h.require(aliases); err != nil {
			return nil, err
		}
	}

	var out []Component
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		vals, err := parseFloats(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := core.CheckPosition(vals[0], vals[1]); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		id := strconv.Itoa(len(out))
		if hasID {
			id = row[idCol]
		}
		out = append(out, Component{ID: id, RA: vals[0], Dec: vals[1], IntFlux: vals[2], PeakFlux: vals[3]})
	}
}

// ReadReferenceCSV reads a reference catalogue with ra and dec columns.
func ReadReferenceCSV(r io.Reader) (model.Catalogue, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err != nil {
		return model.Catalogue{}, fmt.Errorf("read header: %w", err)
	}
	h := parseHeader(first)

	idCol, hasID := h.find(idColumns)
	raCol, err := h.require(raColumns)
	if err != nil {
		return model.Catalogue{}, err
	}
	decCol, err := h.require(decColumns)
	if err != nil {
		return model.Catalogue{}, err
	}

	cat := model.Catalogue{Beam: model.SurveyBeam}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return cat, nil
		}
		if err != nil {
			return model.Catalogue{}, fmt.Errorf("line %d: %w", line, err)
		}
		vals, err := parseFloats(row, []int{raCol, decCol})
		if err != nil {
			return model.Catalogue{}, fmt.Errorf("line %d: %w", line, err)
		}
		if err := core.CheckPosition(vals[0], vals[1]); err != nil {
			return model.Catalogue{}, fmt.Errorf("line %d: %w", line, err)
		}
		id := strconv.Itoa(len(cat.Sources))
		if hasID {
			id = row[idCol]
		}
		cat.Sources = append(cat.Sources, model.Source{ID: id, Beam: model.SurveyBeam, RA: vals[0], Dec: vals[1]})
	}
}

type referenceJSON struct {
	ID  string  `json:"id"`
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// ReadReferenceJSON reads a reference catalogue encoded as a JSON array of
// {"id", "ra", "dec"} objects.
func ReadReferenceJSON(r io.Reader) (model.Catalogue, error) {
	var rows []referenceJSON
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return model.Catalogue{}, fmt.Errorf("decode reference catalogue: %w", err)
	}
	cat := model.Catalogue{Beam: model.SurveyBeam, Sources: make([]model.Source, len(rows))}
	for i, row := range rows {
		if err := core.CheckPosition(row.RA, row.Dec); err != nil {
			return model.Catalogue{}, fmt.Errorf("entry %d: %w", i, err)
		}
		id := row.ID
		if id == "" {
			id = strconv.Itoa(i)
		}
		cat.Sources[i] = model.Source{ID: id, Beam: model.SurveyBeam, RA: row.RA, Dec: row.Dec}
	}
	return cat, nil
}

func parseFloats(row []string, cols []int) ([]float64, error) {
	out := make([]float64, len(cols))
	for i, c := range cols {
		if c >= len(row) {
			return nil, fmt.Errorf("row has %d fields, need column %d", len(row), c+1)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[c]), 64)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", c+1, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("column %d: non-finite value %q", c+1, row[c])
		}
		out[i] = v
	}
	return out, nil
}
