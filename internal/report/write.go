package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

// WriteJSON writes the summary as indented JSON followed by a newline.
func WriteJSON(w io.Writer, s Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// WriteTable renders one line per beam. Offsets are in arcseconds; missing
// values show as "-".
func WriteTable(w io.Writer, s Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Beam", "Centre", "Align RA", "Align Dec", "Resid RA", "Resid Dec", "Raw RA", "Raw Dec", "Status")

	for _, r := range s.Rows {
		status := "ok"
		if len(r.Errors) > 0 {
			status = r.Errors[0]
			if len(r.Errors) > 1 {
				status = fmt.Sprintf("%s (+%d more)", status, len(r.Errors)-1)
			}
		}
		centre := "-"
		if r.Centre != nil {
			centre = fmt.Sprintf("%.4f,%+.4f", r.Centre.RA, r.Centre.Dec)
		}
		row := []string{fmt.Sprintf("%02d", r.Beam), centre}
		row = append(row, offsetCells(r.Alignment)...)
		row = append(row, offsetCells(r.Residual)...)
		row = append(row, offsetCells(r.Raw)...)
		row = append(row, status)
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to add beam %02d to table: %w", r.Beam, err)
		}
	}
	return table.Render()
}

func offsetCells(o *model.Offset) []string {
	if o == nil {
		return []string{"-", "-"}
	}
	return []string{fmt.Sprintf("%+.2f", o.RA), fmt.Sprintf("%+.2f", o.Dec)}
}

// WriteGridCSV writes a statistic grid in long form: one
// ra_offset,dec_offset,value row per cell, row-major.
func WriteGridCSV(w io.Writer, g *core.StatisticGrid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ra_offset_arcsec", "dec_offset_arcsec", g.Statistic}); err != nil {
		return err
	}
	for _, c := range g.Cells() {
		if err := cw.Write([]string{
			formatFloat(c.Offset.RA),
			formatFloat(c.Offset.Dec),
			formatFloat(c.Value),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteGridFiles writes every grid to dir as {pass}_beam{NN}.csv and returns
// the paths written in beam order.
func WriteGridFiles(dir string, pass core.Pass, grids map[int]*core.StatisticGrid) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create grid dir: %w", err)
	}
	beams := make([]int, 0, len(grids))
	for b := range grids {
		beams = append(beams, b)
	}
	sort.Ints(beams)

	paths := make([]string, 0, len(beams))
	for _, b := range beams {
		path := filepath.Join(dir, fmt.Sprintf("%s_beam%02d.csv", pass, b))
		if err := writeGridFile(path, grids[b]); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeGridFile(path string, g *core.StatisticGrid) error {
	return writeFile(path, func(w io.Writer) error { return WriteGridCSV(w, g) })
}

// WriteMatchesCSV writes the per-source matches at a best-fit offset, one
// row per radio source in catalogue order.
func WriteMatchesCSV(w io.Writer, matches []model.MatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"source_id", "reference_id", "reference_index", "separation_arcsec"}); err != nil {
		return err
	}
	for _, m := range matches {
		if err := cw.Write([]string{
			m.SourceID,
			m.ReferenceID,
			strconv.Itoa(m.ReferenceIndex),
			formatFloat(m.Separation),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMatchFiles writes every beam's best-fit matches to dir as
// {pass}_beam{NN}_matches.csv and returns the paths written in beam order.
func WriteMatchFiles(dir string, pass core.Pass, matches map[int][]model.MatchResult) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create grid dir: %w", err)
	}
	beams := make([]int, 0, len(matches))
	for b := range matches {
		beams = append(beams, b)
	}
	sort.Ints(beams)

	paths := make([]string, 0, len(beams))
	for _, b := range beams {
		path := filepath.Join(dir, fmt.Sprintf("%s_beam%02d_matches.csv", pass, b))
		ms := matches[b]
		if err := writeFile(path, func(w io.Writer) error { return WriteMatchesCSV(w, ms) }); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
