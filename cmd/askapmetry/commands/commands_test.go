package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/askapmetry/internal/report"
	"github.com/signalsfoundry/askapmetry/model"
)

// skyField is a lattice of compact sources spaced well beyond the
// isolation radius.
func skyField() []model.Source {
	var out []model.Source
	for i := 0; i < 5; i++ {
		for j := 0; j < 4; j++ {
			out = append(out, model.Source{
				ID:   fmt.Sprintf("S%02d%02d", i, j),
				Beam: model.SurveyBeam,
				RA:   150 + 0.05*float64(i) + 0.003*float64(j),
				Dec:  -30 + 0.05*float64(j) + 0.002*float64(i),
			})
		}
	}
	return out
}

func writeBeam(t *testing.T, dir string, beam int, sky []model.Source, off model.Offset) {
	t.Helper()
	var b strings.Builder
	b.WriteString("source_name,ra,dec,int_flux,peak_flux\n")
	for _, s := range sky {
		d := off.Displace(s)
		fmt.Fprintf(&b, "%s,%.10f,%.10f,1.0,1.0\n", s.ID, d.RA, d.Dec)
	}
	name := fmt.Sprintf("SB100.RACS_1234-30.beam%02d.i.MFS.image_comp.csv", beam)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(b.String()), 0o644))
}

func writeReference(t *testing.T, dir string, sky []model.Source) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("designation,raj2000,dej2000\n")
	for _, s := range sky {
		fmt.Fprintf(&b, "W%s,%.10f,%.10f\n", s.ID, s.RA, s.Dec)
	}
	path := filepath.Join(dir, "reference.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	var out, errOut bytes.Buffer
	cmd := NewRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	sky := skyField()
	writeBeam(t, dir, 0, sky, model.Offset{RA: 1, Dec: -0.5})
	writeBeam(t, dir, 1, sky, model.Offset{RA: -2, Dec: 1.5})
	ref := writeReference(t, dir, sky)

	mr := miniredis.RunT(t)
	gridDir := filepath.Join(dir, "grids")

	out, errOut, err := execute(t, "run",
		"--dir", dir, "--sbid", "100", "--beams", "0-2",
		"--reference", ref, "--workers", "2",
		"--json", "-", "--table=false",
		"--grid-dir", gridDir,
		"--redis-addr", mr.Addr(), "--run-id", "test-run",
	)
	require.NoError(t, err, errOut)

	var sum report.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, "test-run", sum.RunID)
	require.Len(t, sum.Rows, 3)

	beam0, beam1, beam2 := sum.Rows[0], sum.Rows[1], sum.Rows[2]
	require.True(t, beam0.OK(), "%v", beam0.Errors)
	require.True(t, beam1.OK(), "%v", beam1.Errors)

	assert.Equal(t, model.Zero, *beam0.Alignment)
	assert.Equal(t, model.Offset{RA: -3, Dec: 2}, *beam1.Alignment)
	assert.Equal(t, model.Offset{RA: 1, Dec: -0.5}, *beam0.Residual)
	assert.Equal(t, model.Offset{RA: 1, Dec: -0.5}, *beam1.Residual)
	assert.Equal(t, model.Offset{RA: -2, Dec: 1.5}, *beam1.Raw)
	assert.Equal(t, *beam1.Raw, *beam1.Total)

	assert.False(t, beam2.OK())
	require.NotEmpty(t, beam2.Errors)
	assert.Contains(t, beam2.Errors[0], "no catalogue matches")
	assert.Contains(t, errOut, "1 of 3 beams reported errors")

	// Beam centres come from the unfiltered components of each beam.
	for _, row := range []report.BeamRow{beam0, beam1} {
		require.NotNil(t, row.Centre, "beam %d centre", row.Beam)
		assert.InDelta(t, 150.1045, row.Centre.RA, 0.01)
		assert.InDelta(t, -29.921, row.Centre.Dec, 0.01)
	}
	assert.Nil(t, beam2.Centre)

	assert.Equal(t, "-3", mr.HGet(report.BeamKey("test-run", 1), "alignment_ra"))
	assert.NotEmpty(t, mr.HGet(report.BeamKey("test-run", 1), "centre_ra"))
	assert.FileExists(t, filepath.Join(gridDir, "alignment_beam01.csv"))
	assert.FileExists(t, filepath.Join(gridDir, "estimate_raw_beam00.csv"))
	assert.FileExists(t, filepath.Join(gridDir, "estimate_aligned_beam01.csv"))

	matches, err := os.ReadFile(filepath.Join(gridDir, "estimate_aligned_beam01_matches.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(matches)), "\n")
	assert.Equal(t, "source_id,reference_id,reference_index,separation_arcsec", lines[0])
	assert.Len(t, lines, 1+len(sky))
	assert.FileExists(t, filepath.Join(gridDir, "alignment_beam01_matches.csv"))
}

func TestEstimateCommandTable(t *testing.T) {
	dir := t.TempDir()
	sky := skyField()
	writeBeam(t, dir, 4, sky, model.Offset{RA: 0.5, Dec: 0.5})
	ref := writeReference(t, dir, sky)

	out, errOut, err := execute(t, "estimate",
		"--dir", dir, "--sbid", "100", "--beams", "4", "-r", ref,
	)
	require.NoError(t, err, errOut)
	assert.Contains(t, out, "+0.50")
	assert.Contains(t, out, "04")
	assert.Contains(t, errOut, "All 1 beams succeeded")
}

func TestAlignCommandRejectsMissingReferenceBeam(t *testing.T) {
	dir := t.TempDir()
	sky := skyField()
	writeBeam(t, dir, 1, sky, model.Zero)
	writeBeam(t, dir, 2, sky, model.Offset{RA: 1})

	_, errOut, err := execute(t, "align",
		"--dir", dir, "--sbid", "100", "--beams", "0-2", "--reference-beam", "0",
	)
	require.Error(t, err)
	assert.Equal(t, "Reference beam unusable", err.Error())
	assert.Contains(t, errOut, "--skip-alignment")
}

func TestRunFailsWhenNothingLoads(t *testing.T) {
	_, errOut, err := execute(t, "run",
		"--dir", t.TempDir(), "--sbid", "100", "--beams", "0,1", "--reference", "unused.csv",
	)
	require.Error(t, err)
	assert.Equal(t, "No beam catalogues loaded", err.Error())
	assert.Contains(t, errOut, "--pattern")
}

func TestInvalidFlags(t *testing.T) {
	_, _, err := execute(t, "estimate", "--beams", "9-3")
	require.Error(t, err)
	assert.Equal(t, "Invalid configuration", err.Error())

	_, errOut, err := execute(t, "run", "--beams", "1,2")
	require.Error(t, err)
	assert.Contains(t, errOut, "reference_beam 0 is not in input.beams")
}

func TestConfigFileWithFlagOverride(t *testing.T) {
	dir := t.TempDir()
	sky := skyField()
	writeBeam(t, dir, 0, sky, model.Offset{Dec: 1})
	ref := writeReference(t, dir, sky)

	cfgPath := filepath.Join(dir, "askapmetry.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`input:
  dir: %s
  sbid: 999
  beams: [0]
  reference: %s
search:
  statistic: median
  cutoff: 3
output:
  table: false
`, dir, ref)), 0o644))

	out, errOut, err := execute(t, "estimate", "-c", cfgPath, "--sbid", "100", "--json", "-")
	require.NoError(t, err, errOut)

	var sum report.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	require.Len(t, sum.Rows, 1)
	require.NotNil(t, sum.Rows[0].Raw)
	assert.Equal(t, model.Offset{Dec: 1}, *sum.Rows[0].Raw)
}
