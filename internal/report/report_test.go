package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

func fixtureResults() (*core.AlignmentResult, *core.EstimateResult, *core.EstimateResult) {
	alignment := &core.AlignmentResult{
		ReferenceBeam: 0,
		Offsets: map[int]model.Offset{
			0: model.Zero,
			1: {RA: 2, Dec: -1.5},
		},
		Failures: []*core.BeamError{
			{Beam: 2, Pass: core.PassAlignment, Err: core.ErrEmptyCatalogue},
		},
	}
	aligned := &core.EstimateResult{
		Offsets: map[int]model.Offset{
			0: {RA: 0.5, Dec: 0.5},
			1: {RA: 0.5, Dec: 0.5},
		},
	}
	unaligned := &core.EstimateResult{
		Offsets: map[int]model.Offset{
			0: {RA: 0.5, Dec: 0.5},
			1: {RA: 2.5, Dec: -1},
		},
		Failures: []*core.BeamError{
			{Beam: 2, Pass: core.PassEstimate, Err: core.ErrEmptyCatalogue},
		},
	}
	return alignment, aligned, unaligned
}

func TestSummarize(t *testing.T) {
	s := Summarize(fixtureResults())

	require.NotNil(t, s.ReferenceBeam)
	assert.Equal(t, 0, *s.ReferenceBeam)
	require.Len(t, s.Rows, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{s.Rows[0].Beam, s.Rows[1].Beam, s.Rows[2].Beam})

	beam1 := s.Rows[1]
	require.NotNil(t, beam1.Total)
	assert.Equal(t, model.Offset{RA: 2.5, Dec: -1}, *beam1.Total)
	assert.Equal(t, *beam1.Raw, *beam1.Total, "aligned total should agree with the raw estimate")
	assert.True(t, beam1.OK())

	beam2 := s.Rows[2]
	assert.False(t, beam2.OK())
	assert.Nil(t, beam2.Alignment)
	require.Len(t, beam2.Errors, 2)
	assert.Contains(t, beam2.Errors[0], "alignment")
	assert.True(t, strings.HasPrefix(beam2.Errors[1], "raw "))

	assert.Equal(t, 1, s.Failed())
	assert.False(t, s.AllFailed())
}

func TestSummarize_NilPasses(t *testing.T) {
	s := Summarize(nil, nil, nil)
	assert.Nil(t, s.ReferenceBeam)
	assert.Empty(t, s.Rows)
	assert.True(t, s.AllFailed())

	_, _, unaligned := fixtureResults()
	s = Summarize(nil, nil, unaligned)
	require.Len(t, s.Rows, 3)
	assert.Nil(t, s.Rows[0].Total)
}

func TestAddLoadFailure(t *testing.T) {
	s := Summarize(fixtureResults())
	s.AddLoadFailure(7, errors.New("no catalogue matches"))
	s.AddLoadFailure(1, errors.New("late failure"))

	require.Len(t, s.Rows, 4)
	assert.Equal(t, 7, s.Rows[3].Beam)
	assert.False(t, s.Rows[1].OK())
	assert.Equal(t, 3, s.Failed())
}

func TestSetCentres(t *testing.T) {
	s := Summarize(fixtureResults())
	s.SetCentres([]model.Catalogue{
		{Beam: 1, Centre: &model.Position{RA: 150.25, Dec: -30.5}},
		{Beam: 2},
		{Beam: 9, Centre: &model.Position{RA: 1, Dec: 1}},
	})

	require.NotNil(t, s.Rows[1].Centre)
	assert.Equal(t, model.Position{RA: 150.25, Dec: -30.5}, *s.Rows[1].Centre)
	assert.Nil(t, s.Rows[0].Centre)
	assert.Nil(t, s.Rows[2].Centre)
	require.Len(t, s.Rows, 3, "centres must not add rows")

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, s))
	assert.Contains(t, buf.String(), `"centre": {`)

	hash := RowToHash(s.Rows[1])
	assert.Equal(t, "150.25", hash["centre_ra"])
	assert.Equal(t, "-30.5", hash["centre_dec"])
	assert.NotContains(t, RowToHash(s.Rows[0]), "centre_ra")

	var table bytes.Buffer
	require.NoError(t, WriteTable(&table, s))
	assert.Contains(t, table.String(), "150.2500,-30.5000")
}

func TestWriteJSON(t *testing.T) {
	s := Summarize(fixtureResults())
	s.RunID = "run-1"

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, s))

	var decoded Summary
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, s, decoded)
	assert.Contains(t, buf.String(), `"ra": 2`)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, Summarize(fixtureResults())))

	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "RESID DEC")
	for _, want := range []string{"01", "+2.00", "-1.50", "+0.50", "ok", "-"} {
		assert.Contains(t, out, want)
	}
}

func searchGrid(t *testing.T) *core.StatisticGrid {
	t.Helper()
	ref := model.Catalogue{Beam: model.SurveyBeam}
	for i := 0; i < 4; i++ {
		ref.Sources = append(ref.Sources, model.Source{Beam: model.SurveyBeam, RA: 10 + 0.02*float64(i), Dec: -20})
	}
	radio := ref.Clone()
	radio.Beam = 0
	for i := range radio.Sources {
		radio.Sources[i].Beam = 0
	}
	s := core.NewSearcher(core.WithGrid(core.SymmetricGrid(1, 0.5)), core.WithWorkers(1))
	grid, err := s.Search(context.Background(), radio, ref)
	require.NoError(t, err)
	return grid
}

func TestWriteGridCSV(t *testing.T) {
	grid := searchGrid(t)

	var buf bytes.Buffer
	require.NoError(t, WriteGridCSV(&buf, grid))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1+25)
	assert.Equal(t, []string{"ra_offset_arcsec", "dec_offset_arcsec", "sum"}, records[0])
	assert.Equal(t, []string{"-1", "-1"}, records[1][:2])
	assert.Equal(t, []string{"0", "0", "0"}, records[13])
}

func TestWriteGridFiles(t *testing.T) {
	grid := searchGrid(t)
	dir := filepath.Join(t.TempDir(), "grids")

	paths, err := WriteGridFiles(dir, core.PassEstimate, map[int]*core.StatisticGrid{4: grid, 0: grid})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "estimate_beam00.csv"),
		filepath.Join(dir, "estimate_beam04.csv"),
	}, paths)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ra_offset_arcsec,dec_offset_arcsec,sum\n"))
}

func TestWriteMatchFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "grids")
	matches := map[int][]model.MatchResult{
		3: {
			{SourceID: "b3-000", ReferenceID: "W1", ReferenceIndex: 0, Separation: 0.25},
			{SourceID: "b3-001", ReferenceID: "W7", ReferenceIndex: 6, Separation: 1.5},
		},
	}

	paths, err := WriteMatchFiles(dir, core.PassEstimate.Sub("aligned"), matches)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "estimate_aligned_beam03_matches.csv")}, paths)

	f, err := os.Open(paths[0])
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"source_id", "reference_id", "reference_index", "separation_arcsec"},
		{"b3-000", "W1", "0", "0.25"},
		{"b3-001", "W7", "6", "1.5"},
	}, records)
}

func TestRedisPublisher(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	pub := NewRedisPublisher(&redis.Options{Addr: mr.Addr()}, time.Hour)
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Ping(ctx))
	require.NoError(t, pub.Publish(ctx, "run-42", Summarize(fixtureResults())))

	members, err := mr.Members(BeamSetKey("run-42"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"00", "01", "02"}, members)

	key := BeamKey("run-42", 1)
	assert.Equal(t, "askapmetry:run-42:beam:01", key)
	assert.Equal(t, "2", mr.HGet(key, "alignment_ra"))
	assert.Equal(t, "-1.5", mr.HGet(key, "alignment_dec"))
	assert.Equal(t, "2.5", mr.HGet(key, "total_ra"))
	assert.Equal(t, "ok", mr.HGet(key, "status"))
	assert.Equal(t, "", mr.HGet(key, "centre_ra"))
	assert.Equal(t, time.Hour, mr.TTL(key))

	failed := BeamKey("run-42", 2)
	assert.Equal(t, "error", mr.HGet(failed, "status"))
	assert.Contains(t, mr.HGet(failed, "errors"), "empty catalogue")
	assert.Equal(t, "", mr.HGet(failed, "alignment_ra"))
}

func TestRedisPublisher_RepublishReplacesFields(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	pub := NewRedisPublisher(&redis.Options{Addr: mr.Addr()}, 0)
	defer pub.Close()
	ctx := context.Background()

	alignment, aligned, unaligned := fixtureResults()
	require.NoError(t, pub.Publish(ctx, "r", Summarize(alignment, aligned, unaligned)))
	require.NoError(t, pub.Publish(ctx, "r", Summarize(nil, nil, unaligned)))

	key := BeamKey("r", 1)
	assert.Equal(t, "", mr.HGet(key, "alignment_ra"))
	assert.Equal(t, "2.5", mr.HGet(key, "raw_ra"))
	assert.Equal(t, DefaultTTL, mr.TTL(key))
}

func TestRedisPublisher_RequiresRunID(t *testing.T) {
	mr := miniredis.RunT(t)
	pub := NewRedisPublisher(&redis.Options{Addr: mr.Addr()}, 0)
	defer pub.Close()
	assert.Error(t, pub.Publish(context.Background(), "", Summary{}))
}
