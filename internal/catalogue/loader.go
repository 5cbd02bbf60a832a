package catalogue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/signalsfoundry/askapmetry/internal/logging"
	"github.com/signalsfoundry/askapmetry/model"
)

// DefaultPattern is the per-beam component catalogue naming scheme.
// {sbid} and {beam} are substituted; {beam} is zero-padded to two digits.
const DefaultPattern = "SB{sbid}.*.beam{beam}.i.MFS.image_comp.csv"

// BeamPattern expands pattern for one beam and joins it onto dir.
func BeamPattern(dir string, sbid, beam int, pattern string) string {
	if pattern == "" {
		pattern = DefaultPattern
	}
	r := strings.NewReplacer(
		"{sbid}", strconv.Itoa(sbid),
		"{beam}", fmt.Sprintf("%02d", beam),
	)
	return filepath.Join(dir, r.Replace(pattern))
}

// ResolveBeamPath finds the single file matching the beam's pattern.
func ResolveBeamPath(dir string, sbid, beam int, pattern string) (string, error) {
	glob := BeamPattern(dir, sbid, beam, pattern)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return "", fmt.Errorf("bad pattern %q: %w", glob, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no catalogue matches %q", glob)
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("%d catalogues match %q (first %q)", len(matches), glob, matches[0])
	}
}

// LoadOptions controls LoadBeams.
type LoadOptions struct {
	Dir     string
	SBID    int
	Beams   []int
	Pattern string
	Filter  FilterOptions
}

// LoadError records a beam whose catalogue could not be read.
type LoadError struct {
	Beam int
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("beam %02d: %v", e.Beam, e.Err)
	}
	return fmt.Sprintf("beam %02d (%s): %v", e.Beam, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadBeam reads, filters and wraps one beam's component catalogue. The
// centre is estimated from all components before filtering.
func LoadBeam(path string, beam int, opts FilterOptions) (model.Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Catalogue{}, err
	}
	defer f.Close()

	components, err := ReadComponentsCSV(f)
	if err != nil {
		return model.Catalogue{}, err
	}
	kept, err := Filter(components, opts)
	if err != nil {
		return model.Catalogue{}, err
	}

	cat := ToCatalogue(beam, kept)
	cat.Path = path
	cat.Centre = EstimateCentre(ToCatalogue(beam, components).Sources)
	return cat, nil
}

// LoadBeams loads every requested beam. Beams that fail are reported in the
// second return value and skipped; loading continues with the rest.
func LoadBeams(ctx context.Context, opts LoadOptions) ([]model.Catalogue, []*LoadError) {
	log := logging.FromContext(ctx)

	var cats []model.Catalogue
	var failures []*LoadError
	for _, beam := range opts.Beams {
		if err := ctx.Err(); err != nil {
			failures = append(failures, &LoadError{Beam: beam, Err: err})
			continue
		}
		path, err := ResolveBeamPath(opts.Dir, opts.SBID, beam, opts.Pattern)
		if err != nil {
			failures = append(failures, &LoadError{Beam: beam, Err: err})
			continue
		}
		cat, err := LoadBeam(path, beam, opts.Filter)
		if err != nil {
			failures = append(failures, &LoadError{Beam: beam, Path: path, Err: err})
			continue
		}
		log.Debug(ctx, "loaded beam catalogue",
			logging.Beam(beam),
			logging.String("path", path),
			logging.Int("sources", cat.Len()),
		)
		cats = append(cats, cat)
	}
	return cats, failures
}

// LoadReference reads the reference catalogue, choosing the decoder from
// the file extension.
func LoadReference(path string) (model.Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Catalogue{}, err
	}
	defer f.Close()

	var cat model.Catalogue
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		cat, err = ReadReferenceJSON(f)
	default:
		cat, err = ReadReferenceCSV(f)
	}
	if err != nil {
		return model.Catalogue{}, fmt.Errorf("%s: %w", path, err)
	}
	cat.Path = path
	return cat, nil
}
