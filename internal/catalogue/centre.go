package catalogue

import (
	"github.com/golang/geo/r3"
	"github.com/golang/geo/s2"

	"github.com/signalsfoundry/askapmetry/model"
)

// EstimateCentre returns a rough centre for a set of positions: the mean of
// their unit vectors projected back onto the sphere. It returns nil for an
// empty input or when the vectors cancel out.
func EstimateCentre(sources []model.Source) *model.Position {
	if len(sources) == 0 {
		return nil
	}
	var sum r3.Vector
	for _, s := range sources {
		p := s2.PointFromLatLng(s2.LatLngFromDegrees(s.Dec, s.RA))
		sum = sum.Add(p.Vector)
	}
	if sum.Norm() == 0 {
		return nil
	}
	ll := s2.LatLngFromPoint(s2.Point{Vector: sum.Normalize()})
	ra := ll.Lng.Degrees()
	if ra < 0 {
		ra += 360
	}
	return &model.Position{RA: ra, Dec: ll.Lat.Degrees()}
}
