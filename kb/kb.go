package kb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/askapmetry/core"
	"github.com/signalsfoundry/askapmetry/model"
)

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	EventCatalogueAdded EventType = iota
	EventCatalogueReplaced
	EventReferenceSet
)

func (t EventType) String() string {
	switch t {
	case EventCatalogueAdded:
		return "catalogue_added"
	case EventCatalogueReplaced:
		return "catalogue_replaced"
	case EventReferenceSet:
		return "reference_set"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type    EventType
	Beam    int
	Sources int
}

// Store is an in-memory, thread-safe home for per-beam radio catalogues and
// the external reference catalogue. Catalogues are stored as deep copies and
// handed out as deep copies, so callers never share slices with the store.
type Store struct {
	mu sync.RWMutex

	beams     map[int]model.Catalogue
	reference *model.Catalogue

	subs map[int]func(Event)
	next int
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		beams: make(map[int]model.Catalogue),
		subs:  make(map[int]func(Event)),
	}
}

// AddCatalogue stores a per-beam catalogue. It fails if the beam is already
// present, if the catalogue is survey-scoped, or if any source declares a
// different beam.
func (s *Store) AddCatalogue(c model.Catalogue) error {
	if c.Beam == model.SurveyBeam {
		return fmt.Errorf("catalogue %s is not scoped to a beam", c.Label())
	}
	if err := core.ValidateCatalogue(c); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.beams[c.Beam]; exists {
		s.mu.Unlock()
		return fmt.Errorf("catalogue for beam %d already exists", c.Beam)
	}
	s.beams[c.Beam] = c.Clone()
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventCatalogueAdded, Beam: c.Beam, Sources: c.Len()})
	return nil
}

// ReplaceCatalogue overwrites the catalogue for an existing beam, e.g. with
// its aligned version.
func (s *Store) ReplaceCatalogue(c model.Catalogue) error {
	if err := core.ValidateCatalogue(c); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.beams[c.Beam]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("beam %d: %w", c.Beam, core.ErrUnknownBeam)
	}
	s.beams[c.Beam] = c.Clone()
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventCatalogueReplaced, Beam: c.Beam, Sources: c.Len()})
	return nil
}

// SetReference stores the external reference catalogue.
func (s *Store) SetReference(c model.Catalogue) {
	ref := c.Clone()
	ref.Beam = model.SurveyBeam

	s.mu.Lock()
	s.reference = &ref
	subs := s.snapshotSubsLocked()
	s.mu.Unlock()

	notify(subs, Event{Type: EventReferenceSet, Beam: model.SurveyBeam, Sources: ref.Len()})
}

// Reference returns the reference catalogue, if set.
func (s *Store) Reference() (model.Catalogue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reference == nil {
		return model.Catalogue{}, false
	}
	return s.reference.Clone(), true
}

// Catalogue returns the catalogue for beam.
func (s *Store) Catalogue(beam int) (model.Catalogue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.beams[beam]
	if !ok {
		return model.Catalogue{}, fmt.Errorf("beam %d: %w", beam, core.ErrUnknownBeam)
	}
	return c.Clone(), nil
}

// Beams returns the stored beam ids in ascending order.
func (s *Store) Beams() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.beams))
	for b := range s.beams {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

// Catalogues returns a snapshot of every beam catalogue ordered by beam.
func (s *Store) Catalogues() []model.Catalogue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	beams := make([]int, 0, len(s.beams))
	for b := range s.beams {
		beams = append(beams, b)
	}
	sort.Ints(beams)

	out := make([]model.Catalogue, 0, len(beams))
	for _, b := range beams {
		out = append(out, s.beams[b].Clone())
	}
	return out
}

// Subscribe registers a callback for store events. It returns an
// unsubscribe function.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, s.subs[id])
	}
	return out
}

// notify runs outside the lock so callbacks may call back into the store.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
