package catalog

import "context"

// StaticSource serves catalog data from in-memory maps. Used in tests and for
// local development without a price service.
type StaticSource struct {
	Models     map[string]Model            // keyed by family+"/"+model
	Containers map[string]ContainerMapping // keyed by family
}

// Model implements Source.
func (s *StaticSource) Model(_ context.Context, family, model string) (Model, error) {
	if s == nil {
		return Model{}, ErrNotFound
	}
	m, ok := s.Models[family+"/"+model]
	if !ok {
		return Model{}, ErrNotFound
	}
	return m, nil
}

// ContainerMapping implements Source.
func (s *StaticSource) ContainerMapping(_ context.Context, family string) (ContainerMapping, bool, error) {
	if s == nil {
		return ContainerMapping{}, false, nil
	}
	m, ok := s.Containers[family]
	return m, ok, nil
}
