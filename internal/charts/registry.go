// Package charts keeps the latest assembled chart per source and chart name
// so that the HTTP surface can serve it.
package charts

import (
	"context"
	"sort"
	"sync"

	"github.com/kjstillabower/room-climate-charts/internal/models"
)

type key struct {
	source string
	name   string
}

// Registry is a concurrency-safe store of the latest chart per (source, name).
type Registry struct {
	mu     sync.RWMutex
	charts map[key]models.Chart
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{charts: make(map[key]models.Chart)}
}

// PublishChart replaces the stored chart for chart.Source and chart.Name.
func (r *Registry) PublishChart(ctx context.Context, chart models.Chart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.charts[key{chart.Source, chart.Name}] = chart
	return nil
}

// Get returns the latest chart for source and name.
func (r *Registry) Get(source, name string) (models.Chart, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.charts[key{source, name}]
	return c, ok
}

// Summary describes a stored chart without its data.
type Summary struct {
	Source      string           `json:"source"`
	Name        string           `json:"name"`
	Kind        models.ChartKind `json:"kind"`
	Points      int              `json:"points"`
	GeneratedAt string           `json:"generatedAt"`
}

// List returns a summary of every stored chart sorted by source and name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.charts))
	for k, c := range r.charts {
		out = append(out, Summary{
			Source:      k.source,
			Name:        k.name,
			Kind:        c.Kind,
			Points:      len(c.Rows) + len(c.Daily),
			GeneratedAt: c.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Name < out[j].Name
	})
	return out
}
