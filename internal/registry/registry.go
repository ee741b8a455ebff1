// Package registry holds the published stage graphs. Graphs are immutable
// once loaded; several versions of the same workflow may coexist so running
// instances keep resolving against the version they started on.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"doc-approval/backend/internal/repository"
	"doc-approval/backend/pkg/models"
)

// Catalog maps workflow ids to their published versions. It is safe for
// concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	versions map[string][]*models.StageGraph // id -> ascending by version
	sources  []Source
	store    repository.DefinitionStore
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithSources sets the sources Reload reads from, in order.
func WithSources(sources ...Source) Option {
	return func(c *Catalog) { c.sources = append(c.sources, sources...) }
}

// WithStore persists graphs given to Publish.
func WithStore(store repository.DefinitionStore) Option {
	return func(c *Catalog) { c.store = store }
}

// New creates an empty catalog. Call Reload to populate it from its sources.
func New(opts ...Option) *Catalog {
	c := &Catalog{versions: make(map[string][]*models.StageGraph)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reload re-reads every source and swaps the catalog contents in one step.
// A source error or an invalid graph leaves the current contents untouched.
func (c *Catalog) Reload(ctx context.Context) error {
	next := make(map[string][]*models.StageGraph)
	for _, src := range c.sources {
		graphs, err := src.Load(ctx)
		if err != nil {
			return err
		}
		for _, g := range graphs {
			if err := Validate(g); err != nil {
				return err
			}
			if err := insert(next, g); err != nil {
				return err
			}
		}
	}
	c.mu.Lock()
	c.versions = next
	c.mu.Unlock()
	return nil
}

// Register adds g without persisting it. Registering an id/version that is
// already present fails.
func (c *Catalog) Register(g *models.StageGraph) error {
	if err := Validate(g); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return insert(c.versions, g)
}

// Publish validates g, writes it to the store when one is configured, and
// registers it.
func (c *Catalog) Publish(ctx context.Context, g *models.StageGraph) error {
	if err := Validate(g); err != nil {
		return err
	}
	if c.store != nil {
		if err := c.store.SaveDefinition(ctx, g); err != nil {
			return fmt.Errorf("publish %s v%d: %w", g.ID, g.Version, err)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return insert(c.versions, g)
}

func insert(into map[string][]*models.StageGraph, g *models.StageGraph) error {
	existing := into[g.ID]
	for _, v := range existing {
		if v.Version == g.Version {
			return fmt.Errorf("definition %s v%d: %w", g.ID, g.Version, repository.ErrDefinitionExists)
		}
	}
	existing = append(existing, g)
	sort.Slice(existing, func(i, j int) bool { return existing[i].Version < existing[j].Version })
	into[g.ID] = existing
	return nil
}

// Get returns workflowID at version, or its latest version when version is
// 0. Unknown graphs yield repository.ErrNotFound.
func (c *Catalog) Get(_ context.Context, workflowID string, version int) (*models.StageGraph, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.versions[workflowID]
	if len(versions) == 0 {
		return nil, repository.ErrNotFound
	}
	if version <= 0 {
		return versions[len(versions)-1], nil
	}
	for _, g := range versions {
		if g.Version == version {
			return g, nil
		}
	}
	return nil, repository.ErrNotFound
}

// List returns the latest version of every workflow, sorted by id.
func (c *Catalog) List(context.Context) []models.DefinitionSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.DefinitionSummary, 0, len(c.versions))
	for _, versions := range c.versions {
		out = append(out, versions[len(versions)-1].Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns every published version number of workflowID.
func (c *Catalog) Versions(workflowID string) []int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	versions := c.versions[workflowID]
	out := make([]int, len(versions))
	for i, g := range versions {
		out[i] = g.Version
	}
	return out
}
