package facility

import "context"

// Catalog is a source of facility definitions, returned in declaration order.
type Catalog interface {
	Load(ctx context.Context) ([]Facility, error)
}

// CatalogWriter stores facility definitions, keeping their order.
type CatalogWriter interface {
	Save(ctx context.Context, facilities []Facility) error
}

// LoadRegistry reads the catalog and builds a Registry from it.
func LoadRegistry(ctx context.Context, c Catalog) (*Registry, error) {
	facilities, err := c.Load(ctx)
	if err != nil {
		return nil, err
	}
	return NewRegistry(facilities)
}
