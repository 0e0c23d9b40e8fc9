package record

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// CountryFunc lists the remote countries as name → id.
type CountryFunc func(ctx context.Context) (map[string]int64, error)

// CountryPreloader rewrites "<compound>.countryName" cells into
// "<compound>.countryID" cells. The country list is fetched at most once per
// run.
type CountryPreloader struct {
	list CountryFunc

	once   sync.Once
	byName map[string]int64
	err    error
}

// NewCountryPreloader returns a preloader backed by list.
func NewCountryPreloader(list CountryFunc) *CountryPreloader {
	return &CountryPreloader{list: list}
}

func (p *CountryPreloader) countries(ctx context.Context) (map[string]int64, error) {
	p.once.Do(func() {
		raw, err := p.list(context.WithoutCancel(ctx))
		p.byName = make(map[string]int64, len(raw))
		for name, id := range raw {
			p.byName[key(name)] = id
		}
		p.err = err
	})
	return p.byName, p.err
}

// Convert returns row with every countryName cell replaced by the matching
// countryID cell. Rows without such cells are returned unchanged and do not
// trigger the country fetch.
func (p *CountryPreloader) Convert(ctx context.Context, row Row) (Row, error) {
	out := row
	for i, c := range row.Cells {
		base, sub, ok := strings.Cut(strings.TrimSpace(c.Name), ".")
		if !ok || key(sub) != key("countryName") {
			continue
		}
		if strings.TrimSpace(c.Value) == "" {
			out = out.With(i, Cell{Name: base + ".countryID", Value: ""})
			continue
		}
		byName, err := p.countries(ctx)
		if err != nil {
			return row, fmt.Errorf("load countries: %w", err)
		}
		id, found := byName[key(c.Value)]
		if !found {
			return row, &MappingError{Row: row.Number, Source: row.Source, Column: c.Name,
				Reason: fmt.Sprintf("unknown country name %q", c.Value)}
		}
		out = out.With(i, Cell{Name: base + ".countryID", Value: strconv.FormatInt(id, 10)})
	}
	return out, nil
}
