// Package fields holds the databases accepted as sources and targets of an
// ID mapping job. The built-in catalog is parsed once from an embedded file
// and is read-only afterwards.
package fields

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/noatgnu/UniprotWebParser/internal/idmapping/domain"
	"gopkg.in/yaml.v3"
)

//go:embed fields.yaml
var embedded []byte

// Item is one database entry of the catalog
type Item struct {
	Name        string `yaml:"name" json:"name"`
	DisplayName string `yaml:"displayName" json:"displayName"`
	From        bool   `yaml:"from" json:"from"`
	To          bool   `yaml:"to" json:"to"`
}

// Group is a named set of catalog items
type Group struct {
	Name  string `yaml:"groupName" json:"groupName"`
	Items []Item `yaml:"items" json:"items"`
}

type document struct {
	Defaults struct {
		From    string   `yaml:"from"`
		To      string   `yaml:"to"`
		Columns []string `yaml:"columns"`
	} `yaml:"defaults"`
	Groups []Group `yaml:"groups" json:"groups"`
}

// Catalog is an immutable lookup of valid from/to fields
type Catalog struct {
	groups   []Group
	from     map[string]struct{}
	to       map[string]struct{}
	defaults domain.Selection
	columns  []string
}

var loadDefault = sync.OnceValue(func() *Catalog {
	c, err := parse(embedded)
	if err != nil {
		panic(fmt.Sprintf("fields: embedded catalog is invalid: %v", err))
	}
	return c
})

// Default returns the built-in catalog
func Default() *Catalog {
	return loadDefault()
}

func parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse field catalog: %w", err)
	}

	c := newCatalog(doc.Groups)
	c.defaults = domain.Selection{From: doc.Defaults.From, To: doc.Defaults.To}
	c.columns = doc.Defaults.Columns

	if err := c.Validate(c.defaults); err != nil {
		return nil, fmt.Errorf("default selection: %w", err)
	}
	return c, nil
}

func newCatalog(groups []Group) *Catalog {
	c := &Catalog{
		groups: groups,
		from:   make(map[string]struct{}),
		to:     make(map[string]struct{}),
	}
	for _, g := range groups {
		for _, it := range g.Items {
			if it.From {
				c.from[it.Name] = struct{}{}
			}
			if it.To {
				c.to[it.Name] = struct{}{}
			}
		}
	}
	return c
}

// From returns the sorted names accepted as mapping sources
func (c *Catalog) From() []string { return sortedKeys(c.from) }

// To returns the sorted names accepted as mapping targets
func (c *Catalog) To() []string { return sortedKeys(c.to) }

// Groups returns a copy of the catalog groups
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		out[i] = Group{Name: g.Name, Items: slices.Clone(g.Items)}
	}
	return out
}

// IsFrom reports whether name is a valid source field
func (c *Catalog) IsFrom(name string) bool {
	_, ok := c.from[name]
	return ok
}

// IsTo reports whether name is a valid target field
func (c *Catalog) IsTo(name string) bool {
	_, ok := c.to[name]
	return ok
}

// DefaultSelection is used when the caller does not choose fields
func (c *Catalog) DefaultSelection() domain.Selection { return c.defaults }

// DefaultColumns are the result columns requested for TSV output by default
func (c *Catalog) DefaultColumns() []string { return slices.Clone(c.columns) }

// Validate checks a selection against the catalog
func (c *Catalog) Validate(sel domain.Selection) error {
	if sel.From == "" || sel.To == "" {
		return fmt.Errorf("%w: from and to fields are required", domain.ErrInvalidInput)
	}
	if !c.IsFrom(sel.From) {
		return fmt.Errorf("%w: unknown from field %q", domain.ErrInvalidInput, sel.From)
	}
	if !c.IsTo(sel.To) {
		return fmt.Errorf("%w: unknown to field %q", domain.ErrInvalidInput, sel.To)
	}
	return nil
}

// Fetch downloads the live catalog from {baseURL}/configure/idmapping/fields.
// Defaults are carried over from the built-in catalog.
func Fetch(ctx context.Context, client *http.Client, baseURL string) (*Catalog, error) {
	url := strings.TrimRight(baseURL, "/") + "/configure/idmapping/fields"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build field catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch field catalog: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch field catalog: HTTP status code %d", res.StatusCode)
	}

	var doc document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode field catalog: %w", err)
	}

	c := newCatalog(doc.Groups)
	c.defaults = Default().defaults
	c.columns = Default().columns
	return c, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
