// Package resource lists the REST collections served by the operations
// backend.
package resource

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/chinmina/opsdesk/internal/query"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Resource struct {
	// Name is the collection name as used in the URL.
	Name  string
	Path  string
	Title string
}

// ListKey is the cache key of the collection, which prefixes the keys of all
// of its records.
func (r Resource) ListKey() query.Key {
	return query.Key{r.Name}
}

func (r Resource) RecordKey(id string) query.Key {
	return query.Key{r.Name, id}
}

func (r Resource) RecordPath(id string) string {
	return r.Path + "/" + url.PathEscape(id)
}

var names = []string{
	"customer",
	"vendor",
	"product",
	"quotes",
	"purchaseOrders",
	"invoices",
	"events",
	"users",
}

type Catalogue struct {
	resources []Resource
	byName    map[string]Resource
}

// Default returns the catalogue of the backend's collections.
func Default() *Catalogue {
	c, _ := New(names...)
	return c
}

// New creates a catalogue of the named collections.
func New(collections ...string) (*Catalogue, error) {
	c := &Catalogue{byName: map[string]Resource{}}

	titler := cases.Title(language.English)
	for _, name := range collections {
		if name == "" || strings.ContainsAny(name, "/?# ") {
			return nil, fmt.Errorf("invalid resource name %q", name)
		}

		lookup := strings.ToLower(name)
		if _, exists := c.byName[lookup]; exists {
			return nil, fmt.Errorf("duplicate resource %q", name)
		}

		r := Resource{
			Name:  name,
			Path:  "/" + name,
			Title: titler.String(splitWords(name)),
		}
		c.resources = append(c.resources, r)
		c.byName[lookup] = r
	}

	return c, nil
}

// Lookup finds a resource by name, ignoring case.
func (c *Catalogue) Lookup(name string) (Resource, bool) {
	r, ok := c.byName[strings.ToLower(name)]
	return r, ok
}

func (c *Catalogue) All() []Resource {
	return slices.Clone(c.resources)
}

// splitWords separates camel case words: "purchaseOrders" becomes
// "purchase Orders".
func splitWords(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}
