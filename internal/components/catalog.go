// Package components holds the catalog of UI component templates and turns
// a template plus a prompt into a component payload.
package components

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/siddimore/x402-ui-components/pkg/solana"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Names of the template shapes the frontend knows how to render.
const (
	Card    = "card"
	Form    = "form"
	Table   = "table"
	Chart   = "chart"
	List    = "list"
	Hero    = "hero"
	Pricing = "pricing"
)

var shapes = []string{Card, Form, Table, Chart, List, Hero, Pricing}

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrPromptTooLong   = errors.New("prompt too long")
)

// Template is one entry of the catalog.
type Template struct {
	Name        string                 `yaml:"name" json:"name"`
	Title       string                 `yaml:"title" json:"title"`
	Description string                 `yaml:"description" json:"description"`
	Price       string                 `yaml:"price,omitempty" json:"-"`
	Keywords    []string               `yaml:"keywords" json:"keywords,omitempty"`
	Props       map[string]interface{} `yaml:"props" json:"props"`

	// price in atomic units, zero when the default applies
	atomic uint64
}

type catalogFile struct {
	Templates []Template `yaml:"templates"`
}

// Catalog is an immutable set of templates.
type Catalog struct {
	templates map[string]*Template
}

// LoadCatalog parses the embedded catalog and overlays the file at path, if
// any. Override entries replace embedded ones by name; fields left empty in
// the override keep their embedded values. decimals is used to parse prices.
func LoadCatalog(path string, decimals int) (*Catalog, error) {
	base, err := parseCatalog(embeddedCatalog)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		override, err := parseCatalog(raw)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %w", path, err)
		}
		for _, t := range override.Templates {
			merge(base, t)
		}
	}

	c := &Catalog{templates: make(map[string]*Template, len(base.Templates))}
	for i := range base.Templates {
		t := base.Templates[i]
		if !isShape(t.Name) {
			return nil, fmt.Errorf("%w %q: supported templates are %s", ErrUnknownTemplate, t.Name, strings.Join(shapes, ", "))
		}
		if t.Price != "" {
			t.atomic, err = solana.ParseAmount(t.Price, decimals)
			if err != nil {
				return nil, fmt.Errorf("template %s price: %w", t.Name, err)
			}
		}
		if t.Props == nil {
			t.Props = map[string]interface{}{}
		}
		c.templates[t.Name] = &t
	}
	for _, name := range shapes {
		if _, ok := c.templates[name]; !ok {
			return nil, fmt.Errorf("catalog is missing template %q", name)
		}
	}
	return c, nil
}

func parseCatalog(raw []byte) (*catalogFile, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	for i := range f.Templates {
		f.Templates[i].Name = strings.ToLower(strings.TrimSpace(f.Templates[i].Name))
	}
	return &f, nil
}

func merge(base *catalogFile, t Template) {
	for i := range base.Templates {
		existing := &base.Templates[i]
		if existing.Name != t.Name {
			continue
		}
		if t.Title != "" {
			existing.Title = t.Title
		}
		if t.Description != "" {
			existing.Description = t.Description
		}
		if t.Price != "" {
			existing.Price = t.Price
		}
		if len(t.Keywords) > 0 {
			existing.Keywords = t.Keywords
		}
		if len(t.Props) > 0 {
			existing.Props = t.Props
		}
		return
	}
	base.Templates = append(base.Templates, t)
}

func isShape(name string) bool {
	for _, s := range shapes {
		if s == name {
			return true
		}
	}
	return false
}

// Names returns the template names in a stable order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the template called name.
func (c *Catalog) Get(name string) (*Template, error) {
	t, ok := c.templates[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTemplate, name)
	}
	return t, nil
}

// Price returns the template's price in atomic units, or def when the
// template has no override.
func (c *Catalog) Price(name string, def uint64) uint64 {
	t, err := c.Get(name)
	if err != nil || t.atomic == 0 {
		return def
	}
	return t.atomic
}

// RoutePattern returns a gorilla/mux path variable regexp matching exactly
// the catalog's template names.
func (c *Catalog) RoutePattern() string {
	return strings.Join(c.Names(), "|")
}
