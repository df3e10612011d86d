package registry

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"PegWatch/internal/domain/models"
)

//go:embed assets.yaml
var builtinAssets []byte

type file struct {
	Assets []models.AssetMetadata `yaml:"assets" validate:"required,min=1,dive"`
}

// Registry is a read-only, case-insensitive lookup of known assets.
type Registry struct {
	assets  map[string]models.AssetMetadata
	symbols []string
}

// Default returns the registry built from the embedded asset list.
func Default() (*Registry, error) {
	return Parse(builtinAssets)
}

// LoadFile builds a registry from path. An empty path loads the embedded list.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML asset list.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("invalid registry: %w", err)
	}
	return New(f.Assets...)
}

// New builds a registry from the given entries. Duplicate symbols are rejected.
func New(assets ...models.AssetMetadata) (*Registry, error) {
	r := &Registry{assets: make(map[string]models.AssetMetadata, len(assets))}
	for _, a := range assets {
		key := normalize(a.Symbol)
		if key == "" {
			return nil, fmt.Errorf("invalid registry: empty symbol")
		}
		if _, dup := r.assets[key]; dup {
			return nil, fmt.Errorf("invalid registry: duplicate symbol %s", key)
		}
		a.Symbol = key
		r.assets[key] = a
		r.symbols = append(r.symbols, key)
	}
	sort.Strings(r.symbols)
	return r, nil
}

func (r *Registry) Lookup(symbol string) (models.AssetMetadata, bool) {
	a, ok := r.assets[normalize(symbol)]
	return a, ok
}

func (r *Registry) IsKnown(symbol string) bool {
	_, ok := r.assets[normalize(symbol)]
	return ok
}

// ListAll returns registered symbols in sorted order.
func (r *Registry) ListAll() []string {
	out := make([]string, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// Assets returns every entry in symbol order.
func (r *Registry) Assets() []models.AssetMetadata {
	out := make([]models.AssetMetadata, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, r.assets[s])
	}
	return out
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
