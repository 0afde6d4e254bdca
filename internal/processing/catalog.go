package processing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

//go:embed catalog.json
var defaultCatalogJSON []byte

// Size is a furniture footprint in metres: X is the width, Z the depth.
type Size struct {
	X float64 `json:"xLen"`
	Z float64 `json:"zLen"`
}

// Item is one purchasable piece of furniture.
type Item struct {
	ModelID       string  `json:"model_id"`
	SuperCategory string  `json:"super_category"`
	Category      string  `json:"category"`
	Style         string  `json:"style"`
	Price         float64 `json:"price_cny"`
	Size          Size    `json:"size"`
}

// Catalog is the set of items staging can choose from.
type Catalog struct {
	Items []Item
}

// LoadCatalog decodes a JSON array of items.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var items []Item
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode furniture catalog: %w", err)
	}
	for i, it := range items {
		if it.ModelID == "" {
			return nil, fmt.Errorf("furniture catalog entry %d has no model_id", i)
		}
		if it.Price < 0 || it.Size.X < 0 || it.Size.Z < 0 {
			return nil, fmt.Errorf("furniture catalog entry %s has negative price or size", it.ModelID)
		}
	}
	return &Catalog{Items: items}, nil
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(strings.NewReader(string(defaultCatalogJSON)))
	if err != nil {
		panic(err)
	}
	return c
}

// Styles returns the distinct styles in the catalog, lower-cased.
func (c *Catalog) Styles() []string {
	seen := make(map[string]bool)
	var styles []string
	for _, it := range c.Items {
		s := normalize(it.Style)
		if s != "" && !seen[s] {
			seen[s] = true
			styles = append(styles, s)
		}
	}
	return styles
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
