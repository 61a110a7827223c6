package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CatalogItem is one evidence item the model may ask for by id.
type CatalogItem struct {
	ContextItemID string `json:"context_item_id"`
	Title         string `json:"title,omitempty"`
	Kind          string `json:"kind,omitempty"`
	MIMEType      string `json:"mime_type,omitempty"`
	Page          int    `json:"page,omitempty"`
	R2Key         string `json:"r2_key,omitempty"`
	R2URL         string `json:"r2_url,omitempty"`
}

// Source returns the object location for the item: the absolute URL when
// present, otherwise the storage key.
func (c CatalogItem) Source() string {
	if c.R2URL != "" {
		return c.R2URL
	}
	return c.R2Key
}

// ContextCatalog is the parsed evidence catalog attached to a job.
type ContextCatalog struct {
	Raw   string
	Items []CatalogItem
	byID  map[string]CatalogItem
}

// ParseContextCatalog accepts either a JSON array of items or an object with
// an "items" array. An empty string yields an empty catalog.
func ParseContextCatalog(raw string) (*ContextCatalog, error) {
	c := &ContextCatalog{Raw: raw, byID: map[string]CatalogItem{}}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return c, nil
	}
	var items []CatalogItem
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Items []CatalogItem `json:"items"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, fmt.Errorf("context catalog: %w", err)
		}
		items = wrapped.Items
	} else if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		return nil, fmt.Errorf("context catalog: %w", err)
	}
	for i, it := range items {
		if it.ContextItemID == "" {
			return nil, fmt.Errorf("context catalog: item %d has no context_item_id", i)
		}
		if _, dup := c.byID[it.ContextItemID]; dup {
			return nil, fmt.Errorf("context catalog: duplicate context_item_id %q", it.ContextItemID)
		}
		c.byID[it.ContextItemID] = it
	}
	c.Items = items
	return c, nil
}

func (c *ContextCatalog) Lookup(id string) (CatalogItem, bool) {
	if c == nil {
		return CatalogItem{}, false
	}
	it, ok := c.byID[id]
	return it, ok
}

func (c *ContextCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Items)
}

// PromptJSON renders the catalog for inclusion in a prompt.
func (c *ContextCatalog) PromptJSON() string {
	if c == nil || len(c.Items) == 0 {
		return "[]"
	}
	b, err := json.MarshalIndent(c.Items, "", "  ")
	if err != nil {
		return c.Raw
	}
	return string(b)
}
