package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RawEntity is one entity as handed over by an extractor or a client, before
// normalization. On the wire it is the tuple [name, category, attributes];
// the object form {"name", "category", "attributes"} is accepted too.
type RawEntity struct {
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Attributes Attributes `json:"attributes"`
}

func (r *RawEntity) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var tuple []json.RawMessage
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return err
		}
		if len(tuple) < 2 || len(tuple) > 3 {
			return fmt.Errorf("entity tuple must have 2 or 3 elements, got %d", len(tuple))
		}
		var out RawEntity
		if err := json.Unmarshal(tuple[0], &out.Name); err != nil {
			return fmt.Errorf("entity name: %w", err)
		}
		if err := json.Unmarshal(tuple[1], &out.Category); err != nil {
			return fmt.Errorf("entity category: %w", err)
		}
		if len(tuple) == 3 {
			if err := json.Unmarshal(tuple[2], &out.Attributes); err != nil {
				return fmt.Errorf("entity attributes: %w", err)
			}
		}
		*r = out
		return nil
	}

	var obj struct {
		Name       string     `json:"name"`
		Category   string     `json:"category"`
		Entity     string     `json:"entity"`
		Attributes Attributes `json:"attributes"`
	}
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	r.Name = obj.Name
	r.Category = obj.Category
	if r.Category == "" {
		r.Category = obj.Entity
	}
	r.Attributes = obj.Attributes
	return nil
}

// MarshalJSON always writes the tuple form.
func (r RawEntity) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Name, r.Category, r.Attributes})
}

// UnmarshalJSON accepts both the camelCase keys of the batch format and the
// snake_case keys used by node update payloads.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	var wire struct {
		EntityType       []string `json:"entityType"`
		EntityTypeSnake  []string `json:"entity_type"`
		WikiClasses      []string `json:"wikiClasses"`
		WikiClassesSnake []string `json:"wiki_classes"`
		URL              *string  `json:"url"`
		ReferenceURL     *string  `json:"referenceURL"`
		DBPediaIRI       *string  `json:"dbPediaIri"`
		DBPediaURI       *string  `json:"dbpedia_uri"`
		KnowledgeBaseURI *string  `json:"knowledgeBaseURI"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*a = Attributes{
		EntityType:       firstList(wire.EntityType, wire.EntityTypeSnake),
		WikiClasses:      firstList(wire.WikiClasses, wire.WikiClassesSnake),
		ReferenceURL:     firstString(wire.URL, wire.ReferenceURL),
		KnowledgeBaseURI: firstString(wire.DBPediaIRI, wire.DBPediaURI, wire.KnowledgeBaseURI),
	}
	return nil
}

func firstList(lists ...[]string) []string {
	for _, l := range lists {
		if l != nil {
			return l
		}
	}
	return nil
}

func firstString(values ...*string) *string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

// NormalizedEntity is a validated entity together with its dedup key.
type NormalizedEntity struct {
	DedupKey   string     `json:"dedup_key"`
	Name       string     `json:"name" validate:"required"`
	Category   string     `json:"category" validate:"required"`
	Attributes Attributes `json:"attributes"`
}

// ConstructResult summarizes the effect of one construction batch.
type ConstructResult struct {
	Created []Node `json:"created"`
	// Merged holds pre-existing nodes the batch resolved to, in batch order.
	Merged []Node `json:"merged"`
	// Changed counts merged nodes whose attributes were actually rewritten.
	Changed       int            `json:"changed"`
	Relationships []Relationship `json:"relationships"`
}

// ExtractedEntities is the document an LLM extractor is asked to return.
type ExtractedEntities struct {
	Entities []RawEntity `json:"entities"`
}
