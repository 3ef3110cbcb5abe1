package model

import (
	"slices"
	"time"
)

// Attributes is the optional attribute bag of an entity. A nil field is
// unresolved; a non-nil field (including an empty list) is a value.
type Attributes struct {
	EntityType       []string `json:"entityType"`
	WikiClasses      []string `json:"wikiClasses"`
	ReferenceURL     *string  `json:"url" validate:"omitempty,url"`
	KnowledgeBaseURI *string  `json:"dbPediaIri" validate:"omitempty,url"`
}

// MergeFrom copies every present field of in over a and reports whether
// anything changed. Absent fields in in leave a untouched.
func (a *Attributes) MergeFrom(in Attributes) bool {
	changed := false
	if in.EntityType != nil && !equalList(a.EntityType, in.EntityType) {
		a.EntityType = slices.Clone(in.EntityType)
		changed = true
	}
	if in.WikiClasses != nil && !equalList(a.WikiClasses, in.WikiClasses) {
		a.WikiClasses = slices.Clone(in.WikiClasses)
		changed = true
	}
	if in.ReferenceURL != nil && !equalString(a.ReferenceURL, in.ReferenceURL) {
		a.ReferenceURL = cloneString(in.ReferenceURL)
		changed = true
	}
	if in.KnowledgeBaseURI != nil && !equalString(a.KnowledgeBaseURI, in.KnowledgeBaseURI) {
		a.KnowledgeBaseURI = cloneString(in.KnowledgeBaseURI)
		changed = true
	}
	return changed
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	return Attributes{
		EntityType:       cloneList(a.EntityType),
		WikiClasses:      cloneList(a.WikiClasses),
		ReferenceURL:     cloneString(a.ReferenceURL),
		KnowledgeBaseURI: cloneString(a.KnowledgeBaseURI),
	}
}

// Equal compares two bags, treating nil and present-empty lists as different.
func (a Attributes) Equal(b Attributes) bool {
	return equalList(a.EntityType, b.EntityType) &&
		equalList(a.WikiClasses, b.WikiClasses) &&
		equalString(a.ReferenceURL, b.ReferenceURL) &&
		equalString(a.KnowledgeBaseURI, b.KnowledgeBaseURI)
}

// IsEmpty reports whether no field is set.
func (a Attributes) IsEmpty() bool {
	return a.EntityType == nil && a.WikiClasses == nil && a.ReferenceURL == nil && a.KnowledgeBaseURI == nil
}

type Node struct {
	UID        string     `json:"uid"`
	Name       string     `json:"name"`
	Category   string     `json:"entity"`
	DedupKey   string     `json:"dedup_key"`
	Attributes Attributes `json:"attributes"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Clone returns a deep copy so callers never share attribute slices with a store.
func (n Node) Clone() Node {
	n.Attributes = n.Attributes.Clone()
	return n
}

func equalList(a, b []string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return slices.Equal(a, b)
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneList(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a convenience for building optional fields.
func StringPtr(s string) *string {
	return &s
}
