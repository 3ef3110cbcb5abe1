package normalize

import (
	"errors"
	"strings"

	"github.com/elliotchance/pie/v2"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/model"
)

const keySeparator = "|"

// keyEscaper keeps the separator unambiguous when a folded part contains it.
var keyEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// Normalizer validates raw entities and derives their dedup keys. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	validate *validator.Validate
}

func NewNormalizer() *Normalizer {
	return &Normalizer{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Normalize canonicalizes a single entity. Display values keep their case;
// only surrounding whitespace is removed.
func (n *Normalizer) Normalize(raw model.RawEntity) (model.NormalizedEntity, error) {
	out := model.NormalizedEntity{
		Name:       strings.TrimSpace(raw.Name),
		Category:   strings.TrimSpace(raw.Category),
		Attributes: CleanAttributes(raw.Attributes),
	}

	if err := n.validate.Struct(out); err != nil {
		return model.NormalizedEntity{}, describe(err)
	}

	out.DedupKey = DedupKey(out.Name, out.Category)
	return out, nil
}

// NormalizeBatch normalizes every entity and stops at the first invalid one.
func (n *Normalizer) NormalizeBatch(raws []model.RawEntity) ([]model.NormalizedEntity, error) {
	out := make([]model.NormalizedEntity, 0, len(raws))
	for i, raw := range raws {
		ne, err := n.Normalize(raw)
		if err != nil {
			return nil, apperr.ValidationWith([]any{"index", i, "name", raw.Name}, "entity %d: %v", i, err)
		}
		out = append(out, ne)
	}
	return out, nil
}

// ValidateAttributes checks an attribute bag on its own, for update payloads.
func (n *Normalizer) ValidateAttributes(attrs model.Attributes) (model.Attributes, error) {
	cleaned := CleanAttributes(attrs)
	if err := n.validate.Struct(cleaned); err != nil {
		return model.Attributes{}, describe(err)
	}
	return cleaned, nil
}

// DedupKey folds category and name into the key that identifies an entity.
// Separators and backslashes inside either part are escaped, so distinct
// (name, category) pairs never share a key.
func DedupKey(name, category string) string {
	return keyEscaper.Replace(fold(category)) + keySeparator + keyEscaper.Replace(fold(name))
}

// CleanAttributes trims list elements, drops blank ones, and turns blank URL
// strings into absent values. Present lists stay present even when emptied.
func CleanAttributes(in model.Attributes) model.Attributes {
	return model.Attributes{
		EntityType:       cleanList(in.EntityType),
		WikiClasses:      cleanList(in.WikiClasses),
		ReferenceURL:     cleanString(in.ReferenceURL),
		KnowledgeBaseURI: cleanString(in.KnowledgeBaseURI),
	}
}

func cleanList(in []string) []string {
	if in == nil {
		return nil
	}
	trimmed := pie.Map(in, strings.TrimSpace)
	out := pie.Filter(trimmed, func(s string) bool { return s != "" })
	if out == nil {
		out = []string{}
	}
	return out
}

func cleanString(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func fold(s string) string {
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is empty")
		case "url":
			msgs = append(msgs, strings.ToLower(fe.Field())+" is not a valid URI")
		default:
			msgs = append(msgs, fe.Error())
		}
	}
	return apperr.Validation("%s", strings.Join(msgs, "; "))
}
