package index

import (
	"slices"
)

// Filter keys understood by Filters.Match.
const (
	FilterID               = "id"
	FilterContent          = "content"
	FilterSection          = "section"
	FilterTopic            = "topic"
	FilterDocType          = "doc_type"
	FilterDocSource        = "doc_source"
	FilterSubjectRelated   = "is_subject_related"
	FilterHasConditions    = "has_conditions"
	FilterStartRef         = "start_ref"
	FilterEndRef           = "end_ref"
	FilterActiveIngredient = "active_ingredients"
	FilterKeyword          = "keywords"
)

// Filters are equality constraints on record metadata, keyed by field name.
//
// Every record carries all of the keys above, so each of them is compared,
// empty values included. A key outside that set is absent from every record
// and passes. Strings, bools and ints compare exactly; strings are
// case-sensitive. The set-valued keys active_ingredients and keywords match
// when the value is a member.
type Filters map[string]any

// Match reports whether r satisfies every filter.
func (f Filters) Match(r *Record) bool {
	for key, want := range f {
		if !matchField(r, key, want) {
			return false
		}
	}
	return true
}

func matchField(r *Record, key string, want any) bool {
	m := &r.Metadata
	switch key {
	case FilterID:
		return equalString(r.ID, want)
	case FilterContent:
		return equalString(r.Content, want)
	case FilterSection:
		return equalString(m.Section, want)
	case FilterTopic:
		return equalString(m.Topic, want)
	case FilterDocType:
		return equalString(m.DocType, want)
	case FilterDocSource:
		return equalString(m.DocSource, want)
	case FilterSubjectRelated:
		b, ok := want.(bool)
		return ok && b == m.IsSubjectRelated
	case FilterHasConditions:
		b, ok := want.(bool)
		return ok && b == m.HasConditions
	case FilterStartRef:
		n, ok := asInt(want)
		return ok && n == r.StartRef
	case FilterEndRef:
		n, ok := asInt(want)
		return ok && n == r.EndRef
	case FilterActiveIngredient:
		s, ok := want.(string)
		return ok && slices.Contains(m.ActiveIngredients, s)
	case FilterKeyword:
		s, ok := want.(string)
		return ok && slices.Contains(m.Keywords, s)
	default:
		return true
	}
}

func equalString(have string, want any) bool {
	s, ok := want.(string)
	return ok && s == have
}

// asInt accepts the integer kinds plus integral float64, which is what
// JSON-decoded arguments carry.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	default:
		return 0, false
	}
}
