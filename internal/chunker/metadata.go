package chunker

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/sutcontext-mcp/pkg/types"
)

const (
	// DefaultTopic is used when no line qualifies as a topic.
	DefaultTopic = "Genel"

	sectionScanLines = 5
	minTopicLen      = 10
	maxTopicLen      = 100
)

// ingredientStems are the active-ingredient terms recognised verbatim.
var ingredientStems = toSet(
	"ezetimib", "statin", "atorvastatin", "rosuvastatin", "simvastatin", "niasin",
	"metoprolol", "bisoprolol", "carvedilol", "clopidogrel", "aspirin", "warfarin",
	"interferon", "glatiramer", "teriflunomid", "dimetil", "fumarat", "fingolimod",
	"natalizumab", "alemtuzumab", "okrelizumab", "kladribin", "fampiridin",
	"iloprost", "bosentan", "masitentan", "sildenafil", "riociguat", "seleksipag",
	"tadalafil", "epoprostenol", "treprostinil", "ambrisentan",
	"bevacizumab", "ranibizumab", "aflibersept", "deksametazon", "verteporfin",
	"dienogest", "progesteron", "östrojen", "östradiol", "tibolon",
	"evokumab", "prokumab",
)

// ingredientSuffixes mark pharmacological class names (monoclonal antibodies,
// statins, ACE inhibitors).
var ingredientSuffixes = []string{"mab", "stat", "pril"}

var durationUnits = toSet("yaş", "ay", "hafta", "yıl")

var specialTerms = []string{
	"kardiyoloji", "iç hastalıkları", "endokrinoloji",
	"hipertansiyon", "diabet", "kolesterol",
	"uzman hekim", "raporu", "tedavi",
}

var subjectIndicators = []string{
	"ilaç", "etkin madde", "doz", "tedavi",
	"kullanım", "reçete", "farmakolojik",
}

var conditionIndicators = []string{
	"gerekli", "şart", "koşul", "ancak",
	"yalnızca", "sadece", "mutlaka",
	"en az", "en fazla", "üstünde", "altında",
}

// Enrich derives chunk metadata from content. DocType and DocSource are left
// for the caller.
func Enrich(content string) types.ChunkMetadata {
	lowered := lower(content)
	words := tokenizeWords(lowered)

	return types.ChunkMetadata{
		Section:           extractSection(content),
		Topic:             extractTopic(content),
		ActiveIngredients: ExtractIngredients(words),
		Keywords:          extractKeywords(content, lowered, words),
		IsSubjectRelated:  containsAny(lowered, subjectIndicators),
		HasConditions:     containsAny(lowered, conditionIndicators),
	}
}

func extractSection(content string) string {
	lines := strings.SplitN(content, "\n", sectionScanLines+1)
	for _, line := range lines[:min(len(lines), sectionScanLines)] {
		if token, ok := SectionToken(line); ok {
			return token
		}
	}
	return ""
}

func extractTopic(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) <= minTopicLen {
			continue
		}
		if first, _ := utf8.DecodeRuneInString(line); unicode.IsDigit(first) {
			continue
		}
		if runes := []rune(line); len(runes) > maxTopicLen {
			return string(runes[:maxTopicLen])
		}
		return line
	}
	return DefaultTopic
}

// ExtractIngredients returns the active-ingredient terms among lowercased
// words, in first-seen order without duplicates.
func ExtractIngredients(words []string) []string {
	found := []string{}
	seen := make(map[string]struct{})
	for _, w := range words {
		if _, dup := seen[w]; dup || !isIngredient(w) {
			continue
		}
		seen[w] = struct{}{}
		found = append(found, w)
	}
	return found
}

func isIngredient(word string) bool {
	if _, ok := ingredientStems[word]; ok {
		return true
	}
	n := utf8.RuneCountInString(word)
	for _, suffix := range ingredientSuffixes {
		if strings.HasSuffix(word, suffix) && n > len(suffix)+1 {
			return true
		}
	}
	return false
}

// extractKeywords collects ICD-10 shaped codes, number+unit pairs such as
// "18yaş" and the special terms present in the content. Sorted, unique.
func extractKeywords(content, lowered string, words []string) []string {
	set := make(map[string]struct{})

	for _, token := range tokenizeCodes(content) {
		if candidate := strings.Trim(token, ",."); looksLikeICD(candidate) {
			set[candidate] = struct{}{}
		}
	}

	for i := 0; i+1 < len(words); i++ {
		if _, ok := durationUnits[words[i+1]]; ok && isDigits(words[i]) {
			set[words[i]+words[i+1]] = struct{}{}
		}
	}

	for _, term := range specialTerms {
		if strings.Contains(lowered, term) {
			set[term] = struct{}{}
		}
	}

	keywords := make([]string, 0, len(set))
	for k := range set {
		keywords = append(keywords, k)
	}
	slices.Sort(keywords)
	return keywords
}

// looksLikeICD matches one uppercase letter, at least two digits and an
// optional ".digits" suffix, e.g. "E78" or "E78.0".
func looksLikeICD(token string) bool {
	runes := []rune(token)
	if len(runes) < 3 || !unicode.IsLetter(runes[0]) || !unicode.IsUpper(runes[0]) {
		return false
	}

	i := 1
	for i < len(runes) && unicode.IsDigit(runes[i]) {
		i++
	}
	if i-1 < 2 {
		return false
	}
	if i == len(runes) {
		return true
	}
	if runes[i] != '.' {
		return false
	}
	return isDigits(string(runes[i+1:]))
}

// tokenizeWords splits text into runs of letters and digits.
func tokenizeWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeCodes splits text keeping '.', '-' and '_' inside tokens.
func tokenizeCodes(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-' && r != '_'
	})
}

// Terms returns the lowercased words of text that are active ingredients.
func Terms(text string) []string {
	return ExtractIngredients(tokenizeWords(lower(text)))
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func toSet(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
