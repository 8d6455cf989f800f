package order

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// LineItem is one extracted food item, in order of mention.
type LineItem struct {
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	Texture      string `json:"texture,omitempty"`
	OriginalSpan string `json:"original_span,omitempty"`
}

// StructuredOrder is the extractor's output prior to routing fields being
// attached. RawTranscript is always retained verbatim for audit.
type StructuredOrder struct {
	Items         []LineItem `json:"items"`
	DietaryNotes  []string   `json:"dietary_notes,omitempty"`
	TableNumber   int        `json:"table_number,omitempty"`
	ResidentHint  string     `json:"resident_hint,omitempty"`
	RawTranscript string     `json:"raw_transcript"`
	// Unparseable is set when no line item could be extracted; callers
	// should ask the speaker to repeat rather than create an empty order.
	Unparseable bool `json:"unparseable,omitempty"`
}

// ResidentProfile carries a known diner's recorded preferences for the
// optional context-merge stage.
type ResidentProfile struct {
	ID                  string   `json:"id"`
	Name                string   `json:"name"`
	DietaryRestrictions []string `json:"dietary_restrictions,omitempty"`
	TexturePreferences  []string `json:"texture_preferences,omitempty"`
}

type vocabTerm struct {
	term string
	re   *regexp.Regexp
}

// Extractor turns a final transcript into a StructuredOrder through a fixed
// stage order: shorthand translation, small-talk filtering, table extraction
// (on the raw text), item/quantity extraction, dietary extraction, and an
// optional resident-context merge. All tables are compiled once at
// construction; Extract is stateless and safe for concurrent use.
type Extractor struct {
	shorthand []shorthandRule
	smallTalk []*regexp.Regexp
	modifiers []*regexp.Regexp
	foods     []vocabTerm
	textures  []vocabTerm
	dietary   []vocabTerm

	qtyRe      *regexp.Regexp
	tableRe    *regexp.Regexp
	residentRe *regexp.Regexp
	noRe       *regexp.Regexp
	wsRe       *regexp.Regexp
}

type shorthandRule struct {
	re *regexp.Regexp
	to string
}

var quantityWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

func NewExtractor(vocab Vocabulary) (*Extractor, error) {
	vocab = vocab.merged()
	e := &Extractor{
		qtyRe:      regexp.MustCompile(`\b([0-9]+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\b`),
		tableRe:    regexp.MustCompile(`(?i)\btable\s+(?:number\s+)?([0-9]+)\b`),
		residentRe: regexp.MustCompile(`(?i)\bfor\s+((?:mr|mrs|ms|dr|miss)\.?\s+[a-z]+)\b`),
		noRe:       regexp.MustCompile(`\bno\s+([a-z]+)\b`),
		wsRe:       regexp.MustCompile(`\s+`),
	}

	// Longer shorthand first so overlapping entries replace deterministically.
	keys := make([]string, 0, len(vocab.Shorthand))
	for k := range vocab.Shorthand {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(k) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("shorthand %q: %w", k, err)
		}
		e.shorthand = append(e.shorthand, shorthandRule{re: re, to: vocab.Shorthand[k]})
	}

	for _, pattern := range vocab.SmallTalk {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("small-talk pattern %q: %w", pattern, err)
		}
		e.smallTalk = append(e.smallTalk, re)
	}
	for _, pattern := range vocab.Modifiers {
		re, err := regexp.Compile(`(?i)` + pattern)
		if err != nil {
			return nil, fmt.Errorf("modifier pattern %q: %w", pattern, err)
		}
		e.modifiers = append(e.modifiers, re)
	}

	var err error
	if e.foods, err = compileTerms(vocab.Foods); err != nil {
		return nil, err
	}
	if e.textures, err = compileTerms(vocab.Textures); err != nil {
		return nil, err
	}
	if e.dietary, err = compileTerms(vocab.DietaryPhrases); err != nil {
		return nil, err
	}
	return e, nil
}

func compileTerms(terms []string) ([]vocabTerm, error) {
	sorted := append([]string(nil), terms...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) > len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})
	out := make([]vocabTerm, 0, len(sorted))
	for _, term := range sorted {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(term) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("vocabulary term %q: %w", term, err)
		}
		out = append(out, vocabTerm{term: term, re: re})
	}
	return out, nil
}

// Extract runs the pipeline without resident context.
func (e *Extractor) Extract(transcript string) StructuredOrder {
	return e.ExtractWithResident(transcript, nil)
}

// ExtractWithResident runs the full pipeline. The resident profile, when
// present, contributes recorded restrictions and a default texture.
func (e *Extractor) ExtractWithResident(transcript string, resident *ResidentProfile) StructuredOrder {
	so := StructuredOrder{RawTranscript: transcript}

	// Table and resident context come from the raw text: the small-talk
	// filter strips their framing phrases.
	if m := e.tableRe.FindStringSubmatch(transcript); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			so.TableNumber = n
		}
	}
	if m := e.residentRe.FindStringSubmatch(transcript); m != nil {
		so.ResidentHint = titleCase(m[1])
	}

	text := e.expandShorthand(strings.ToLower(transcript))
	filtered := e.stripSmallTalk(text)

	var notes []string
	so.Items, notes = e.extractItems(filtered)
	notes = append(notes, e.extractDietary(filtered)...)
	so.DietaryNotes = dedupeNotes(notes)

	if resident != nil {
		e.mergeResident(&so, resident)
	}

	if len(so.Items) == 0 {
		so.Unparseable = true
	}
	return so
}

func (e *Extractor) expandShorthand(text string) string {
	for _, rule := range e.shorthand {
		text = rule.re.ReplaceAllString(text, rule.to)
	}
	return text
}

// stripSmallTalk removes filler phrases and collapses whitespace. Running it
// on already-filtered text is a no-op.
func (e *Extractor) stripSmallTalk(text string) string {
	for _, re := range e.smallTalk {
		text = re.ReplaceAllString(text, " ")
	}
	return strings.TrimSpace(e.wsRe.ReplaceAllString(text, " "))
}

// extractItems scans for <quantity> <food-phrase> spans. When the text has
// no quantity at all, a lone known food term still yields a single item so
// short orders ("chicken no salt") are not lost.
func (e *Extractor) extractItems(text string) ([]LineItem, []string) {
	var items []LineItem

	matches := e.qtyRe.FindAllStringSubmatchIndex(text, -1)
	for i, m := range matches {
		qty := parseQuantity(text[m[2]:m[3]])
		spanStart := m[1]
		spanEnd := len(text)
		if i+1 < len(matches) {
			spanEnd = matches[i+1][0]
		}
		span := text[spanStart:spanEnd]
		if cut := strings.IndexAny(span, ".;!?"); cut >= 0 {
			span = span[:cut]
		}
		span = strings.TrimSpace(strings.Trim(span, " ,"))
		if span == "" {
			continue
		}

		item, ok := e.itemFromSpan(span, qty)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	if len(items) == 0 {
		// Fallback single-item heuristic: any known food term, quantity 1.
		if term, pos := earliestTerm(e.foods, text); pos >= 0 {
			item := LineItem{Name: titleCase(term), Quantity: 1, OriginalSpan: term}
			if tex, tpos := earliestTerm(e.textures, text); tpos >= 0 {
				item.Texture = tex
			}
			items = append(items, item)
		}
	}

	return items, e.extractModifiers(text)
}

func (e *Extractor) itemFromSpan(span string, qty int) (LineItem, bool) {
	item := LineItem{Quantity: qty, OriginalSpan: span}

	if tex, pos := earliestTerm(e.textures, span); pos >= 0 {
		item.Texture = tex
	}

	if food, pos := earliestTerm(e.foods, span); pos >= 0 {
		item.Name = titleCase(food)
		return item, true
	}

	// Unrecognized food: keep a best-effort name rather than dropping the
	// span, so nothing the speaker asked for is silently lost.
	name := bestEffortName(span, item.Texture)
	if name == "" {
		return LineItem{}, false
	}
	item.Name = titleCase(name)
	return item, true
}

func (e *Extractor) extractModifiers(text string) []string {
	var notes []string
	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	for _, re := range e.modifiers {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, hit{pos: loc[0], text: text[loc[0]:loc[1]]})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].text < hits[j].text
	})
	for _, h := range hits {
		notes = append(notes, h.text)
	}
	return notes
}

func (e *Extractor) extractDietary(text string) []string {
	type hit struct {
		pos  int
		text string
	}
	var hits []hit
	for _, term := range e.dietary {
		if loc := term.re.FindStringIndex(text); loc != nil {
			hits = append(hits, hit{pos: loc[0], text: term.term})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].pos != hits[j].pos {
			return hits[i].pos < hits[j].pos
		}
		return hits[i].text < hits[j].text
	})
	var notes []string
	for _, h := range hits {
		notes = append(notes, h.text)
	}
	// Generic "no <word>" pattern for restrictions outside the vocabulary.
	for _, m := range e.noRe.FindAllStringSubmatch(text, -1) {
		notes = append(notes, "no "+m[1])
	}
	return notes
}

func (e *Extractor) mergeResident(so *StructuredOrder, resident *ResidentProfile) {
	seen := make(map[string]bool, len(so.DietaryNotes))
	for _, note := range so.DietaryNotes {
		seen[strings.ToLower(note)] = true
	}
	for _, r := range resident.DietaryRestrictions {
		key := strings.ToLower(strings.TrimSpace(r))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		so.DietaryNotes = append(so.DietaryNotes, key)
	}
	if len(resident.TexturePreferences) > 0 {
		pref := strings.ToLower(strings.TrimSpace(resident.TexturePreferences[0]))
		for i := range so.Items {
			if so.Items[i].Texture == "" {
				so.Items[i].Texture = pref
			}
		}
	}
	if so.ResidentHint == "" && resident.Name != "" {
		so.ResidentHint = resident.Name
	}
}

func parseQuantity(token string) int {
	if n, ok := quantityWords[token]; ok {
		return n
	}
	if n, err := strconv.Atoi(token); err == nil && n >= 1 {
		return n
	}
	return 1
}

// earliestTerm returns the term matching earliest in text; ties go to the
// longer term because terms are pre-sorted longest-first.
func earliestTerm(terms []vocabTerm, text string) (string, int) {
	best := -1
	var bestTerm string
	for _, t := range terms {
		loc := t.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
			bestTerm = t.term
		}
	}
	return bestTerm, best
}

var spanStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "with": true,
	"and": true, "hold": true, "on": true, "side": true, "more": true,
	"orders": true, "order": true,
}

// bestEffortName builds an item name from an unrecognized span: up to four
// leading words minus articles, connectives, and the already-captured texture.
func bestEffortName(span, texture string) string {
	if texture != "" {
		span = strings.ReplaceAll(span, texture, " ")
	}
	var words []string
	for _, w := range strings.Fields(span) {
		w = strings.Trim(w, ",.;:!?")
		if w == "" {
			continue
		}
		if spanStopWords[w] {
			if len(words) > 0 {
				break
			}
			continue
		}
		words = append(words, w)
		if len(words) == 4 {
			break
		}
	}
	return strings.Join(words, " ")
}

func dedupeNotes(notes []string) []string {
	seen := make(map[string]bool, len(notes))
	var out []string
	for _, note := range notes {
		key := strings.ToLower(strings.TrimSpace(note))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
