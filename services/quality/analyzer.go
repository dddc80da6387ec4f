package quality

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"journal-desk/errs"
	"journal-desk/models"
)

// Scores sind die berechneten Dimensionen eines Gutachtens, jeweils 0..1.
// Nicht berechnete Dimensionen sind nil.
type Scores struct {
	Thoroughness     *float64
	Constructiveness *float64
	Professionalism  *float64
	Consistency      *float64
	Specificity      *float64
	Flags            []string
}

// Overall mittelt die berechneten Dimensionen.
func (s Scores) Overall() float64 {
	var sum float64
	n := 0
	for _, v := range []*float64{s.Thoroughness, s.Constructiveness, s.Professionalism, s.Consistency, s.Specificity} {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return round(sum / float64(n))
}

// Scorer berechnet die Scores für einen Jobtyp.
type Scorer interface {
	Score(ctx context.Context, jobType models.JobType, review *models.Review) (Scores, error)
}

// Analyzer ist der heuristische Scorer für Gutachtentexte.
type Analyzer struct {
	// WordTarget ist die Wortzahl, ab der ein Gutachten als vollständig gilt.
	WordTarget int
	// MinWords darunter wird too_short gesetzt.
	MinWords int
}

// NewAnalyzer erstellt einen Analyzer mit Standardschwellen.
func NewAnalyzer() *Analyzer {
	return &Analyzer{WordTarget: 400, MinWords: 80}
}

var (
	wordRE      = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}'-]*`)
	sentenceRE  = regexp.MustCompile(`([.!?])\s+([A-Z\p{Lu}])`)
	hyphenRE    = regexp.MustCompile(`(?m)([\p{L}\p{N}])-(?:\r?\n)([\p{Ll}])`)
	spaceRE     = regexp.MustCompile("[\t\f\v \u00A0]+")
	newlinesRE  = regexp.MustCompile(`\n{3,}`)
	specificRE  = regexp.MustCompile(`(?i)\b(?:line|page|p\.|fig\.?|figure|table|tab\.|section|eq\.?|equation|ref\.?|supplement\w*)\s*\d+|\(\d+\)|\d+(?:\.\d+)?\s*%`)
	shoutingRE  = regexp.MustCompile(`\b[A-Z]{5,}\b`)
	multiBangRE = regexp.MustCompile(`[!?]{2,}`)
)

var abbreviations = []string{"et al.", "i.e.", "e.g.", "cf.", "vs.", "etc.", "Dr.", "Prof.", "Fig.", "Tab.", "Eq."}

var suggestionCues = []string{
	"suggest", "recommend", "consider", "could", "should", "would benefit", "clarify", "please",
	"it would be", "might", "encourage", "add", "include", "expand", "revise",
}

var summaryCues = []string{"this manuscript", "this paper", "this study", "the authors", "the manuscript", "the paper", "in summary", "summary"}

var unprofessional = []string{
	"stupid", "idiot", "nonsense", "garbage", "rubbish", "worthless", "ridiculous", "incompetent",
	"waste of time", "laughable", "pathetic", "absurd",
}

var positiveCues = []string{
	"sound", "convincing", "rigorous", "clear", "well written", "well-written", "novel", "important",
	"strong", "compelling", "excellent", "thorough", "robust", "interesting", "valuable",
}

var negativeCues = []string{
	"flawed", "unclear", "insufficient", "weak", "lacking", "missing", "unconvincing", "incorrect",
	"not supported", "fails", "inadequate", "questionable", "limited", "poorly", "major concern",
}

var genericWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "they": true,
	"were": true, "been": true, "have": true, "their": true, "said": true,
	"which": true, "there": true, "would": true, "paper": true, "authors": true,
	"manuscript": true, "study": true, "results": true, "should": true, "could": true,
}

// Score berechnet die Dimensionen des Jobtyps. quick_check bewertet Umfang,
// Struktur und Ton; consistency_analysis prüft Empfehlung gegen Tonalität;
// full_analysis kombiniert beides mit Spezifität und Konstruktivität.
func (a *Analyzer) Score(_ context.Context, jobType models.JobType, review *models.Review) (Scores, error) {
	text := Normalize(review.Body)
	if text == "" {
		return Scores{}, fmt.Errorf("%w: review %d has no text", errs.ErrInvalidInput, review.ID)
	}
	doc := parse(text)

	var s Scores
	switch jobType {
	case models.JobQuickCheck:
		a.quick(doc, &s)
	case models.JobConsistencyAnalysis:
		consistency(doc, review.Recommendation, &s)
	case models.JobFullAnalysis:
		a.quick(doc, &s)
		consistency(doc, review.Recommendation, &s)
		linguistic(doc, &s)
	default:
		return Scores{}, fmt.Errorf("%w: unknown job type %q", errs.ErrInvalidInput, jobType)
	}
	return s, nil
}

type document struct {
	text       string
	lower      string
	words      []string
	sentences  []string
	paragraphs []string
}

func parse(text string) document {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return document{
		text:       text,
		lower:      strings.ToLower(text),
		words:      wordRE.FindAllString(text, -1),
		sentences:  splitSentences(text),
		paragraphs: paragraphs,
	}
}

func (a *Analyzer) quick(doc document, s *Scores) {
	n := len(doc.words)
	thorough := math.Min(1, float64(n)/float64(a.WordTarget))
	if len(doc.paragraphs) >= 3 {
		thorough = math.Min(1, thorough+0.1)
	}
	s.Thoroughness = ptr(round(thorough))
	if n < a.MinWords {
		s.Flags = append(s.Flags, models.FlagTooShort)
	}

	first := strings.ToLower(doc.paragraphs[0])
	if !containsAny(first, summaryCues) {
		s.Flags = append(s.Flags, models.FlagMissingSummary)
	}

	penalty := 0.25*float64(countCues(doc.lower, unprofessional)) +
		0.1*float64(len(shoutingRE.FindAllString(doc.text, -1))) +
		0.1*float64(len(multiBangRE.FindAllString(doc.text, -1)))
	prof := math.Max(0, 1-penalty)
	s.Professionalism = ptr(round(prof))
	if prof < 0.5 {
		s.Flags = append(s.Flags, models.FlagUnprofessional)
	}
}

// expectedTone ordnet jeder Empfehlung die erwartete Tonalität in [-1, 1] zu.
var expectedTone = map[models.Recommendation]float64{
	models.RecommendAccept:        0.6,
	models.RecommendMinorRevision: 0.2,
	models.RecommendMajorRevision: -0.2,
	models.RecommendReject:        -0.6,
}

func consistency(doc document, rec models.Recommendation, s *Scores) {
	pos := countCues(doc.lower, positiveCues)
	neg := countCues(doc.lower, negativeCues)
	tone := 0.0
	if pos+neg > 0 {
		tone = float64(pos-neg) / float64(pos+neg)
	}
	expected, ok := expectedTone[rec]
	if !ok {
		expected = 0
	}
	c := 1 - math.Abs(tone-expected)/1.6
	c = math.Max(0, math.Min(1, c))
	s.Consistency = ptr(round(c))
	if c < 0.5 {
		s.Flags = append(s.Flags, models.FlagInconsistent)
	}
}

func linguistic(doc document, s *Scores) {
	if len(doc.sentences) == 0 {
		s.Specificity = ptr(0)
		s.Constructiveness = ptr(0)
		s.Flags = append(s.Flags, models.FlagVague)
		return
	}
	specific, constructive := 0, 0
	terms := map[string]bool{}
	for _, sentence := range doc.sentences {
		if specificRE.MatchString(sentence) {
			specific++
		}
		if containsAny(strings.ToLower(sentence), suggestionCues) {
			constructive++
		}
		for _, t := range technicalTerms(sentence) {
			terms[t] = true
		}
	}
	total := float64(len(doc.sentences))
	spec := math.Min(1, 0.7*math.Min(1, 2*float64(specific)/total)+0.3*math.Min(1, float64(len(terms))/10))
	s.Specificity = ptr(round(spec))
	s.Constructiveness = ptr(round(math.Min(1, 2*float64(constructive)/total)))
	if spec < 0.3 {
		s.Flags = append(s.Flags, models.FlagVague)
	}
}

// Normalize vereinheitlicht Ligaturen und Unicode-Form, fügt getrennte Wörter
// zusammen und reduziert Leerraum.
func Normalize(s string) string {
	s = strings.NewReplacer("ﬁ", "fi", "ﬂ", "fl", "ﬀ", "ff", "ﬃ", "ffi", "ﬄ", "ffl", "\r\n", "\n").Replace(s)
	s, _, _ = transform.String(norm.NFC, s)
	s = hyphenRE.ReplaceAllString(s, "$1$2")
	s = spaceRE.ReplaceAllString(s, " ")
	s = newlinesRE.ReplaceAllString(s, "\n\n")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// splitSentences trennt an Satzzeichen vor Großbuchstaben und schützt
// gängige Abkürzungen.
func splitSentences(text string) []string {
	protected := text
	for i, abbr := range abbreviations {
		protected = strings.ReplaceAll(protected, abbr, fmt.Sprintf("__ABBR_%d__", i))
	}
	protected = strings.ReplaceAll(protected, "\n", " ")

	var sentences []string
	last := 0
	for _, m := range sentenceRE.FindAllStringSubmatchIndex(protected, -1) {
		sentences = append(sentences, protected[last:m[3]])
		last = m[4]
	}
	sentences = append(sentences, protected[last:])

	out := sentences[:0]
	for _, sentence := range sentences {
		for i, abbr := range abbreviations {
			sentence = strings.ReplaceAll(sentence, fmt.Sprintf("__ABBR_%d__", i), abbr)
		}
		sentence = strings.TrimSpace(sentence)
		if len(sentence) > 10 {
			out = append(out, sentence)
		}
	}
	return out
}

// technicalTerms liefert fachlich wirkende Wörter eines Satzes.
func technicalTerms(sentence string) []string {
	var out []string
	for _, w := range wordRE.FindAllString(sentence, -1) {
		lw := strings.ToLower(w)
		if len([]rune(lw)) <= 4 || genericWords[lw] {
			continue
		}
		if isTechnical(w) {
			out = append(out, lw)
		}
	}
	return out
}

func isTechnical(word string) bool {
	lw := strings.ToLower(word)
	for _, suffix := range []string{"tion", "ism", "ment", "ity", "ogy", "ics", "ine", "ase", "ose", "sis"} {
		if strings.HasSuffix(lw, suffix) {
			return true
		}
	}
	for _, prefix := range []string{"anti", "inter", "intra", "trans", "multi", "micro"} {
		if strings.HasPrefix(lw, prefix) {
			return true
		}
	}
	for i, r := range word {
		if i > 0 && (unicode.IsUpper(r) || unicode.IsDigit(r)) {
			return true
		}
	}
	return false
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func countCues(s string, cues []string) int {
	n := 0
	for _, c := range cues {
		n += strings.Count(s, c)
	}
	return n
}

func ptr(v float64) *float64 { return &v }

func round(v float64) float64 { return math.Round(v*1000) / 1000 }
