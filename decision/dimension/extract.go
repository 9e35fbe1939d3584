package dimension

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"roadsafety-cost/pkg/units"
)

// Plausibility bounds for extracted values.
const (
	MaxLength         = 10000.0  // m, observation text
	MaxChainageLength = 100000.0 // m
	MaxArea           = 10000.0  // sqm
	MaxDepthMM        = 1000.0
	MaxWidth          = 100.0 // m
	MaxCount          = 10000
)

const num = `(\d+(?:\.\d+)?)`

var (
	metreUnit = `(?:m|mtrs?|meters?|metres?)\b`
	approx    = `(?:about|approx(?:\.|imately)?|around|nearly|~)\s*`

	lengthPatterns = []*regexp.Regexp{
		regexp.MustCompile(`for\s+` + approx + num + `\s*` + metreUnit),
		regexp.MustCompile(approx + num + `\s*` + metreUnit),
		regexp.MustCompile(num + `\s*` + metreUnit),
	}
	// A length match immediately followed by one of these is some other
	// dimension.
	notLengthSuffix = regexp.MustCompile(`^\s*(?:width|wide|depth|deep|high|height|thick|per\b|/\s*lane|each\s+lane|x\b)`)

	chainageToken = regexp.MustCompile(`\d+\s*\+\s*\d+(?:\.\d+)?`)
	chainageRange = regexp.MustCompile(`(\d+)\s*\+\s*(\d+(?:\.\d+)?)\s*(?:to|upto|up\s+to|-|–|—)\s*(\d+)\s*\+\s*(\d+(?:\.\d+)?)`)

	areaPattern  = regexp.MustCompile(num + `\s*(?:sqm|sq\.?\s*mt?s?\b|m2\b|square\s+met(?:er|re)s?)`)
	eachSuffix   = regexp.MustCompile(`^\s*(?:each|per\s+(?:pothole|patch|location))`)
	patchesCount = regexp.MustCompile(`\b(\d+|` + numberWords + `)\s*(?:nos\.?\s*)?(?:of\s+)?(?:potholes?|patch(?:es)?|locations?|spots?)\b`)

	depthPatterns = []*regexp.Regexp{
		regexp.MustCompile(num + `\s*mm\s*(?:depth|deep|thick)`),
		regexp.MustCompile(`(?:depth|deep)\s*(?:of\s*)?` + `(?:about\s*|approx\.?\s*|~\s*)?` + num + `\s*mm`),
	}

	widthPatterns = []*regexp.Regexp{
		regexp.MustCompile(num + `\s*(?:m|mtrs?|meters?|metres?)\s*(?:width|wide)\b`),
		regexp.MustCompile(`width\s*(?:of\s*)?(?:about\s*|approx\.?\s*|~\s*)?` + num + `\s*` + metreUnit),
	}

	perLaneWidth = regexp.MustCompile(num + `\s*(?:m|mtrs?|meters?|metres?)\s*(?:per|/|each)\s*lane`)
	laneCount    = regexp.MustCompile(`\b(\d+|` + numberWords + `)\s*(?:-\s*)?lanes?\b`)
)

const numberWords = `one|two|three|four|five|six|seven|eight|nine|ten`

var wordValues = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// fold lower-cases and NFKC-normalizes text so that "m²" reads as "m2".
func fold(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func parseCount(s string) (int, bool) {
	if v, ok := wordValues[s]; ok {
		return v, true
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

// ExtractLength reads a length in metres from observation text. Chainage
// tokens are removed first so that "10+900" never reads as 900 m.
func ExtractLength(observation string) (float64, bool) {
	text := chainageToken.ReplaceAllString(fold(observation), " ")
	for _, re := range lengthPatterns {
		for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
			if notLengthSuffix.MatchString(text[idx[1]:]) {
				continue
			}
			v, ok := parseFloat(text[idx[2]:idx[3]])
			if ok && v > 0 && v < MaxLength {
				return v, true
			}
		}
	}
	return 0, false
}

// ExtractChainageLength reads "A+B to C+D" and returns |end - start| in metres.
func ExtractChainageLength(chainage string) (float64, bool) {
	m := chainageRange.FindStringSubmatch(fold(chainage))
	if m == nil {
		return 0, false
	}
	vals := make([]float64, 4)
	for i := range vals {
		v, ok := parseFloat(m[i+1])
		if !ok {
			return 0, false
		}
		vals[i] = v
	}
	start := units.ChainageToMetres(vals[0], vals[1])
	end := units.ChainageToMetres(vals[2], vals[3])
	l := end - start
	if l < 0 {
		l = -l
	}
	if l <= 0 || l >= MaxChainageLength {
		return 0, false
	}
	return l, true
}

// ExtractArea reads an area in sqm. "N potholes ... X sqm each" yields N×X.
func ExtractArea(text string) (float64, bool) {
	t := fold(text)
	idx := areaPattern.FindStringSubmatchIndex(t)
	if idx == nil {
		return 0, false
	}
	v, ok := parseFloat(t[idx[2]:idx[3]])
	if !ok {
		return 0, false
	}
	if eachSuffix.MatchString(t[idx[1]:]) {
		if m := patchesCount.FindStringSubmatch(t); m != nil {
			if n, ok := parseCount(m[1]); ok && n > 0 {
				v *= float64(n)
			}
		}
	}
	if v <= 0 || v >= MaxArea {
		return 0, false
	}
	return v, true
}

// ExtractDepth reads a depth given in millimetres and returns metres.
func ExtractDepth(text string) (float64, bool) {
	t := fold(text)
	for _, re := range depthPatterns {
		m := re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		mm, ok := parseFloat(m[1])
		if ok && mm > 0 && mm < MaxDepthMM {
			return units.MMToMetres(mm), true
		}
	}
	return 0, false
}

// ExtractWidth reads a width in metres.
func ExtractWidth(text string) (float64, bool) {
	t := fold(text)
	for _, re := range widthPatterns {
		m := re.FindStringSubmatch(t)
		if m == nil {
			continue
		}
		w, ok := parseFloat(m[1])
		if ok && w > 0 && w < MaxWidth {
			return w, true
		}
	}
	return 0, false
}

// ExtractLaneWidth reads "W m per lane ... N lanes" and returns W×N.
func ExtractLaneWidth(text string) (float64, bool) {
	t := fold(text)
	wm := perLaneWidth.FindStringSubmatch(t)
	if wm == nil {
		return 0, false
	}
	w, ok := parseFloat(wm[1])
	if !ok || w <= 0 {
		return 0, false
	}
	lm := laneCount.FindStringSubmatch(t)
	if lm == nil {
		return 0, false
	}
	n, ok := parseCount(lm[1])
	if !ok || n <= 0 {
		return 0, false
	}
	total := w * float64(n)
	if total >= MaxWidth {
		return 0, false
	}
	return total, true
}

// ExtractCount reads "N <noun>" for any of the given nouns (singular
// stems; an optional plural suffix is accepted).
func ExtractCount(text string, nouns ...string) (int, bool) {
	if len(nouns) == 0 {
		return 0, false
	}
	quoted := make([]string, len(nouns))
	for i, n := range nouns {
		quoted[i] = regexp.QuoteMeta(n)
	}
	re := regexp.MustCompile(`\b(\d+|` + numberWords + `)\s*(?:nos\.?\s*)?(?:of\s+)?(?:` +
		strings.Join(quoted, "|") + `)(?:s|es)?\b`)
	m := re.FindStringSubmatch(fold(text))
	if m == nil {
		return 0, false
	}
	n, ok := parseCount(m[1])
	if !ok || n <= 0 || n >= MaxCount {
		return 0, false
	}
	return n, true
}
