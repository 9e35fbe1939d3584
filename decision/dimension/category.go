package dimension

import (
	"strings"

	"roadsafety-cost/pkg/api"
)

// categoryKeywords is checked in order; the first category with a keyword
// present in the section name or recommendation wins. Specific categories
// precede the generic sign and marking ones ("chevron sign", "zebra
// crossing marking", "road studs on edge line").
var categoryKeywords = []struct {
	category api.Category
	keywords []string
}{
	{api.CategoryPothole, []string{"pothole", "patch repair", "patching", "pot hole"}},
	{api.CategoryCrossing, []string{"zebra", "pedestrian crossing", "crosswalk", "crossing marking"}},
	{api.CategoryStuds, []string{"road stud", "studs", "cat eye", "cat's eye", "raised pavement marker", "rpm"}},
	{api.CategoryGuardrail, []string{"crash barrier", "guardrail", "guard rail", "w-beam", "metal beam", "safety barrier"}},
	{api.CategoryChevron, []string{"chevron"}},
	{api.CategorySpeedHump, []string{"speed hump", "speed breaker", "hump", "speed table"}},
	{api.CategoryFootpath, []string{"footpath", "sidewalk", "foot path", "walkway", "pedestrian path"}},
	{api.CategoryDrainage, []string{"drain", "culvert", "waterlogging", "water logging"}},
	{api.CategorySign, []string{"sign", "signage", "sign board", "signboard"}},
	{api.CategoryMarking, []string{"marking", "edge line", "centre line", "center line", "lane line", "thermoplastic", "road paint", "stop line"}},
}

// Classify infers the intervention category from the section name and the
// recommendation text. It is computed once per intervention.
func Classify(sectionName, recommendation string) api.Category {
	text := fold(sectionName + " " + recommendation)
	for _, ck := range categoryKeywords {
		for _, kw := range ck.keywords {
			if containsWord(text, kw) {
				return ck.category
			}
		}
	}
	return api.CategoryUnknown
}

// containsWord matches kw at a word start so that "rpm" does not hit
// inside an unrelated token.
func containsWord(text, kw string) bool {
	for i := 0; ; {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		at := i + j
		if at == 0 || !isWordByte(text[at-1]) {
			return true
		}
		i = at + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
