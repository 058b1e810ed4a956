package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"dealer_scraper/models"
)

var (
	titleYearRe  = regexp.MustCompile(`^\s*(\d{4})\b`)
	titleMakeRe  = regexp.MustCompile(`(?i)\d{4}\s+(BMW|Mercedes-Benz|Audi|Lexus)\b`)
	titleModelRe = regexp.MustCompile(`\b([A-Za-z]\d+[A-Za-z]*|\d+[A-Za-z]+\w*)\b`)
)

// TitleParts is what DecomposeTitle could recover from a free-form title.
// Make and Model carry defaults when nothing matched; the Matched flags tell
// callers whether the value came from the title itself.
type TitleParts struct {
	Year         *int
	Make         string
	Model        string
	Trim         *string
	MakeMatched  bool
	ModelMatched bool
}

// DecomposeTitle splits a title like "2024 BMW X3 M40i" into its parts.
func DecomposeTitle(title string) TitleParts {
	parts := TitleParts{Make: models.DefaultMake, Model: models.DefaultModel}
	rest := title

	if m := titleYearRe.FindStringSubmatch(title); m != nil {
		if y, err := strconv.Atoi(m[1]); err == nil {
			if year, ok := Year(y); ok {
				parts.Year = &year
			}
		}
		rest = strings.Replace(rest, m[1], "", 1)
	}

	if m := titleMakeRe.FindStringSubmatch(title); m != nil {
		parts.Make = m[1]
		parts.MakeMatched = true
		rest = strings.Replace(rest, m[1], "", 1)
	}

	if m := titleModelRe.FindStringSubmatch(rest); m != nil {
		parts.Model = m[1]
		parts.ModelMatched = true
		rest = strings.Replace(rest, m[1], "", 1)
	}

	if trim := strings.Join(strings.Fields(rest), " "); trim != "" {
		parts.Trim = &trim
	}
	return parts
}
