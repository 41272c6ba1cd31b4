package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DateLayout is how parsed dates are rendered in results
const DateLayout = "2006-01-02"

var fallbackDateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"02/01/06",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var italianMonths = strings.NewReplacer(
	"gennaio", "January",
	"febbraio", "February",
	"marzo", "March",
	"aprile", "April",
	"maggio", "May",
	"giugno", "June",
	"luglio", "July",
	"agosto", "August",
	"settembre", "September",
	"ottobre", "October",
	"novembre", "November",
	"dicembre", "December",
)

var strftime = strings.NewReplacer(
	"%d", "02",
	"%-d", "2",
	"%m", "01",
	"%-m", "1",
	"%Y", "2006",
	"%y", "06",
	"%B", "January",
	"%b", "Jan",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%%", "%",
)

var (
	spaceRun      = regexp.MustCompile(`[ \t\x{00a0}]+`)
	allWhitespace = regexp.MustCompile(`[ \t\x{00a0}]`)
	notNumeric    = regexp.MustCompile(`[^0-9.,\-]`)
)

// prepare applies the template's text options before matching
func prepare(text string, o Options) string {
	if o.RemoveWhitespace {
		text = allWhitespace.ReplaceAllString(text, "")
	}
	if o.RemoveAccents {
		text = removeAccents(text)
	}
	if o.Lowercase {
		text = strings.ToLower(text)
	}
	for _, pair := range o.Replace {
		re, err := regexp.Compile(pair[0])
		if err != nil {
			text = strings.ReplaceAll(text, pair[0], pair[1])
			continue
		}
		text = re.ReplaceAllString(text, pair[1])
	}
	return text
}

func removeAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// ParseAmount reads a number written with the given decimal separator.
// Currency symbols and spaces around the digits are ignored.
func ParseAmount(raw, decimalSeparator string) (float64, error) {
	s := notNumeric.ReplaceAllString(strings.TrimSpace(raw), "")
	if s == "" {
		return 0, fmt.Errorf("no digits in %q", raw)
	}

	switch decimalSeparator {
	case ",":
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return v, nil
}

// ParseDate tries the template's strftime formats, then common layouts
func ParseDate(raw string, formats []string, languages []string) (time.Time, error) {
	s := strings.TrimSpace(spaceRun.ReplaceAllString(raw, " "))
	for _, lang := range languages {
		if strings.HasPrefix(strings.ToLower(lang), "it") {
			s = italianMonths.Replace(strings.ToLower(s))
			break
		}
	}

	layouts := make([]string, 0, len(formats)+len(fallbackDateLayouts))
	for _, f := range formats {
		layouts = append(layouts, strftime.Replace(f))
	}
	layouts = append(layouts, fallbackDateLayouts...)

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
		// time.Parse is case sensitive on month names
		if t, err := time.Parse(layout, titleMonths(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func titleMonths(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// coerce converts a matched string according to the field name or an
// explicit type: amount* and float become numbers, date* becomes a date.
func coerce(key, fieldType, raw string, o Options) (any, error) {
	raw = strings.TrimSpace(raw)

	switch {
	case fieldType == "int":
		v, err := ParseAmount(raw, o.DecimalSeparator)
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case fieldType == "float", fieldType == "" && strings.HasPrefix(key, "amount"):
		return ParseAmount(raw, o.DecimalSeparator)
	case fieldType == "date", fieldType == "" && strings.HasPrefix(key, "date"):
		t, err := ParseDate(raw, o.DateFormats, o.Languages)
		if err != nil {
			return nil, err
		}
		return t.Format(DateLayout), nil
	}
	return raw, nil
}
