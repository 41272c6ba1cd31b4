package invoice

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Result is one extracted invoice record. Keys are the template's field
// names plus issuer, currency and desc.
type Result map[string]any

// Matches reports whether every keyword and no exclude keyword is found
func (t *Template) Matches(text string) bool {
	prepared := prepare(text, t.Options)
	return t.matchesPrepared(prepared)
}

func (t *Template) matchesPrepared(prepared string) bool {
	for _, re := range t.keywords {
		if !re.MatchString(prepared) {
			return false
		}
	}
	for _, re := range t.excludeKeywords {
		if re.MatchString(prepared) {
			return false
		}
	}
	return true
}

// Extract pulls the template's fields out of text. It returns an error
// naming the missing required fields when the record is incomplete.
func (t *Template) Extract(text string) (Result, error) {
	prepared := prepare(text, t.Options)

	out := Result{}
	for key, field := range t.Fields {
		switch field.Parser {
		case "static":
			out[key] = field.Value
		case "regex":
			if v, ok := t.extractRegex(key, field, prepared); ok {
				out[key] = v
			}
		}
	}

	if t.Lines != nil {
		if items := t.Lines.extract(prepared, t.Options); len(items) > 0 {
			out["lines"] = items
		}
	}

	out["issuer"] = t.Issuer
	if _, ok := out["currency"]; !ok {
		out["currency"] = t.Options.Currency
	}
	out["desc"] = "Invoice from " + t.Issuer

	var missing []string
	for _, req := range t.RequiredFields {
		if _, ok := out[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("template %s: missing required fields: %s", t.Name, strings.Join(missing, ", "))
	}

	return out, nil
}

// extractRegex collects every match of every pattern, coerces and
// de-duplicates them. A single distinct value is returned as a scalar.
func (t *Template) extractRegex(key string, field Field, text string) (any, bool) {
	var values []any
	seen := make(map[string]bool)

	for _, re := range field.compiled {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			raw := m[0]
			if len(m) > 1 {
				raw = m[1]
			}
			v, err := coerce(key, field.Type, raw, t.Options)
			if err != nil {
				continue
			}
			k := fmt.Sprint(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			values = append(values, v)
		}
	}

	switch len(values) {
	case 0:
		return nil, false
	case 1:
		return values[0], true
	default:
		return values, true
	}
}

func (l *LinesSpec) extract(text string, o Options) []map[string]any {
	startLoc := l.start.FindStringIndex(text)
	if startLoc == nil {
		return nil
	}
	body := text[startLoc[1]:]
	if endLoc := l.end.FindStringIndex(body); endLoc != nil {
		body = body[:endLoc[0]]
	}

	names := l.line.SubexpNames()
	var items []map[string]any
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || matchesAny(l.skip, line) {
			continue
		}

		m := l.line.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		item := make(map[string]any)
		for i, name := range names {
			if i == 0 || name == "" {
				continue
			}
			raw := strings.TrimSpace(m[i])
			if typ, ok := l.Types[name]; ok {
				v, err := coerce(name, typ, raw, o)
				if err != nil {
					continue
				}
				item[name] = v
			} else {
				item[name] = raw
			}
		}
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
