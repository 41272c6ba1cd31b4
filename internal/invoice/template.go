// Package invoice matches text against YAML invoice templates and pulls out
// structured fields. The template format follows invoice2data, so existing
// template collections can be dropped into the templates directory.
package invoice

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fields every template must produce unless it overrides required_fields
var defaultRequiredFields = []string{"date", "amount", "invoice_number", "issuer"}

// Template describes how to recognise one issuer's invoices
type Template struct {
	Name            string           `yaml:"-" json:"name"`
	Issuer          string           `yaml:"issuer" json:"issuer"`
	Keywords        StringList       `yaml:"keywords" json:"keywords"`
	ExcludeKeywords StringList       `yaml:"exclude_keywords" json:"exclude_keywords,omitempty"`
	Fields          map[string]Field `yaml:"fields" json:"-"`
	Options         Options          `yaml:"options" json:"-"`
	RequiredFields  []string         `yaml:"required_fields" json:"-"`
	Priority        int              `yaml:"priority" json:"priority"`
	Lines           *LinesSpec       `yaml:"lines" json:"-"`

	keywords        []*regexp.Regexp
	excludeKeywords []*regexp.Regexp
}

// Options tweak how text is prepared and values are parsed
type Options struct {
	Currency         string     `yaml:"currency"`
	Languages        StringList `yaml:"languages"`
	DecimalSeparator string     `yaml:"decimal_separator"`
	DateFormats      StringList `yaml:"date_formats"`
	RemoveWhitespace bool       `yaml:"remove_whitespace"`
	RemoveAccents    bool       `yaml:"remove_accents"`
	Lowercase        bool       `yaml:"lowercase"`
	Replace          [][]string `yaml:"replace"`
}

// Field is either a bare regex or a parser block
type Field struct {
	Parser string     `yaml:"parser"`
	Regex  StringList `yaml:"regex"`
	Value  any        `yaml:"value"`
	Type   string     `yaml:"type"`

	compiled []*regexp.Regexp
}

// LinesSpec extracts repeated line items between a start and end marker.
// Named groups in Line become keys of each item.
type LinesSpec struct {
	Start    string            `yaml:"start"`
	End      string            `yaml:"end"`
	Line     string            `yaml:"line"`
	SkipLine StringList        `yaml:"skip_line"`
	Types    map[string]string `yaml:"types"`

	start, end, line *regexp.Regexp
	skip             []*regexp.Regexp
}

// StringList accepts a scalar or a sequence in YAML
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = StringList{v}
		return nil
	case yaml.SequenceNode:
		var v []string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*s = v
		return nil
	}
	return fmt.Errorf("line %d: expected string or list", node.Line)
}

func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		*f = Field{Parser: "regex", Regex: StringList{v}}
		return nil
	}

	type plain Field
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*f = Field(p)
	if f.Parser == "" {
		if f.Value != nil && len(f.Regex) == 0 {
			f.Parser = "static"
		} else {
			f.Parser = "regex"
		}
	}
	return nil
}

// ParseTemplate decodes and compiles one template file
func ParseTemplate(name string, data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	t.Name = name

	if err := t.compile(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &t, nil
}

func (t *Template) compile() error {
	if strings.TrimSpace(t.Issuer) == "" {
		return fmt.Errorf("issuer is required")
	}
	if len(t.Keywords) == 0 {
		return fmt.Errorf("at least one keyword is required")
	}

	t.Options.applyDefaults()
	for i, pair := range t.Options.Replace {
		if len(pair) != 2 {
			return fmt.Errorf("options.replace[%d]: expected a [from, to] pair", i)
		}
	}
	if len(t.RequiredFields) == 0 {
		t.RequiredFields = defaultRequiredFields
	}

	var err error
	if t.keywords, err = compileAll(t.Keywords); err != nil {
		return fmt.Errorf("keywords: %w", err)
	}
	if t.excludeKeywords, err = compileAll(t.ExcludeKeywords); err != nil {
		return fmt.Errorf("exclude_keywords: %w", err)
	}

	for key, field := range t.Fields {
		switch field.Parser {
		case "regex":
			if len(field.Regex) == 0 {
				return fmt.Errorf("field %s: regex is required", key)
			}
			if field.compiled, err = compileAll(field.Regex); err != nil {
				return fmt.Errorf("field %s: %w", key, err)
			}
		case "static":
			if field.Value == nil {
				return fmt.Errorf("field %s: value is required", key)
			}
		default:
			return fmt.Errorf("field %s: unknown parser %q", key, field.Parser)
		}
		t.Fields[key] = field
	}

	if t.Lines != nil {
		if err := t.Lines.compile(); err != nil {
			return fmt.Errorf("lines: %w", err)
		}
	}

	return nil
}

func (l *LinesSpec) compile() error {
	if l.Start == "" || l.End == "" || l.Line == "" {
		return fmt.Errorf("start, end and line are required")
	}

	var err error
	if l.start, err = regexp.Compile(l.Start); err != nil {
		return err
	}
	if l.end, err = regexp.Compile(l.End); err != nil {
		return err
	}
	if l.line, err = regexp.Compile(l.Line); err != nil {
		return err
	}
	l.skip, err = compileAll(l.SkipLine)
	return err
}

func (o *Options) applyDefaults() {
	if o.Currency == "" {
		o.Currency = "EUR"
	}
	if o.DecimalSeparator == "" {
		o.DecimalSeparator = "."
	}
	if len(o.Languages) == 0 {
		o.Languages = StringList{"it"}
	}
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
