package executor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Rorqualx/pagemill/internal/rules"
	"github.com/Rorqualx/pagemill/internal/types"
)

// extract resolves an extract payload against the rendered document. An
// inline selector takes precedence over a named profile.
func (b *Browser) extract(rawHTML string, p types.ExtractPayload) (map[string]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, err
	}

	if p.Selector != "" {
		value := readField(doc, rules.Field{Selector: p.Selector, Attribute: p.Attribute})
		return map[string]string{"value": value}, nil
	}

	if b.rules == nil {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownProfile, p.Profile)
	}
	profile, ok := b.rules.Lookup(p.Profile)
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownProfile, p.Profile)
	}

	fields := make(map[string]string, len(profile.Fields))
	for name, field := range profile.Fields {
		fields[name] = readField(doc, field)
	}
	return fields, nil
}

// readField evaluates one field rule. Missing elements yield an empty string
// rather than an error; callers can tell absence from presence that way.
func readField(doc *goquery.Document, f rules.Field) string {
	sel := doc.Find(f.Selector)
	if sel.Length() == 0 {
		return ""
	}

	read := func(s *goquery.Selection) string {
		if f.Attribute != "" {
			v, _ := s.Attr(f.Attribute)
			return strings.TrimSpace(v)
		}
		return strings.TrimSpace(s.Text())
	}

	if !f.All {
		return read(sel.First())
	}

	var parts []string
	sel.Each(func(_ int, s *goquery.Selection) {
		if v := read(s); v != "" {
			parts = append(parts, v)
		}
	})
	return strings.Join(parts, "\n")
}
