package executor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Rorqualx/pagemill/internal/rules"
	"github.com/Rorqualx/pagemill/internal/types"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Test</title></head>
<body>
  <h1 class="headline">Breaking News</h1>
  <div class="byline"><a href="/authors/jdoe">J. Doe</a></div>
  <span class="tag">economy</span>
  <span class="tag">markets</span>
  <p class="lead">First paragraph.</p>
</body>
</html>`

func newTestRules(t *testing.T) *rules.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
article:
  fields:
    title:
      selector: "h1.headline"
    author_link:
      selector: ".byline a"
      attribute: "href"
    tags:
      selector: ".tag"
      all: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	m, err := rules.NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestExtractInlineSelector(t *testing.T) {
	b := New(nil)

	fields, err := b.extract(articleHTML, types.ExtractPayload{Selector: "h1.headline"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if fields["value"] != "Breaking News" {
		t.Errorf("value = %q, want %q", fields["value"], "Breaking News")
	}
}

func TestExtractInlineAttribute(t *testing.T) {
	b := New(nil)

	fields, err := b.extract(articleHTML, types.ExtractPayload{Selector: ".byline a", Attribute: "href"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if fields["value"] != "/authors/jdoe" {
		t.Errorf("value = %q, want %q", fields["value"], "/authors/jdoe")
	}
}

func TestExtractProfile(t *testing.T) {
	b := New(newTestRules(t))

	fields, err := b.extract(articleHTML, types.ExtractPayload{Profile: "article"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if fields["title"] != "Breaking News" {
		t.Errorf("title = %q", fields["title"])
	}
	if fields["author_link"] != "/authors/jdoe" {
		t.Errorf("author_link = %q", fields["author_link"])
	}
	if fields["tags"] != "economy\nmarkets" {
		t.Errorf("tags = %q", fields["tags"])
	}
}

func TestExtractMissingElementYieldsEmpty(t *testing.T) {
	b := New(nil)

	fields, err := b.extract(articleHTML, types.ExtractPayload{Selector: ".does-not-exist"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if fields["value"] != "" {
		t.Errorf("value = %q, want empty", fields["value"])
	}
}

func TestExtractUnknownProfile(t *testing.T) {
	b := New(newTestRules(t))

	_, err := b.extract(articleHTML, types.ExtractPayload{Profile: "nope"})
	if !errors.Is(err, types.ErrUnknownProfile) {
		t.Errorf("Expected ErrUnknownProfile, got %v", err)
	}

	// No rules manager at all behaves the same.
	bare := New(nil)
	_, err = bare.extract(articleHTML, types.ExtractPayload{Profile: "article"})
	if !errors.Is(err, types.ErrUnknownProfile) {
		t.Errorf("Expected ErrUnknownProfile without a manager, got %v", err)
	}
}

func TestInlineSelectorTakesPrecedence(t *testing.T) {
	b := New(newTestRules(t))

	fields, err := b.extract(articleHTML, types.ExtractPayload{Selector: ".lead", Profile: "article"})
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if len(fields) != 1 || fields["value"] != "First paragraph." {
		t.Errorf("fields = %v, want single inline value", fields)
	}
}
