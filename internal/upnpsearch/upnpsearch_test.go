package upnpsearch

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestTranslateSingleContains(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:artist contains "Bach"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "artist:Bach" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateTitleBroadensToFilename(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`dc:title contains "Mass"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(title:Mass filename:Mass)" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateConjunctionWithScope(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:artist contains "Bach" and dc:title contains "Mass"`, "/music/baroque/")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !strings.Contains(q, `+dirtree:"/music/baroque/"`) {
		t.Fatalf("scope filter missing from %q", q)
	}
	if !strings.Contains(q, "+artist:Bach") || !strings.Contains(q, "+(title:Mass filename:Mass)") {
		t.Fatalf("conjunction clauses missing from %q", q)
	}
	if !strings.HasPrefix(q, "+(") {
		t.Fatalf("scoped query should require the criteria group, got %q", q)
	}
}

func TestTranslateDisjunction(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:genre contains "Jazz" or upnp:genre contains "Blues"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(genre:Jazz genre:Blues)" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateCommaListBecomesAlternatives(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:genre contains "Jazz, Blues"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(genre:Jazz genre:Blues)" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslatePhraseKeepsQuotes(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:album contains "Kind of Blue"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != `album:"Kind of Blue"` {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateDoesNotContain(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:genre contains "Jazz" and upnp:artist doesNotContain "Davis"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(+genre:Jazz -artist:Davis)" {
		t.Fatalf("unexpected query %q", q)
	}

	// A lone negated clause must not pick up a "+" from the scope
	// combination either.
	q, err = tr.Translate(`upnp:artist doesNotContain "Davis"`, "/music/")
	if err != nil {
		t.Fatalf("translate scoped negation: %v", err)
	}
	if q != `-artist:Davis +dirtree:"/music/"` {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateIgnoredComparisons(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:class derivedFrom "object.item.audioItem" and dc:title contains "Mass"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(title:Mass filename:Mass)" {
		t.Fatalf("ignored clause should drop out, got %q", q)
	}

	q, err = tr.Translate(`upnp:artist exists true`, "")
	if err != nil {
		t.Fatalf("translate exists: %v", err)
	}
	if q != "*" {
		t.Fatalf("exists-only criteria should match all, got %q", q)
	}
}

func TestTranslateWildcard(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate("*", "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "*" {
		t.Fatalf("unexpected query %q", q)
	}

	q, err = tr.Translate("*", "/music/")
	if err != nil {
		t.Fatalf("translate scoped: %v", err)
	}
	if q != `+dirtree:"/music/"` {
		t.Fatalf("unexpected scoped query %q", q)
	}
}

func TestTranslateUnknownFieldPassesThrough(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:author contains "Verdi"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "author:Verdi" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateEscapesReservedCharacters(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`dc:title contains "AC/DC"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != `(title:AC\/DC filename:AC\/DC)` {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateNestedGroups(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`(upnp:genre contains "Jazz" or upnp:genre contains "Blues") and upnp:artist contains "Davis"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(+(genre:Jazz genre:Blues) +artist:Davis)" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateMixedAndOrReadsAsConjunction(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`upnp:genre contains "Jazz" or upnp:genre contains "Blues" and upnp:artist contains "Davis"`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if q != "(+genre:Jazz +genre:Blues +artist:Davis)" {
		t.Fatalf("unexpected query %q", q)
	}
}

func TestTranslateErrors(t *testing.T) {
	tr := New(zap.NewNop())
	cases := []string{
		`upnp:artist contains Bach`,
		`upnp:artist resembles "Bach"`,
		`(upnp:artist contains "Bach"`,
		`upnp:artist contains "Bach`,
		`upnp:artist contains "Bach" extra`,
	}
	for _, criteria := range cases {
		if _, err := tr.Translate(criteria, ""); err == nil {
			t.Errorf("criteria %q should not translate", criteria)
		}
	}
}

func TestTranslateEscapedQuoteInValue(t *testing.T) {
	tr := New(zap.NewNop())
	q, err := tr.Translate(`dc:title contains "Say \"Hi\""`, "")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !strings.Contains(q, `title:"Say \"Hi\""`) {
		t.Fatalf("unexpected query %q", q)
	}
}
