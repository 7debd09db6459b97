// Package upnpsearch translates the restricted UPnP search-criteria
// grammar into the catalog engine's native query-string syntax.
//
// The grammar accepted is boolean and/or over parenthesized groups of
// comparisons: <field> contains "v", <field> doesNotContain "v",
// <field> derivedFrom "v", <field> exists true|false, plus the bare
// wildcard * as the whole expression. The engine's syntax is implicit
// OR with + marking required clauses, so conjunctions emit a + per
// clause. or binds looser in the UPnP grammar than in the engine;
// unparenthesized mixed and/or cannot be translated faithfully and is
// flagged with a warning before a conjunctive reading is applied.
package upnpsearch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// fieldMap takes a UPnP property to the engine field(s) it matches.
// Title broadens to the filename because untitled tracks index their
// name there.
var fieldMap = map[string][]string{
	"dc:title":                 {"title", "filename"},
	"dc:creator":               {"artist"},
	"upnp:artist":              {"artist"},
	"upnp:album":               {"album"},
	"upnp:genre":               {"genre"},
	"dc:date":                  {"date"},
	"upnp:originalTrackNumber": {"tracknumber"},
}

// Translator holds the warning sink. Stateless across calls.
type Translator struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Translator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Translator{log: log}
}

// Translate renders the criteria in engine syntax. A non-empty
// scopeDir (a folder path with trailing slash) appends a required
// dirtree filter; the engine indexes every ancestor directory there,
// so the exact term restricts matches to that subtree.
func (t *Translator) Translate(criteria, scopeDir string) (string, error) {
	toks, err := tokenize(criteria)
	if err != nil {
		return "", err
	}
	p := &parser{t: t, toks: toks}
	q, err := p.expr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.toks) {
		return "", fmt.Errorf("trailing input after criteria: %q", p.toks[p.pos].text)
	}
	if scopeDir == "" {
		if q == "" {
			return "*", nil
		}
		return q, nil
	}
	scope := fmt.Sprintf("+dirtree:%q", scopeDir)
	if q == "" || q == "*" {
		return scope, nil
	}
	return required(q) + " " + scope, nil
}

// required marks a clause as mandatory. Negated clauses already carry
// their own prefix; +- is not valid engine syntax.
func required(part string) string {
	if strings.HasPrefix(part, "-") {
		return part
	}
	return "+" + part
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokOpen
	tokClose
)

type token struct {
	kind tokKind
	text string
}

// tokenize splits the criteria into parens, bare words and quoted
// strings. Quoted strings keep embedded escaped quotes.
func tokenize(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokOpen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokClose, ")"})
			i++
		case c == '"':
			i++
			var b strings.Builder
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				b.WriteByte(s[i])
				i++
			}
			if i >= len(s) {
				return nil, fmt.Errorf("unterminated string in criteria")
			}
			i++
			toks = append(toks, token{tokString, b.String()})
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" \t\n\r()\"", rune(s[j])) {
				j++
			}
			toks = append(toks, token{tokWord, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	t    *Translator
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, error) {
	tk, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of criteria")
	}
	p.pos++
	return tk, nil
}

// expr parses term (and|or term)* and renders the group. An
// ignored comparison (exists, derivedFrom) contributes no clause.
func (p *parser) expr() (string, error) {
	var parts []string
	var ops []string
	for {
		part, err := p.term()
		if err != nil {
			return "", err
		}
		if part != "" {
			parts = append(parts, part)
		}
		tk, ok := p.peek()
		if !ok || tk.kind == tokClose {
			break
		}
		if tk.kind != tokWord || (tk.text != "and" && tk.text != "or") {
			return "", fmt.Errorf("expected and/or, got %q", tk.text)
		}
		ops = append(ops, tk.text)
		p.pos++
	}
	return p.render(parts, ops), nil
}

func (p *parser) render(parts, ops []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	hasAnd, hasOr := false, false
	for _, op := range ops {
		if op == "and" {
			hasAnd = true
		} else {
			hasOr = true
		}
	}
	if hasAnd && hasOr {
		p.t.log.Warn("unparenthesized mixed and/or in search criteria, reading as conjunction")
	}
	if !hasAnd {
		return "(" + strings.Join(parts, " ") + ")"
	}
	for i := range parts {
		parts[i] = required(parts[i])
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (p *parser) term() (string, error) {
	tk, err := p.next()
	if err != nil {
		return "", err
	}
	switch tk.kind {
	case tokOpen:
		q, err := p.expr()
		if err != nil {
			return "", err
		}
		cl, err := p.next()
		if err != nil || cl.kind != tokClose {
			return "", fmt.Errorf("unbalanced parenthesis in criteria")
		}
		return q, nil
	case tokWord:
		if tk.text == "*" {
			return "", nil
		}
		return p.comparison(tk.text)
	}
	return "", fmt.Errorf("unexpected token %q", tk.text)
}

func (p *parser) comparison(field string) (string, error) {
	op, err := p.next()
	if err != nil {
		return "", err
	}
	if op.kind != tokWord {
		return "", fmt.Errorf("expected operator after %q", field)
	}
	switch op.text {
	case "contains", "doesNotContain", "derivedFrom":
		val, err := p.next()
		if err != nil {
			return "", err
		}
		if val.kind != tokString {
			return "", fmt.Errorf("expected quoted value after %s", op.text)
		}
		if op.text == "derivedFrom" {
			// Class-hierarchy matching has no engine counterpart;
			// everything served is audio anyway.
			return "", nil
		}
		return clause(fieldsFor(field), val.text, op.text == "doesNotContain"), nil
	case "exists":
		if _, err := p.next(); err != nil {
			return "", err
		}
		return "", nil
	}
	return "", fmt.Errorf("unknown operator %q", op.text)
}

// fieldsFor passes unknown properties through by their bare name
// rather than rejecting, to stay permissive with varied controllers.
func fieldsFor(upnpField string) []string {
	if f, ok := fieldMap[upnpField]; ok {
		return f
	}
	name := upnpField
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return []string{strings.ToLower(name)}
}

// clause renders one comparison. A comma-separated value becomes an
// OR-of-terms list; a value with whitespace stays an exact phrase.
func clause(fields []string, value string, neg bool) string {
	terms := splitTerms(value)
	if len(terms) == 0 {
		return ""
	}
	var perField []string
	for _, f := range fields {
		var alts []string
		for _, term := range terms {
			alts = append(alts, f+":"+renderTerm(term))
		}
		if len(alts) == 1 {
			perField = append(perField, alts[0])
		} else {
			perField = append(perField, "("+strings.Join(alts, " ")+")")
		}
	}
	q := perField[0]
	if len(perField) > 1 {
		q = "(" + strings.Join(perField, " ") + ")"
	}
	if neg {
		return "-" + q
	}
	return q
}

// splitTerms separates a quoted value on commas, trimming whitespace,
// unless the value reads as a single phrase.
func splitTerms(v string) []string {
	if !strings.Contains(v, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		return []string{v}
	}
	var out []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

const reserved = `+-=&|><!(){}[]^"~*?:\/`

func renderTerm(term string) string {
	if strings.ContainsAny(term, " \t") {
		return `"` + strings.ReplaceAll(term, `"`, `\"`) + `"`
	}
	var b strings.Builder
	for _, r := range term {
		if strings.ContainsRune(reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
