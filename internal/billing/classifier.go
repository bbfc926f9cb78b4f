// Package billing detects billing inquiries in free user text.
package billing

import (
	"log/slog"
	"strings"
)

// MatchKind tells which lexicon produced a match.
type MatchKind string

const (
	MatchKeyword MatchKind = "keyword"
	MatchPhrase  MatchKind = "phrase"
)

// Match is the term that marked a text as a billing inquiry.
type Match struct {
	Kind MatchKind
	Term string
}

// Classifier flags text containing any keyword or phrase of its lexicon.
// It is a heuristic: false positives and negatives are expected.
type Classifier struct {
	keywords []string
	phrases  []string
}

// NewClassifier builds a classifier from the given lexicon. Terms are matched
// case-insensitively; blank terms are dropped.
func NewClassifier(keywords, phrases []string) *Classifier {
	return &Classifier{
		keywords: normalize(keywords),
		phrases:  normalize(phrases),
	}
}

// Default returns a classifier with the Spanish billing lexicon.
func Default() *Classifier {
	return NewClassifier(defaultKeywords, defaultPhrases)
}

// Classify reports whether text looks like a billing inquiry.
func (c *Classifier) Classify(text string) bool {
	m, ok := c.Match(text)
	if ok {
		slog.Info("Billing query detected", "kind", m.Kind, "term", m.Term)
	}
	return ok
}

// Match returns the first matching term. Keywords are checked before phrases.
func (c *Classifier) Match(text string) (Match, bool) {
	lower := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return Match{Kind: MatchKeyword, Term: kw}, true
		}
	}
	for _, p := range c.phrases {
		if strings.Contains(lower, p) {
			return Match{Kind: MatchPhrase, Term: p}, true
		}
	}
	return Match{}, false
}

func normalize(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

var defaultKeywords = []string{
	"tarifa", "cobr", "factura", "costo", "precio", "dashboard",
	"desarrollador", "senior", "junior", "rpa", "soporte", "horario",
	"domingos", "festivos", "cop", "pesos", "hora", "cargo", "cobro",
	"contrato", "servicio", "pago", "cuánto", "cuanto", "está cobrando",
	"estan cobrando", "me cobran", "están cobrando", "correcto",
	"incorrecta", "no es correcta", "no hace parte",
}

var defaultPhrases = []string{
	"por qué me están cobrando",
	"por que me estan cobrando",
	"cuánto cuesta",
	"cuanto cuesta",
	"qué tarifa",
	"que tarifa",
	"tarifa del desarrollador",
	"servicio de soporte",
	"fuera de horario",
	"no hace parte",
	"no hizo parte",
	"esto no es correcto",
	"tarifa no es correcta",
}
