// Package classify derives article properties from article text.
package classify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"

	ahocorasick "github.com/cloudflare/ahocorasick"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/pevans/newsagg/article"
)

// Tagger computes properties for one article.
type Tagger interface {
	Tag(ctx context.Context, a article.Article) (article.Properties, error)
}

// Rule scores one topic by the keywords found in an article.
type Rule struct {
	// Topic names the properties the rule sets: the score is stored under
	// Topic and the flag under "is_<topic>_related".
	Topic    string   `yaml:"topic"`
	Keywords []string `yaml:"keywords"`
	// Saturation is the number of distinct keywords that yields a score of
	// 1. Defaults to 3.
	Saturation int `yaml:"saturation,omitempty"`
	// Threshold is the minimum score that sets the flag. Defaults to one
	// keyword's worth.
	Threshold float64 `yaml:"threshold,omitempty"`
}

const defaultSaturation = 3

// FlagName returns the boolean property name for a topic.
func FlagName(topic string) string {
	return "is_" + topic + "_related"
}

// KeywordTagger matches every rule's keywords in one pass over the text.
type KeywordTagger struct {
	rules []Rule

	// owners maps a matcher keyword index to the rules using it.
	owners [][]int

	// The matcher keeps per-call state, so Match calls are serialized.
	mu      sync.Mutex
	matcher *ahocorasick.Matcher
}

var _ Tagger = (*KeywordTagger)(nil)

// NewKeywordTagger builds a tagger from rules.
func NewKeywordTagger(rules []Rule) (*KeywordTagger, error) {
	t := &KeywordTagger{rules: make([]Rule, len(rules))}

	var dict []string
	index := make(map[string]int)
	topics := make(map[string]bool)

	for ri, r := range rules {
		r.Topic = strings.TrimSpace(r.Topic)
		if r.Topic == "" {
			return nil, errors.New("classify: rule topic is required")
		}
		if topics[r.Topic] {
			return nil, fmt.Errorf("classify: duplicate topic %q", r.Topic)
		}
		topics[r.Topic] = true
		if r.Saturation <= 0 {
			r.Saturation = defaultSaturation
		}
		if r.Threshold <= 0 {
			r.Threshold = 1 / float64(r.Saturation)
		}
		t.rules[ri] = r

		for _, kw := range r.Keywords {
			key := keyword(kw)
			if strings.TrimSpace(key) == "" {
				continue
			}
			i, ok := index[key]
			if !ok {
				i = len(dict)
				index[key] = i
				dict = append(dict, key)
				t.owners = append(t.owners, nil)
			}
			if !slices.Contains(t.owners[i], ri) {
				t.owners[i] = append(t.owners[i], ri)
			}
		}
	}

	if len(dict) > 0 {
		t.matcher = ahocorasick.NewStringMatcher(dict)
	}
	return t, nil
}

// Default returns a tagger over DefaultRules.
func Default() *KeywordTagger {
	t, err := NewKeywordTagger(DefaultRules())
	if err != nil {
		panic(err)
	}
	return t
}

// Tag scores every rule against the article's title, summary and text.
// Every rule's properties are set, matched or not.
func (t *KeywordTagger) Tag(ctx context.Context, a article.Article) (article.Properties, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	props := make(article.Properties, 2*len(t.rules))
	matched := make([]map[int]bool, len(t.rules))

	for _, hit := range t.match(a.Title + "\n" + a.Summary + "\n" + a.Text) {
		for _, ri := range t.owners[hit] {
			if matched[ri] == nil {
				matched[ri] = make(map[int]bool)
			}
			matched[ri][hit] = true
		}
	}

	for ri, r := range t.rules {
		score := min(1, float64(len(matched[ri]))/float64(r.Saturation))
		props[r.Topic] = score
		props.SetFlag(FlagName(r.Topic), score >= r.Threshold)
	}

	return props, nil
}

func (t *KeywordTagger) match(text string) []int {
	if t.matcher == nil {
		return nil
	}
	in := []byte(normalize(text))

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.matcher.Match(in)
}

// normalize folds case and width and turns everything that isn't a letter
// or digit into a single space. The result is padded with spaces so that
// padded keywords only match whole words.
func normalize(s string) string {
	s = cases.Fold().String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
		} else if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// keyword normalizes a keyword the way text is normalized. Keywords written
// in scripts that separate words with spaces keep their padding, so "ai"
// doesn't match inside "said"; others match anywhere.
func keyword(kw string) string {
	n := normalize(kw)
	if isSpaced(strings.TrimSpace(n)) {
		return n
	}
	return strings.TrimSpace(n)
}

func isSpaced(s string) bool {
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) {
			return false
		}
	}
	return s != ""
}
