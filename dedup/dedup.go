// Package dedup folds near-identical articles from different sources into
// one representative.
package dedup

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/pevans/newsagg/article"
)

// Defaults.
const (
	DefaultWindow    = 6 * time.Hour
	DefaultThreshold = 0.85
)

// Config tunes the engine.
type Config struct {
	// Window is the largest publication time difference at which two
	// articles are compared.
	Window time.Duration `yaml:"window"`
	// Threshold is the minimum title similarity, inclusive, in (0, 1].
	Threshold float64 `yaml:"threshold"`
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, Threshold: DefaultThreshold}
}

// Engine deduplicates article sets. It holds no state between calls.
type Engine struct {
	cfg Config
}

// New returns an engine. Zero values in cfg take the defaults.
func New(cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultThreshold
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's effective tuning.
func (e *Engine) Config() Config {
	return e.cfg
}

// Similarity compares two titles after normalization: 1 minus the edit
// distance over the longer length. Titles that normalize to nothing have
// similarity 0.
func Similarity(a, b string) float64 {
	return similarity(Normalize(a), Normalize(b))
}

func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// Normalize prepares a title for comparison: compatibility-normalized,
// case-folded, punctuation and symbols turned into spaces, whitespace
// collapsed.
func Normalize(title string) string {
	s := cases.Fold().String(norm.NFKC.String(title))
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

type entry struct {
	article article.Article
	key     string
}

// Deduplicate clusters articles from different sources whose titles are at
// least Threshold similar and whose publication times are within Window of
// each other. Each cluster becomes its earliest member, with the other
// members' IDs in Duplicates. The result is sorted by publication time,
// source and ID.
func (e *Engine) Deduplicate(articles []article.Article) []article.Article {
	entries := make([]entry, len(articles))
	for i, a := range articles {
		entries[i] = entry{article: a, key: Normalize(a.Title)}
	}
	slices.SortStableFunc(entries, func(x, y entry) int {
		return compareArticles(x.article, y.article)
	})

	sets := newUnionFind(entries)
	for i := range entries {
		if entries[i].key == "" {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if entries[j].article.PublishedAt.Sub(entries[i].article.PublishedAt) > e.cfg.Window {
				break
			}
			if entries[j].key == "" || sets.sharesSource(i, j) {
				continue
			}
			if similarity(entries[i].key, entries[j].key) >= e.cfg.Threshold {
				sets.union(i, j)
			}
		}
	}

	// Entries are sorted, so the first member seen of each set is its
	// representative.
	members := make(map[int][]int)
	var roots []int
	for i := range entries {
		root := sets.find(i)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}
		members[root] = append(members[root], i)
	}

	out := make([]article.Article, 0, len(roots))
	for _, root := range roots {
		group := members[root]
		rep := entries[group[0]].article
		if len(group) == 1 {
			out = append(out, rep)
			continue
		}

		ids := slices.Clone(rep.Duplicates)
		for _, m := range group[1:] {
			absorbed := entries[m].article
			ids = append(ids, absorbed.ID)
			ids = append(ids, absorbed.Duplicates...)
		}
		slices.SortFunc(ids, func(a, b article.ID) int { return a.Compare(b) })
		ids = slices.Compact(ids)
		out = append(out, rep.WithDuplicates(ids))
	}

	return out
}

// compareArticles orders by publication time, then source name, then ID.
func compareArticles(a, b article.Article) int {
	return cmp.Or(
		a.PublishedAt.Compare(b.PublishedAt),
		strings.Compare(a.Source, b.Source),
		a.ID.Compare(b.ID),
	)
}

// unionFind tracks clusters and the sources each one already holds. No
// cluster holds two articles from the same source.
type unionFind struct {
	parent  []int
	sources []map[string]struct{}
}

func newUnionFind(entries []entry) *unionFind {
	u := &unionFind{
		parent:  make([]int, len(entries)),
		sources: make([]map[string]struct{}, len(entries)),
	}
	for i, e := range entries {
		u.parent[i] = i
		u.sources[i] = map[string]struct{}{e.article.Source: {}}
	}
	return u
}

// sharesSource reports whether the clusters of i and j have a source in
// common, which includes i and j being in the same cluster.
func (u *unionFind) sharesSource(i, j int) bool {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return true
	}
	small, large := u.sources[ri], u.sources[rj]
	if len(small) > len(large) {
		small, large = large, small
	}
	for src := range small {
		if _, ok := large[src]; ok {
			return true
		}
	}
	return false
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the smaller index as root so roots stay the earliest member.
func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return
	}
	if rj < ri {
		ri, rj = rj, ri
	}
	u.parent[rj] = ri
	maps.Copy(u.sources[ri], u.sources[rj])
	u.sources[rj] = nil
}
