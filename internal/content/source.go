package content

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"
	"github.com/blevesearch/bleve/search/query"

	"github.com/mohammad-safakhou/newsletter-agent/internal/helpers"
)

const dateLayout = "2006-01-02"

// DefaultFillTo is how many items a fetch returns at most.
const DefaultFillTo = 5

// FetchQuery selects source items. Empty fields are unconstrained.
type FetchQuery struct {
	Topic     string `json:"topic"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Source returns items for a query.
type Source interface {
	Fetch(ctx context.Context, q FetchQuery) ([]Item, error)
}

// Summarizer turns items into summaries of at most maxChars runes each.
type Summarizer interface {
	Summarize(ctx context.Context, items []Item, maxChars int) ([]Summary, error)
}

// MockSource serves a fixed corpus. Keyword matching runs through an
// in-memory bleve index over titles and bodies.
type MockSource struct {
	posts  []Item
	byID   map[string]int
	index  bleve.Index
	fillTo int
}

// NewMockSource indexes posts. fillTo <= 0 means DefaultFillTo.
func NewMockSource(posts []Item, fillTo int) (*MockSource, error) {
	if fillTo <= 0 {
		fillTo = DefaultFillTo
	}
	idx, err := bleve.NewMemOnly(corpusMapping())
	if err != nil {
		return nil, fmt.Errorf("mock source index: %w", err)
	}
	s := &MockSource{posts: posts, byID: make(map[string]int, len(posts)), index: idx, fillTo: fillTo}
	for i, p := range posts {
		id := string(p.ID)
		s.byID[id] = i
		doc := map[string]any{
			"title":   strings.ToLower(p.Title),
			"content": strings.ToLower(p.Content),
		}
		if err := idx.Index(id, doc); err != nil {
			return nil, fmt.Errorf("index post %s: %w", id, err)
		}
	}
	return s, nil
}

// corpusMapping stores title and content as single lowercased terms so a
// wildcard query behaves like a substring match.
func corpusMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	fm := bleve.NewTextFieldMapping()
	fm.Analyzer = keyword.Name
	im.DefaultMapping.AddFieldMappingsAt("title", fm)
	im.DefaultMapping.AddFieldMappingsAt("content", fm)
	return im
}

// NewDefaultMockSource is NewMockSource over the built-in corpus.
func NewDefaultMockSource(fillTo int) (*MockSource, error) {
	return NewMockSource(MockPosts(), fillTo)
}

// Fetch returns in-range keyword matches in corpus order, topped up with the
// remaining in-range posts newest first, capped at fillTo. An empty topic
// matches everything.
func (s *MockSource) Fetch(ctx context.Context, q FetchQuery) ([]Item, error) {
	var inRange []int
	for i, p := range s.posts {
		if withinRange(p.Published, q.StartDate, q.EndDate) {
			inRange = append(inRange, i)
		}
	}
	matched, err := s.match(ctx, strings.Fields(strings.ToLower(q.Topic)))
	if err != nil {
		return nil, err
	}

	var head, rest []Item
	for _, i := range inRange {
		if matched == nil || matched[i] {
			head = append(head, s.posts[i])
		} else {
			rest = append(rest, s.posts[i])
		}
	}
	sort.SliceStable(rest, func(a, b int) bool { return rest[a].Published > rest[b].Published })
	items := append(head, rest...)
	if len(items) > s.fillTo {
		items = items[:s.fillTo]
	}
	return append([]Item{}, items...), nil
}

// match returns the corpus positions matching any keyword, or nil when there
// are no keywords.
func (s *MockSource) match(ctx context.Context, keywords []string) (map[int]bool, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	var disjuncts []query.Query
	for _, k := range keywords {
		k = strings.NewReplacer("*", "", "?", "").Replace(k)
		if k == "" {
			continue
		}
		for _, field := range []string{"title", "content"} {
			wq := bleve.NewWildcardQuery("*" + k + "*")
			wq.SetField(field)
			disjuncts = append(disjuncts, wq)
		}
	}
	if len(disjuncts) == 0 {
		return map[int]bool{}, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(disjuncts...), len(s.posts), 0, false)
	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search corpus: %w", err)
	}
	out := make(map[int]bool, len(res.Hits))
	for _, hit := range res.Hits {
		if i, ok := s.byID[hit.ID]; ok {
			out[i] = true
		}
	}
	return out, nil
}

// withinRange compares YYYY-MM-DD dates; a bound that does not parse is ignored.
func withinRange(published, start, end string) bool {
	d, err := time.Parse(dateLayout, published)
	if err != nil {
		return true
	}
	if s, err := time.Parse(dateLayout, start); err == nil && d.Before(s) {
		return false
	}
	if e, err := time.Parse(dateLayout, end); err == nil && d.After(e) {
		return false
	}
	return true
}

// ExtractiveSummarizer builds summaries from the first two sentences of each item.
type ExtractiveSummarizer struct{}

// DefaultSummaryChars is the summary cap when none is given.
const DefaultSummaryChars = 400

func (ExtractiveSummarizer) Summarize(_ context.Context, items []Item, maxChars int) ([]Summary, error) {
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	out := make([]Summary, 0, len(items))
	for _, it := range items {
		out = append(out, Summary{
			ID:        it.ID,
			Title:     it.Title,
			URL:       it.URL,
			Summary:   summarizeText(it.Title, it.Content, maxChars),
			Published: it.Published,
		})
	}
	return out, nil
}

func summarizeText(title, body string, max int) string {
	var sentences []string
	for _, s := range strings.Split(body, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
		if len(sentences) == 2 {
			break
		}
	}
	base := title + ": " + strings.Join(sentences, ". ") + "."
	return helpers.TruncateRunes(base, max)
}
