// Package formatter renders items into posts that fit the platform character limit.
package formatter

import (
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"HeadlineBot/internal/domain"
)

const (
	// MaxChars is the platform limit for a single post.
	MaxChars = 280
	// URLLength is what the platform charges for any link, whatever its real length.
	URLLength = 23

	separatorsLen     = 4 // two blank lines around the headline
	ellipsis          = "..."
	dramaticSentiment = -0.5
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// RandSource is satisfied by *rand.Rand.
type RandSource interface {
	Intn(n int) int
}

// FormattedPost is a rendered post together with its counted length.
type FormattedPost struct {
	Text           string
	CharacterCount int
	URL            string
}

// Valid reports whether the post fits the platform limit.
func (p FormattedPost) Valid() bool {
	return p.CharacterCount <= MaxChars
}

// Options configures the formatter.
type Options struct {
	IncludeHashtags bool
}

// Formatter renders posts. It is safe for concurrent use.
type Formatter struct {
	mu       sync.Mutex
	rng      RandSource
	hashtags bool
}

// New returns a formatter drawing openers from rng; nil seeds one from the current time.
func New(rng RandSource, opts Options) *Formatter {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Formatter{rng: rng, hashtags: opts.IncludeHashtags}
}

// Format renders item as opener, headline and link. An empty category falls back to the
// item's own, an empty opener is picked at random.
func (f *Formatter) Format(item domain.IngestedItem, category, opener string) FormattedPost {
	if category == "" {
		category = item.Category
	}
	if opener == "" {
		opener = f.pickOpener(category)
	}

	text := compose(opener, strings.TrimSpace(item.Title), strings.TrimSpace(item.URL))

	if f.hashtags {
		tagged := text + " " + f.pick(Hashtags)
		if CountChars(tagged) <= MaxChars {
			text = tagged
		}
	}

	return FormattedPost{
		Text:           text,
		CharacterCount: CountChars(text),
		URL:            item.URL,
	}
}

// FormatScored picks a dramatic opener for very negative items.
func (f *Formatter) FormatScored(scored domain.ScoredItem, opener string) FormattedPost {
	if opener == "" && scored.SentimentScore < dramaticSentiment {
		opener = f.pick(DramaticOpeners)
	}
	return f.Format(scored.Item, "", opener)
}

// Thread renders the item post followed by commentary split across as many posts as needed.
// The head post is rendered like FormatScored with no opener override.
func (f *Formatter) Thread(scored domain.ScoredItem, commentary string) []FormattedPost {
	posts := []FormattedPost{f.FormatScored(scored, "")}

	commentary = strings.TrimSpace(commentary)
	if commentary == "" {
		return posts
	}

	if CountChars(commentary) <= MaxChars {
		return append(posts, FormattedPost{Text: commentary, CharacterCount: CountChars(commentary)})
	}

	for _, chunk := range SplitText(commentary, MaxChars) {
		posts = append(posts, FormattedPost{Text: chunk, CharacterCount: CountChars(chunk)})
	}
	return posts
}

// SplitText breaks text at word boundaries into chunks of at most maxLen-3 runes, each but
// the last followed by "...". A word longer than that becomes a chunk of its own; words are
// never cut.
func SplitText(text string, maxLen int) []string {
	limit := maxLen - len(ellipsis)
	var (
		chunks  []string
		current []string
		size    int
	)

	for _, word := range strings.Fields(text) {
		wordLen := utf8.RuneCountInString(word)
		next := size + wordLen
		if len(current) > 0 {
			next++
		}
		if len(current) > 0 && next > limit {
			chunks = append(chunks, strings.Join(current, " "))
			current, size = nil, 0
			next = wordLen
		}
		current = append(current, word)
		size = next
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}

	for i := 0; i < len(chunks)-1; i++ {
		chunks[i] += ellipsis
	}
	return chunks
}

// CountChars counts runes the way the platform does: every link costs URLLength.
func CountChars(text string) int {
	count := utf8.RuneCountInString(text)
	for _, link := range urlPattern.FindAllString(text, -1) {
		count += URLLength - utf8.RuneCountInString(link)
	}
	return count
}

func compose(opener, title, link string) string {
	if CountChars(link) > MaxChars-separatorsLen {
		link = truncate(link, MaxChars-separatorsLen)
	}

	// Leave room for at least one headline rune and its ellipsis.
	openerMax := MaxChars - CountChars(link) - separatorsLen - len(ellipsis) - 1
	if CountChars(opener) > openerMax {
		opener = truncate(opener, max(openerMax, 0))
	}

	budget := MaxChars - CountChars(opener) - CountChars(link) - separatorsLen
	headline := truncate(title, budget)
	text := build(opener, headline, link)

	// Links inside the headline or opener are charged differently from their rune length.
	for excess := CountChars(text) - MaxChars; excess > 0 && budget > 0; excess = CountChars(text) - MaxChars {
		budget = max(budget-excess, 0)
		headline = truncate(title, budget)
		text = build(opener, headline, link)
	}
	for excess := CountChars(text) - MaxChars; excess > 0 && opener != ""; excess = CountChars(text) - MaxChars {
		opener = truncate(opener, max(utf8.RuneCountInString(opener)-excess, 0))
		text = build(opener, headline, link)
	}
	return text
}

func build(opener, headline, link string) string {
	return opener + "\n\n" + headline + "\n\n" + link
}

// truncate shortens s to at most limit runes, marking the cut with an ellipsis when there is room.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	if limit <= len(ellipsis) {
		return string(runes[:max(limit, 0)])
	}
	return string(runes[:limit-len(ellipsis)]) + ellipsis
}

func (f *Formatter) pickOpener(category string) string {
	pool := Openers
	if extra, ok := CategoryOpeners[strings.ToLower(category)]; ok {
		pool = append(append([]string{}, extra...), Openers...)
	}
	return f.pick(pool)
}

func (f *Formatter) pick(pool []string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pool[f.rng.Intn(len(pool))]
}
