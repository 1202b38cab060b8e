package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/dshills/sutcontext-mcp/pkg/types"
)

// Default sizes, in characters.
const (
	DefaultChunkSize    = 2048
	DefaultChunkOverlap = 256
	DefaultMinChunkSize = 512
	DefaultMaxChunkSize = 4096
)

// ErrInvalidConfig is returned for size parameters that cannot produce chunks.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Policy selects how normalized text is split into chunks.
type Policy string

const (
	// PolicyFixed slides a fixed-size character window with backward overlap.
	PolicyFixed Policy = "fixed"
	// PolicySemantic packs blank-line separated paragraphs.
	PolicySemantic Policy = "semantic"
	// PolicyHybrid starts a chunk at every section header and caps chunk size.
	PolicyHybrid Policy = "hybrid"
)

// ParsePolicy maps a policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(name))); p {
	case PolicyFixed, PolicySemantic, PolicyHybrid:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown chunking policy %q", ErrInvalidConfig, name)
	}
}

// Config holds the chunk size parameters.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
	MaxChunkSize int
}

// DefaultConfig returns the default chunk sizes.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
		MaxChunkSize: DefaultMaxChunkSize,
	}
}

// Validate checks the size parameters.
func (c Config) Validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	case c.MinChunkSize <= 0:
		return fmt.Errorf("%w: min chunk size must be positive, got %d", ErrInvalidConfig, c.MinChunkSize)
	case c.MaxChunkSize <= 0:
		return fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidConfig, c.MaxChunkSize)
	case c.ChunkOverlap < 0:
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfig, c.ChunkOverlap)
	case c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: chunk overlap %d must be less than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	case c.MinChunkSize > c.MaxChunkSize:
		return fmt.Errorf("%w: min chunk size %d exceeds max chunk size %d", ErrInvalidConfig, c.MinChunkSize, c.MaxChunkSize)
	}
	return nil
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithDocument sets the document type and source stamped on every chunk.
// The document type also determines the chunk ID prefix.
func WithDocument(docType, docSource string) Option {
	return func(c *Chunker) {
		c.docType = docType
		c.docSource = docSource
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Chunker) {
		c.logger = logger
	}
}

// Chunker splits regulatory document text into chunks with derived metadata.
// A Chunker is immutable after construction and safe for concurrent use.
type Chunker struct {
	cfg       Config
	docType   string
	docSource string
	logger    zerolog.Logger
}

// New creates a Chunker after validating cfg.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Chunker{
		cfg:     cfg,
		docType: "SUT",
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the chunker's size parameters.
func (c *Chunker) Config() Config {
	return c.cfg
}

// span is a piece of normalized text with its source positions.
type span struct {
	text     string
	startRef int
	endRef   int
}

// Chunk normalizes raw and splits it according to policy. Empty input yields
// no chunks. Chunk IDs are ordinals in output order.
func (c *Chunker) Chunk(raw string, policy Policy) ([]*types.Chunk, error) {
	text := Normalize(raw)
	if text == "" {
		return nil, nil
	}

	var spans []span
	switch policy {
	case PolicyFixed:
		spans = c.fixed(text)
	case PolicySemantic:
		spans = c.semantic(text)
	case PolicyHybrid:
		spans = c.hybrid(text)
	default:
		return nil, fmt.Errorf("%w: unknown chunking policy %q", ErrInvalidConfig, policy)
	}

	prefix := idPrefix(c.docType)
	chunks := make([]*types.Chunk, 0, len(spans))
	for _, s := range spans {
		chunk := &types.Chunk{
			ID:       fmt.Sprintf("%s_chunk_%04d", prefix, len(chunks)),
			Content:  s.text,
			StartRef: s.startRef,
			EndRef:   s.endRef,
			Metadata: Enrich(s.text),
		}
		chunk.Metadata.DocType = c.docType
		chunk.Metadata.DocSource = c.docSource
		chunk.ComputeTokenCount()
		chunk.ComputeContentHash()
		chunks = append(chunks, chunk)
	}

	c.logger.Debug().
		Str("policy", string(policy)).
		Str("doc_type", c.docType).
		Int("chars", utf8.RuneCountInString(text)).
		Int("chunks", len(chunks)).
		Msg("document chunked")

	return chunks, nil
}

// fixed slides a ChunkSize window over the text, stepping back ChunkOverlap
// characters between windows. StartRef and EndRef are rune offsets.
func (c *Chunker) fixed(text string) []span {
	runes := []rune(text)
	n := len(runes)

	var spans []span
	for start := 0; start < n; {
		end := min(start+c.cfg.ChunkSize, n)
		window := strings.TrimSpace(string(runes[start:end]))
		if window != "" && runeLen(window) >= c.cfg.MinChunkSize {
			spans = append(spans, span{text: window, startRef: start, endRef: end})
		}
		if end >= n {
			break
		}
		start = end - c.cfg.ChunkOverlap
	}
	return spans
}

// semantic packs paragraphs up to MaxChunkSize. Paragraphs that alone exceed
// the limit are packed sentence by sentence: pending text shorter than
// MinChunkSize is joined to the first sentence, and the last sentences stay
// pending so the next paragraph can extend them. Refs are paragraph indices.
func (c *Chunker) semantic(text string) []span {
	paragraphs := splitParagraphs(text)
	seed := c.cfg.ChunkOverlap > 0

	var spans []span
	p := newPacker("\n\n", c.cfg.MaxChunkSize, seed)
	for i, para := range paragraphs {
		if runeLen(para) <= c.cfg.MaxChunkSize {
			spans = p.add(spans, para, i)
			continue
		}

		sentences := splitSentences(para)
		sp := newPacker(" ", c.cfg.MaxChunkSize, seed)
		tail, ok := p.pending()
		if ok && runeLen(tail.text) < c.cfg.MinChunkSize &&
			runeLen(tail.text)+runeLen(p.sep)+runeLen(sentences[0]) <= c.cfg.MaxChunkSize {
			p.reset()
			spans = sp.add(spans, tail.text+p.sep+sentences[0], i)
			sp.first = tail.startRef
			sentences = sentences[1:]
		} else {
			spans = p.flush(spans)
		}
		for _, sentence := range sentences {
			spans = sp.add(spans, sentence, i)
		}
		if rest, ok := sp.pending(); ok {
			p.hold(rest)
		}
	}

	if tail, ok := p.pending(); ok && runeLen(tail.text) >= c.cfg.MinChunkSize {
		spans = append(spans, tail)
	}
	return spans
}

// hybrid starts a new chunk at every section header and closes a chunk early
// when the next line would push it past ChunkSize. Refs are line indices.
func (c *Chunker) hybrid(text string) []span {
	lines := strings.Split(text, "\n")

	var (
		spans []span
		cur   []string
		start int
	)

	emit := func(end int) {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" {
			spans = append(spans, span{text: body, startRef: start, endRef: end})
		}
	}

	for i, line := range lines {
		if _, ok := SectionToken(line); ok {
			if len(cur) > 0 {
				emit(i - 1)
			}
			cur = []string{line}
			start = i
			continue
		}

		if len(cur) > 0 && joinedLen(cur, 1)+1+runeLen(line) > c.cfg.ChunkSize {
			emit(i - 1)
			cur = overlapLines(cur, c.cfg.ChunkOverlap)
			if len(cur) > 0 && joinedLen(cur, 1)+1+runeLen(line) > c.cfg.ChunkSize {
				cur = nil
			}
			start = i - len(cur)
		}

		if len(cur) == 0 {
			start = i
		}
		cur = append(cur, line)
	}

	if len(cur) > 0 {
		emit(len(lines) - 1)
	}
	return spans
}

// overlapLines returns the longest run of trailing lines whose lengths sum to
// at most limit characters.
func overlapLines(lines []string, limit int) []string {
	if limit <= 0 {
		return nil
	}

	total := 0
	i := len(lines)
	for i > 0 {
		l := runeLen(lines[i-1])
		if total+l > limit {
			break
		}
		total += l
		i--
	}

	if i == len(lines) {
		return nil
	}
	return append([]string(nil), lines[i:]...)
}

// packer accumulates text units into chunks no longer than limit, counting
// separators. On overflow the next chunk is optionally seeded with the last
// unit of the closed one when the seed still fits.
type packer struct {
	sep   string
	limit int
	seed  bool

	units []string
	size  int
	first int
	last  int
}

func newPacker(sep string, limit int, seed bool) *packer {
	return &packer{sep: sep, limit: limit, seed: seed}
}

func (p *packer) add(spans []span, unit string, ref int) []span {
	l := runeLen(unit)
	sepLen := runeLen(p.sep)

	if len(p.units) > 0 && p.size+sepLen+l > p.limit {
		last := p.units[len(p.units)-1]
		lastRef := p.last
		spans = p.flush(spans)
		if p.seed && runeLen(last)+sepLen+l <= p.limit {
			p.units = []string{last}
			p.size = runeLen(last)
			p.first = lastRef
		}
	}

	if len(p.units) == 0 {
		p.first = ref
		p.size = l
	} else {
		p.size += sepLen + l
	}
	p.units = append(p.units, unit)
	p.last = ref
	return spans
}

func (p *packer) pending() (span, bool) {
	if len(p.units) == 0 {
		return span{}, false
	}
	return span{text: strings.Join(p.units, p.sep), startRef: p.first, endRef: p.last}, true
}

func (p *packer) flush(spans []span) []span {
	if s, ok := p.pending(); ok {
		spans = append(spans, s)
	}
	p.reset()
	return spans
}

func (p *packer) reset() {
	p.units = nil
	p.size = 0
}

// hold replaces the pending text with s as a single unit.
func (p *packer) hold(s span) {
	p.units = []string{s.text}
	p.size = runeLen(s.text)
	p.first = s.startRef
	p.last = s.endRef
}

// splitParagraphs splits normalized text on blank lines.
func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences cuts text after '.', '?' or '!' when followed by whitespace
// or the end of the text.
func splitSentences(text string) []string {
	runes := []rune(text)

	var out []string
	start := 0
	for i, r := range runes {
		if r != '.' && r != '?' && r != '!' {
			continue
		}
		if i+1 < len(runes) && !isSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// idPrefix derives the chunk ID prefix from a document type, e.g. "EK-4/D"
// becomes "ek_4_d".
func idPrefix(docType string) string {
	return strings.NewReplacer("/", "_", "-", "_").Replace(lower(docType))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// joinedLen is the length of parts joined by a separator of sepLen runes.
func joinedLen(parts []string, sepLen int) int {
	total := 0
	for _, p := range parts {
		total += runeLen(p)
	}
	if len(parts) > 1 {
		total += sepLen * (len(parts) - 1)
	}
	return total
}
