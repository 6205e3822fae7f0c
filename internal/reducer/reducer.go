// Package reducer strips boilerplate from fetched pages and bounds their size
// before they are handed to analysis.
package reducer

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

const (
	defaultMaxChars     = 5000
	defaultMinLineChars = 20
	maxPasses           = 4
)

// Config bounds reduction.
type Config struct {
	// MaxChars caps each reduced item, counted in characters (default 5000).
	MaxChars int
	// MinLineChars is the length below which a line may be treated as UI chrome (default 20).
	MinLineChars int
	// ProfileDomains get section extraction (default linkedin.com).
	ProfileDomains []string
}

// Reducer implements Reduce. It holds no mutable state.
type Reducer struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Reducer.
func New(cfg Config, logger *zap.Logger) *Reducer {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.MinLineChars <= 0 {
		cfg.MinLineChars = defaultMinLineChars
	}
	if len(cfg.ProfileDomains) == 0 {
		cfg.ProfileDomains = []string{"linkedin.com"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{cfg: cfg, logger: logger.Named("reducer")}
}

var markupPattern = regexp.MustCompile(`(?i)<(html|body|div|article|section|main|p)[\s>]`)

// Reduce cleans raw content fetched from sourceURL. The output of Reduce is a
// fixed point: reducing it again yields the same text.
func (r *Reducer) Reduce(raw, sourceURL string) dossier.ReducedContent {
	profile := r.isProfile(sourceURL)

	text := raw
	if markupPattern.MatchString(raw) {
		text = defuseMarkup(fromMarkup(raw, profile))
	}
	for range maxPasses {
		next := r.pass(text, profile)
		if next == text {
			break
		}
		text = next
	}

	out := dossier.ReducedContent{
		URL:             sourceURL,
		Text:            text,
		CharCountBefore: dossier.CharCount(raw),
		CharCountAfter:  dossier.CharCount(text),
	}
	r.logger.Debug("content reduced",
		zap.String("url", sourceURL),
		zap.Int("before", out.CharCountBefore),
		zap.Int("after", out.CharCountAfter),
		zap.Int("est_tokens", EstimateTokens(text)),
	)
	return out
}

// defuseMarkup escapes tag openers that survived as literal text (decoded
// entities such as "&lt;div&gt;"), so reduced text is never taken for markup.
func defuseMarkup(text string) string {
	return markupPattern.ReplaceAllStringFunc(text, func(m string) string {
		return "&lt;" + m[1:]
	})
}

// ReduceResult reduces a successful fetch and tags it with its provider.
func (r *Reducer) ReduceResult(res dossier.FetchResult) dossier.ReducedContent {
	out := r.Reduce(res.RawContent, res.URL)
	out.Source = res.Provider
	return out
}

// EstimateTokens approximates the model token count of text (four characters per token).
func EstimateTokens(text string) int {
	return dossier.CharCount(text) / 4
}

func (r *Reducer) isProfile(sourceURL string) bool {
	host := dossier.Host(sourceURL)
	if host == "" {
		return false
	}
	for _, domain := range r.cfg.ProfileDomains {
		if dossier.HostMatches(host, domain) {
			return true
		}
	}
	return false
}

// pass runs one round of cleaning, section extraction and truncation.
// Reduce repeats it until the text stops changing.
func (r *Reducer) pass(text string, profile bool) string {
	text = r.clean(text, profile)
	if profile {
		text = extractSections(text)
	}
	return r.clean(dossier.TruncateRunes(text, r.cfg.MaxChars), profile)
}

// clean applies the line-level filters. Every step is idempotent, so clean is too.
func (r *Reducer) clean(text string, profile bool) string {
	text = stripMarkdownLinks(text)
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			kept = append(kept, "")
			continue
		}
		if isBoilerplate(line) || isNavTrail(line) {
			continue
		}
		if profile && isProfileChrome(line) {
			continue
		}
		if r.isShortChrome(line) {
			continue
		}
		kept = append(kept, line)
	}
	return collapseBlankLines(kept)
}

func collapseBlankLines(lines []string) string {
	var b strings.Builder
	blank := false
	wrote := false
	for _, line := range lines {
		if line == "" {
			blank = wrote
			continue
		}
		if blank {
			b.WriteString("\n\n")
		} else if wrote {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		wrote = true
		blank = false
	}
	return b.String()
}

var horizontalSpace = regexp.MustCompile(`[ \t\x{00A0}\x{2000}-\x{200B}\x{3000}]+`)

func collapseSpaces(line string) string {
	return strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
}

var (
	markdownImage = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	markdownLink  = regexp.MustCompile(`\[([^\]]*)\]\((?:[^)(]|\([^)]*\))*\)`)
)

func stripMarkdownLinks(text string) string {
	for range maxPasses {
		next := markdownLink.ReplaceAllString(markdownImage.ReplaceAllString(text, ""), "$1")
		if next == text {
			break
		}
		text = next
	}
	return text
}
