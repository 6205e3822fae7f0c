// Package static proposes a fixed list of URL templates, for offline runs and tests.
package static

import (
	"context"
	"net/url"
	"strings"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

// Source expands each template with the subject. Supported placeholders are
// {first}, {last}, {org} and {name}; values are query-escaped.
type Source struct {
	name      string
	templates []string
}

// New returns a Source named name. An empty name defaults to "static".
func New(name string, templates []string) *Source {
	if name == "" {
		name = "static"
	}
	return &Source{name: name, templates: append([]string(nil), templates...)}
}

// Name implements dossier.Source.
func (s *Source) Name() string {
	return s.name
}

// CandidateURLs implements dossier.Source.
func (s *Source) CandidateURLs(ctx context.Context, subject dossier.Subject) ([]dossier.CandidateURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := strings.NewReplacer(
		"{first}", url.QueryEscape(strings.TrimSpace(subject.FirstName)),
		"{last}", url.QueryEscape(strings.TrimSpace(subject.LastName)),
		"{org}", url.QueryEscape(strings.TrimSpace(subject.Organization)),
		"{name}", url.QueryEscape(subject.FullName()),
	)
	out := make([]dossier.CandidateURL, 0, len(s.templates))
	for _, tmpl := range s.templates {
		tmpl = strings.TrimSpace(tmpl)
		if tmpl == "" {
			continue
		}
		out = append(out, dossier.CandidateURL{URL: r.Replace(tmpl), Provider: s.name})
	}
	return out, nil
}
