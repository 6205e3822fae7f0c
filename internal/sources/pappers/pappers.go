// Package pappers looks up French company registry data for the subject's
// organization. It proposes no fetchable pages: its result is a synthetic
// marker plus a JSON payload of companies, mandates and legal notices.
package pappers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

const (
	defaultBaseURL      = "https://api.pappers.fr/v2"
	defaultMaxCompanies = 3
	defaultTimeout      = 10 * time.Second
	publicationsPerPage = 10
	markerPrefix        = "pappers://legal-data/"
	maxErrorBody        = 1024
)

// Fields that cost nothing on the company detail endpoint.
var freeFields = []string{"representants_legaux", "categorie_entreprise", "motif_cessation"}

// Config controls the registry queries.
type Config struct {
	APIKey  string
	BaseURL string
	// MaxCompanies caps the search results enriched (default 3).
	MaxCompanies int
	Timeout      time.Duration
	// Details fetches the economic record of each company.
	Details bool
	// ExtraFields are paid fields appended to the detail request.
	ExtraFields []string
	// Publications searches legal notices naming the subject.
	Publications bool
}

// Source implements dossier.AuxiliarySource.
type Source struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// Mandate is a position held by the subject in a company.
type Mandate struct {
	Role      string `json:"role"`
	StartDate string `json:"start_date,omitempty"`
	FullName  string `json:"full_name"`
}

// Company is one registry match.
type Company struct {
	Name           string          `json:"name"`
	SIREN          string          `json:"siren"`
	HeadOffice     json.RawMessage `json:"head_office,omitempty"`
	PersonFound    bool            `json:"person_found"`
	PersonMandates []Mandate       `json:"person_mandates"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// Payload is the auxiliary data attached to the bundle.
type Payload struct {
	Query        string          `json:"query"`
	FullName     string          `json:"full_name"`
	Companies    []Company       `json:"companies"`
	Publications json.RawMessage `json:"publications,omitempty"`
}

type representative struct {
	LastName  string `json:"nom"`
	FirstName string `json:"prenom"`
	Role      string `json:"qualite"`
	StartDate string `json:"date_prise_de_poste"`
}

type searchHit struct {
	Name            string           `json:"nom_entreprise"`
	SIREN           string           `json:"siren"`
	HeadOffice      json.RawMessage  `json:"siege"`
	Representatives []representative `json:"representants"`
}

type searchResponse struct {
	Results []searchHit `json:"resultats"`
}

type publicationsResponse struct {
	Results []json.RawMessage `json:"resultats"`
	Total   int               `json:"total"`
}

// New returns a configuration error when no API key is set.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &dossier.ConfigError{Key: "sources.pappers_api_key"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxCompanies <= 0 {
		cfg.MaxCompanies = defaultMaxCompanies
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, client: client, logger: logger.Named("pappers")}, nil
}

// Name implements dossier.Source.
func (s *Source) Name() string {
	return "pappers"
}

// CandidateURLs implements dossier.Source.
func (s *Source) CandidateURLs(ctx context.Context, subject dossier.Subject) ([]dossier.CandidateURL, error) {
	urls, _, err := s.Collect(ctx, subject)
	return urls, err
}

// Marker returns the synthetic URL standing for the organization's registry data.
func Marker(org string) string {
	return markerPrefix + url.PathEscape(org)
}

// Collect searches the registry for the organization. A subject without an
// organization, or a search with no match, yields nothing and no error.
func (s *Source) Collect(ctx context.Context, subject dossier.Subject) ([]dossier.CandidateURL, *dossier.AuxiliaryData, error) {
	org := strings.TrimSpace(subject.Organization)
	if org == "" {
		s.logger.Debug("skipping lookup without organization")
		return nil, nil, nil
	}

	hits, err := s.searchCompanies(ctx, org)
	if err != nil {
		return nil, nil, err
	}
	if len(hits) == 0 {
		s.logger.Info("no company found", zap.String("organization", org))
		return nil, nil, nil
	}

	companies := make([]Company, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		companies[i] = Company{
			Name:           hit.Name,
			SIREN:          hit.SIREN,
			HeadOffice:     hit.HeadOffice,
			PersonMandates: findMandates(subject, hit.Representatives),
		}
		companies[i].PersonFound = len(companies[i].PersonMandates) > 0
		if !s.cfg.Details || hit.SIREN == "" {
			continue
		}
		g.Go(func() error {
			details, err := s.companyDetails(gctx, hit.SIREN)
			if err != nil {
				s.logger.Warn("company details failed", zap.String("siren", hit.SIREN), zap.Error(err))
				return nil
			}
			companies[i].Details = details
			return nil
		})
	}
	_ = g.Wait()

	payload := Payload{Query: org, FullName: subject.FullName(), Companies: companies}
	if s.cfg.Publications {
		pubs, err := s.publications(ctx, subject)
		if err != nil {
			s.logger.Warn("publication search failed", zap.Error(err))
		}
		payload.Publications = pubs
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode pappers payload: %w", err)
	}
	marker := Marker(org)
	s.logger.Info("registry data collected",
		zap.String("organization", org),
		zap.Int("companies", len(companies)),
	)
	return []dossier.CandidateURL{{URL: marker, Provider: s.Name()}},
		&dossier.AuxiliaryData{Provider: s.Name(), URLs: []string{marker}, Payload: raw},
		nil
}

func (s *Source) searchCompanies(ctx context.Context, org string) ([]searchHit, error) {
	q := url.Values{}
	q.Set("q", org)
	q.Set("bases", "entreprises")
	q.Set("precision", "standard")
	q.Set("par_page", strconv.Itoa(s.cfg.MaxCompanies))
	var out searchResponse
	if err := s.get(ctx, "/recherche", q, &out); err != nil {
		return nil, err
	}
	if len(out.Results) > s.cfg.MaxCompanies {
		out.Results = out.Results[:s.cfg.MaxCompanies]
	}
	return out.Results, nil
}

func (s *Source) companyDetails(ctx context.Context, siren string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("siren", siren)
	q.Set("champs_supplementaires", strings.Join(append(append([]string(nil), freeFields...), s.cfg.ExtraFields...), ","))
	var out json.RawMessage
	if err := s.get(ctx, "/entreprise", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// publications returns nil when the registry knows no notice for the subject.
func (s *Source) publications(ctx context.Context, subject dossier.Subject) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("nom_dirigeant", strings.Join(strings.Fields(subject.LastName), " "))
	q.Set("prenom_dirigeant", strings.Join(strings.Fields(subject.FirstName), " "))
	q.Set("par_page", strconv.Itoa(publicationsPerPage))
	q.Set("page", "1")
	var out publicationsResponse
	err := s.get(ctx, "/recherche-publications", q, &out)
	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusBadRequest {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode publications: %w", err)
	}
	return raw, nil
}

type statusError struct {
	path string
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("pappers %s: status %d: %s", e.path, e.code, e.body)
}

func (s *Source) get(ctx context.Context, path string, query url.Values, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build pappers request: %w", err)
	}
	req.Header.Set("api-key", s.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pappers request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{path: path, code: resp.StatusCode, body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode pappers %s: %w", path, err)
	}
	return nil
}

// findMandates matches representatives whose names contain the subject's
// names, case-insensitively.
func findMandates(subject dossier.Subject, reps []representative) []Mandate {
	first := strings.ToLower(strings.TrimSpace(subject.FirstName))
	last := strings.ToLower(strings.TrimSpace(subject.LastName))
	var out []Mandate
	for _, rep := range reps {
		if !strings.Contains(strings.ToLower(rep.LastName), last) || !strings.Contains(strings.ToLower(rep.FirstName), first) {
			continue
		}
		role := rep.Role
		if role == "" {
			role = "N/A"
		}
		out = append(out, Mandate{
			Role:      role,
			StartDate: rep.StartDate,
			FullName:  strings.TrimSpace(rep.FirstName + " " + rep.LastName),
		})
	}
	return out
}
