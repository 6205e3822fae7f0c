package pappers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/dossier-crawler/internal/dossier"
)

func registry(t *testing.T, detailCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch r.URL.Path {
		case "/recherche":
			if q.Get("q") != "Institut du Radium" || q.Get("bases") != "entreprises" || q.Get("par_page") != "3" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"resultats":[
				{"nom_entreprise":"INSTITUT DU RADIUM","siren":"123456789","siege":{"ville":"PARIS"},
				 "representants":[{"nom":"CURIE","prenom":"Marie Salomea","qualite":"Directrice","date_prise_de_poste":"1914-07-31"},
				                  {"nom":"REGAUD","prenom":"Claudius","qualite":"Directeur"}]},
				{"nom_entreprise":"RADIUM SERVICES","siren":"","representants":[]}
			]}`))
		case "/entreprise":
			detailCalls.Add(1)
			_, _ = w.Write([]byte(`{"siren":"` + q.Get("siren") + `","capital_social":1000}`))
		case "/recherche-publications":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "  "}, nil, nil)
	var cfgErr *dossier.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "sources.pappers_api_key", cfgErr.Key)
}

func TestCollectWithoutOrganizationIsEmpty(t *testing.T) {
	t.Parallel()

	src, err := New(Config{APIKey: "secret", BaseURL: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)

	urls, aux, err := src.Collect(context.Background(), dossier.Subject{FirstName: "Marie", LastName: "Curie"})
	require.NoError(t, err)
	require.Empty(t, urls)
	require.Nil(t, aux)
}

func TestCollectBuildsMarkerAndPayload(t *testing.T) {
	t.Parallel()

	var details atomic.Int32
	srv := registry(t, &details)
	src, err := New(Config{APIKey: "secret", BaseURL: srv.URL, Details: true, Publications: true}, srv.Client(), nil)
	require.NoError(t, err)

	subject := dossier.Subject{FirstName: "marie", LastName: "Curie", Organization: "Institut du Radium"}
	urls, aux, err := src.Collect(context.Background(), subject)
	require.NoError(t, err)

	marker := "pappers://legal-data/Institut%20du%20Radium"
	require.Equal(t, []dossier.CandidateURL{{URL: marker, Provider: "pappers"}}, urls)
	require.True(t, dossier.IsSyntheticMarker(marker))
	require.NotNil(t, aux)
	require.Equal(t, "pappers", aux.Provider)
	require.Equal(t, []string{marker}, aux.URLs)
	require.Empty(t, aux.Content)
	require.EqualValues(t, 1, details.Load())

	var payload Payload
	require.NoError(t, json.Unmarshal(aux.Payload, &payload))
	require.Equal(t, "Institut du Radium", payload.Query)
	require.Len(t, payload.Companies, 2)
	first := payload.Companies[0]
	require.True(t, first.PersonFound)
	require.Equal(t, []Mandate{{Role: "Directrice", StartDate: "1914-07-31", FullName: "Marie Salomea CURIE"}}, first.PersonMandates)
	require.JSONEq(t, `{"siren":"123456789","capital_social":1000}`, string(first.Details))
	require.False(t, payload.Companies[1].PersonFound)
	require.Nil(t, payload.Companies[1].Details)
	require.Nil(t, payload.Publications)
}

func TestCollectPropagatesSearchFailure(t *testing.T) {
	t.Parallel()

	var details atomic.Int32
	srv := registry(t, &details)
	src, err := New(Config{APIKey: "wrong", BaseURL: srv.URL}, srv.Client(), nil)
	require.NoError(t, err)

	_, _, err = src.Collect(context.Background(), dossier.Subject{FirstName: "Marie", LastName: "Curie", Organization: "Institut du Radium"})
	var se *statusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusUnauthorized, se.code)
}

func TestFindMandatesDefaultsRole(t *testing.T) {
	t.Parallel()

	got := findMandates(dossier.Subject{FirstName: "Pierre", LastName: "Curie"}, []representative{
		{LastName: "Curie", FirstName: "Pierre"},
		{LastName: "Curie", FirstName: "Marie"},
	})
	require.Equal(t, []Mandate{{Role: "N/A", FullName: "Pierre Curie"}}, got)
}
