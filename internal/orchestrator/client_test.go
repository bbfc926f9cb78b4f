package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/compai/avatar-relay/internal/domain"
)

func newTestServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL + "/odata", PAT: "pat"})
	require.NoError(t, err)
	return c
}

func TestODataURL(t *testing.T) {
	cfg := Config{Organization: "org", Tenant: "DEMO"}
	require.Equal(t, "https://cloud.uipath.com/org/DEMO/orchestrator_/odata/", cfg.ODataURL())

	cfg.BaseURL = "http://localhost:9000/odata/"
	require.Equal(t, "http://localhost:9000/odata/", cfg.ODataURL())
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{Organization: "o", Tenant: "t"})
	require.Error(t, err)
	_, err = NewClient(Config{PAT: "p"})
	require.Error(t, err)
	_, err = NewClient(Config{PAT: "p", Organization: "o", Tenant: "t"})
	require.NoError(t, err)
}

func TestFindReleaseByName(t *testing.T) {
	var filter string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/odata/Releases", r.URL.Path)
		require.Equal(t, "Bearer pat", r.Header.Get("Authorization"))
		filter = r.URL.Query().Get("$filter")
		_, _ = w.Write([]byte(`{"value":[{"Key":"rel-key","Name":"RPA.Workflow","ProcessKey":"RPA.Workflow"}]}`))
	})

	rel, err := c.FindReleaseByName(t.Context(), "RPA.Workflow")
	require.NoError(t, err)
	require.Equal(t, "rel-key", rel.Key)
	require.Equal(t, "Name eq 'RPA.Workflow'", filter)
}

func TestFindReleaseEscapesQuotes(t *testing.T) {
	var filter string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		filter = r.URL.Query().Get("$filter")
		_, _ = w.Write([]byte(`{"value":[{"Key":"k"}]}`))
	})

	_, err := c.FindReleaseByName(t.Context(), "O'Brien")
	require.NoError(t, err)
	require.Equal(t, "Name eq 'O''Brien'", filter)
}

func TestFindReleaseNotFound(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[]}`))
	})

	_, err := c.FindReleaseByName(t.Context(), "Missing")
	require.ErrorIs(t, err, domain.ErrProcessNotFound)
}

func TestStartJob(t *testing.T) {
	var body map[string]map[string]any
	var orgUnit string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/odata/Jobs/UiPath.Server.Configuration.OData.StartJobs", r.URL.Path)
		orgUnit = r.Header.Get("X-UIPATH-OrganizationUnitId")
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"value":[{"Id":4242,"Key":"job-key","State":"Pending"}]}`))
	})

	job, err := c.StartJob(t.Context(), StartJobRequest{ReleaseKey: "rel-key", InputArguments: `{"InCorreo":"a@b.co"}`})
	require.NoError(t, err)
	require.Equal(t, int64(4242), job.ID)
	require.Equal(t, "job-key", job.Key)

	require.Equal(t, DefaultOrganizationUnitID, orgUnit)
	info := body["startInfo"]
	require.Equal(t, "rel-key", info["ReleaseKey"])
	require.Equal(t, "ModernJobsCount", info["Strategy"])
	require.Equal(t, "Development", info["RuntimeType"])
	require.Equal(t, "Manual", info["Source"])
	require.Equal(t, "Normal", info["JobPriority"])
	require.EqualValues(t, 1, info["JobsCount"])
	require.Equal(t, `{"InCorreo":"a@b.co"}`, info["InputArguments"])
}

func TestStartJobFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"message":"robot busy"}`))
	})

	_, err := c.StartJob(t.Context(), StartJobRequest{ReleaseKey: "k"})
	require.ErrorIs(t, err, domain.ErrProviderError)
	require.Equal(t, http.StatusConflict, domain.StatusCodeOf(err))
}

func TestGetJob(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/odata/Jobs(77)", r.URL.Path)
		_, _ = w.Write([]byte(`{"Id":77,"Key":"k","State":"Faulted","Info":"Robot crashed","OutputArguments":null,"ReleaseName":"RPA.Workflow"}`))
	})

	job, err := c.GetJob(t.Context(), 77)
	require.NoError(t, err)
	require.Equal(t, "Faulted", job.State)
	require.Equal(t, "Robot crashed", job.Info)
	require.Nil(t, job.OutputArguments)
	require.Contains(t, string(job.Raw), `"ReleaseName":"RPA.Workflow"`)
}
