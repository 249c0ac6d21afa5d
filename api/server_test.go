package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmellis/splitz/aggregate"
)

func testServer() *Server {
	return NewServer(zerolog.Nop())
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func testRequestRecords(n int) []aggregate.SubjectRecord {
	records := make([]aggregate.SubjectRecord, n)
	for i := range records {
		records[i] = aggregate.SubjectRecord{
			SubjectID: fmt.Sprintf("subject-%d", i),
			Outcome:   i % 3 % 2,
		}
	}
	return records
}

func TestHealthz(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunTestFrequentist(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/run-test", RunRequest{
		Records: testRequestRecords(2000),
		Groups:  "control:0-50,test1:50-100",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Result struct {
			Control aggregate.GroupCounts `json:"control"`
			Groups  []struct {
				Group       string `json:"group"`
				Frequentist struct {
					PValue      float64 `json:"pvalue"`
					Significant bool    `json:"significant"`
				} `json:"frequentist"`
			} `json:"groups"`
			Corrected []struct {
				Group    string  `json:"group"`
				Adjusted float64 `json:"corrected_pvalue"`
			} `json:"corrected"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "control", resp.Result.Control.Group)
	require.Len(t, resp.Result.Groups, 1)
	assert.Equal(t, "test1", resp.Result.Groups[0].Group)
	// m=1: correction leaves the p-value unchanged.
	require.Len(t, resp.Result.Corrected, 1)
	assert.InDelta(t, resp.Result.Groups[0].Frequentist.PValue, resp.Result.Corrected[0].Adjusted, 1e-12)
}

func TestRunTestBayesian(t *testing.T) {
	s := testServer()
	rec := postJSON(t, s, "/run-test", RunRequest{
		Records: testRequestRecords(2000),
		Groups:  "control:0-50,test1:50-100",
		Method:  "bayesian",
		Samples: 200,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Result struct {
			Groups []struct {
				Bayesian struct {
					Samples int `json:"samples"`
				} `json:"bayesian"`
			} `json:"groups"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Result.Groups, 1)
	assert.Equal(t, 200, resp.Result.Groups[0].Bayesian.Samples)
}

func TestRunTestErrors(t *testing.T) {
	s := testServer()

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/run-test", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing control group", func(t *testing.T) {
		rec := postJSON(t, s, "/run-test", RunRequest{
			Records: testRequestRecords(10),
			Groups:  "test1:0-50,test2:50-100",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown method", func(t *testing.T) {
		rec := postJSON(t, s, "/run-test", RunRequest{
			Records: testRequestRecords(10),
			Groups:  "control:0-50,test1:50-100",
			Method:  "fisher",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid outcome", func(t *testing.T) {
		rec := postJSON(t, s, "/run-test", RunRequest{
			Records: []aggregate.SubjectRecord{{SubjectID: "u1", Outcome: 3}},
			Groups:  "control:0-50,test1:50-100",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unassigned bucket", func(t *testing.T) {
		rec := postJSON(t, s, "/run-test", RunRequest{
			// "u2" hashes to bucket 88, outside every range here.
			Records: []aggregate.SubjectRecord{{SubjectID: "u2", Outcome: 1}},
			Groups:  "control:0-50,test1:50-60",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}
