package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/survey-agent/crew"
	"github.com/fabfab/survey-agent/metrics"
	"github.com/fabfab/survey-agent/pipeline"
	"github.com/fabfab/survey-agent/retrieval"
)

type stubAsker struct {
	answer    string
	err       error
	questions []string
}

func (s *stubAsker) Run(_ context.Context, question string) (string, error) {
	s.questions = append(s.questions, question)
	return s.answer, s.err
}

func post(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestAsk(t *testing.T) {
	asker := &stubAsker{answer: "> #### Short answer\n\n🎂 Yes"}
	srv := New(asker, nil, nil)

	rec := post(t, srv, `{"question": "Is it possible to cook a cake?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, asker.answer, resp.Answer)
	assert.Equal(t, []string{"Is it possible to cook a cake?"}, asker.questions)
}

func TestAskRejectsBadRequests(t *testing.T) {
	asker := &stubAsker{}
	srv := New(asker, nil, nil)

	for name, body := range map[string]string{
		"empty question": `{"question": "   "}`,
		"unknown field":  `{"question": "x", "limit": 3}`,
		"not json":       `question=x`,
		"two objects":    `{"question": "x"} {"question": "y"}`,
		"no body":        ``,
	} {
		t.Run(name, func(t *testing.T) {
			rec := post(t, srv, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
	assert.Empty(t, asker.questions)
}

func TestAskErrorStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusServiceUnavailable:  fmt.Errorf("retrieve passages: %w", retrieval.ErrRetrievalUnavailable),
		http.StatusBadGateway:          fmt.Errorf("run crew: %w", crew.ErrOrchestration),
		http.StatusBadRequest:          pipeline.ErrEmptyPrompt,
		http.StatusGatewayTimeout:      context.DeadlineExceeded,
		http.StatusInternalServerError: io.ErrUnexpectedEOF,
	}
	for status, err := range cases {
		srv := New(&stubAsker{err: err}, nil, nil)
		rec := post(t, srv, `{"question": "q"}`)
		assert.Equal(t, status, rec.Code, err.Error())
	}
}

func TestWrongMethod(t *testing.T) {
	srv := New(&stubAsker{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ask", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	m.PipelineRun("ok", 0)
	srv := New(&stubAsker{}, m, nil)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "survey_agent_pipeline_runs_total")
}

func TestMetricsDisabled(t *testing.T) {
	srv := New(&stubAsker{}, nil, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
