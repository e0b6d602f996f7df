package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/circuit"
	"presence/pkg/platform/sentinel"
)

// fakeIndexServer serves the REST contract on top of an InMemory index.
type fakeIndexServer struct {
	backing  *InMemory
	failNext atomic.Int32
	status   atomic.Int32
}

func (f *fakeIndexServer) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("Authorization") != "Bearer secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if f.failNext.Load() > 0 {
				f.failNext.Add(-1)
				w.WriteHeader(int(f.status.Load()))
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/v1/collections/employees/bindings", func(w http.ResponseWriter, req *http.Request) {
		var body enrollRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		bid, err := f.backing.Enroll(req.Context(), body.Sample, id.EmployeeID(body.ExternalID))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(enrollResponse{BindingID: bid.String()})
	})
	r.Post("/v1/collections/employees/bindings:batchDelete", func(w http.ResponseWriter, req *http.Request) {
		var body batchDeleteRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		n, _ := f.backing.BatchDelete(req.Context(), body.BindingIDs)
		_ = json.NewEncoder(w).Encode(batchDeleteResponse{Deleted: n})
	})
	r.Post("/v1/collections/employees/bindings/{action}", func(w http.ResponseWriter, req *http.Request) {
		action := chi.URLParam(req, "action")
		const suffix = ":verify"
		if len(action) <= len(suffix) || action[len(action)-len(suffix):] != suffix {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body verifyRequest
		_ = json.NewDecoder(req.Body).Decode(&body)
		m, err := f.backing.Verify1to1(req.Context(), body.Sample, id.BindingID(action[:len(action)-len(suffix)]))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(verifyResponse{Matched: m.Matched, Confidence: m.Confidence})
	})
	r.Get("/v1/collections/employees/bindings", func(w http.ResponseWriter, req *http.Request) {
		page, _ := f.backing.ListPage(req.Context(), req.URL.Query().Get("page_token"))
		_ = json.NewEncoder(w).Encode(listResponse{Bindings: page.Entries, NextPageToken: page.NextCursor})
	})
	return r
}

type HTTPClientSuite struct {
	suite.Suite
	ctx    context.Context
	fake   *fakeIndexServer
	server *httptest.Server
	client *HTTPClient
}

func TestHTTPClientSuite(t *testing.T) {
	suite.Run(t, new(HTTPClientSuite))
}

func (s *HTTPClientSuite) SetupTest() {
	s.ctx = context.Background()
	s.fake = &fakeIndexServer{backing: NewInMemory(WithPageSize(2), WithMaxBatchSize(10))}
	s.server = httptest.NewServer(s.fake.router())
	s.client = NewHTTPClient(s.server.URL, "employees",
		WithAPIKey("secret"),
		WithBatchLimit(10),
		WithBreaker(circuit.New("test-index", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))),
	)
}

func (s *HTTPClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *HTTPClientSuite) TestRoundTrip() {
	bindingID, err := s.client.Enroll(s.ctx, models.Sample("face-A"), "SRM001")
	s.Require().NoError(err)
	s.NotEmpty(bindingID)

	match, err := s.client.Verify1to1(s.ctx, models.Sample("face-A"), bindingID)
	s.Require().NoError(err)
	s.True(match.Matched)

	match, err = s.client.Verify1to1(s.ctx, models.Sample("face-B"), bindingID)
	s.Require().NoError(err)
	s.False(match.Matched)

	_, err = s.client.Verify1to1(s.ctx, models.Sample("face-A"), "missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *HTTPClientSuite) TestScanFollowsPageTokens() {
	for _, emp := range []id.EmployeeID{"E1", "E2", "E3", "E4", "E5"} {
		_, err := s.client.Enroll(s.ctx, models.Sample("x"), emp)
		s.Require().NoError(err)
	}
	count := 0
	for _, err := range Scan(s.ctx, s.client) {
		s.Require().NoError(err)
		count++
	}
	s.Equal(5, count)
}

func (s *HTTPClientSuite) TestBatchDelete() {
	a, err := s.client.Enroll(s.ctx, models.Sample("x"), "E1")
	s.Require().NoError(err)
	deleted, err := s.client.BatchDelete(s.ctx, []id.BindingID{a, "missing"})
	s.Require().NoError(err)
	s.Equal(1, deleted)

	_, err = s.client.BatchDelete(s.ctx, make([]id.BindingID, 11))
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *HTTPClientSuite) TestStatusMapping() {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, sentinel.ErrThrottled},
		{http.StatusConflict, sentinel.ErrConflict},
		{http.StatusServiceUnavailable, sentinel.ErrUnavailable},
	}
	for _, tc := range cases {
		s.client.breaker.Reset()
		s.fake.status.Store(int32(tc.status))
		s.fake.failNext.Store(1)
		_, err := s.client.ListPage(s.ctx, "")
		s.ErrorIs(err, tc.want, "status %d", tc.status)
	}
}

func (s *HTTPClientSuite) TestCircuitOpensAfterConsecutiveFailures() {
	s.fake.status.Store(http.StatusBadGateway)
	s.fake.failNext.Store(2)

	for range 2 {
		_, err := s.client.ListPage(s.ctx, "")
		s.ErrorIs(err, sentinel.ErrUnavailable)
	}
	s.True(s.client.breaker.IsOpen())

	// The server has recovered, but the open circuit fails fast.
	_, err := s.client.ListPage(s.ctx, "")
	s.ErrorIs(err, sentinel.ErrUnavailable)
	s.Contains(err.Error(), "circuit")
}

func (s *HTTPClientSuite) TestThrottlingDoesNotOpenCircuit() {
	s.fake.status.Store(http.StatusTooManyRequests)
	s.fake.failNext.Store(5)
	for range 5 {
		_, err := s.client.ListPage(s.ctx, "")
		s.ErrorIs(err, sentinel.ErrThrottled)
	}
	s.False(s.client.breaker.IsOpen())
}
