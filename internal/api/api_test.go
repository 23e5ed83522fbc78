package api

import (
	"DeepTrace/internal/model"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type staticFlows struct {
	records []model.FeatureRecord
}

func (s *staticFlows) Len() int      { return len(s.records) }
func (s *staticFlows) Capacity() int { return 1000 }
func (s *staticFlows) Shards() int   { return 256 }

func (s *staticFlows) Snapshot(limit int) []model.FeatureRecord {
	if limit > 0 && limit < len(s.records) {
		return s.records[:limit]
	}
	return s.records
}

func sampleFlows() *staticFlows {
	return &staticFlows{records: []model.FeatureRecord{
		{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1234, DestinationPort: 80, TotalFwdPackets: 3},
		{SrcIP: "10.0.0.3", DstIP: "10.0.0.2", SrcPort: 5678, DestinationPort: 443, TotalFwdPackets: 1},
	}}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, NewRouter(sampleFlows()), "/__health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\n", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	rec := get(t, NewRouter(sampleFlows()), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStats(t *testing.T) {
	rec := get(t, NewRouter(sampleFlows()), "/api/v1/flows/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, StatsResponse{ActiveFlows: 2, Capacity: 1000, Shards: 256}, stats)
}

func TestFlows(t *testing.T) {
	router := NewRouter(sampleFlows())

	var resp FlowsResponse
	rec := get(t, router, "/api/v1/flows")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "10.0.0.1", resp.Flows[0].SrcIP)
	assert.Contains(t, rec.Body.String(), `"Total Fwd Packets":3`)

	rec = get(t, router, "/api/v1/flows?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = get(t, router, "/api/v1/flows?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, NewRouter(&staticFlows{}), "/api/v1/flows")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":0,"flows":[]}`, rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(sampleFlows()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/flows", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := NewServer("127.0.0.1:0", "127.0.0.1:0", sampleFlows(), logger)
	require.NoError(t, srv.Start())
	defer srv.Shutdown(context.Background())

	resp, err := http.Get("http://" + srv.HTTPAddr() + "/__health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conn, err := grpc.NewClient(srv.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check.Status)

	srv.SetServing(true)
	check, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check.Status)
}

func TestServer_Disabled(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := NewServer("", "", sampleFlows(), logger)
	require.NoError(t, srv.Start())
	srv.SetServing(true)
	assert.Empty(t, srv.HTTPAddr())
	assert.Empty(t, srv.GRPCAddr())
	assert.NoError(t, srv.Shutdown(context.Background()))
}
