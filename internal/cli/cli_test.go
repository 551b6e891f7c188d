package cli

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/podtato-smoke/internal/infra"
	"github.com/xela07ax/podtato-smoke/internal/metrics"
	"github.com/xela07ax/podtato-smoke/internal/report"
	"github.com/xela07ax/podtato-smoke/internal/threshold"
)

// podtatoServer поднимает сервер и направляет на него все запросы прогона.
// Возвращает счетчик запросов и адрес (host + path) первого из них.
func podtatoServer(t *testing.T, status int) (*atomic.Int64, func() string) {
	t.Helper()
	var hits atomic.Int64
	var first atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		first.CompareAndSwap(nil, r.Host+r.URL.Path)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	prev := transport
	transport = &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(ctx, network, srv.Listener.Addr().String())
		},
	}
	t.Cleanup(func() { transport = prev })
	return &hits, func() string {
		v, _ := first.Load().(string)
		return v
	}
}

func clearTargetEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"SERVICE", "STAGE", "SUBPATH"} {
		t.Setenv(name, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand("test")
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRun_Passes(t *testing.T) {
	clearTargetEnv(t)
	hits, target := podtatoServer(t, http.StatusOK)

	out, err := execute(t, "run", "--service", "left-arm", "--stage", "prod", "--subpath", "health", "--iterations", "10", "--vus", "2")

	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))
	assert.EqualValues(t, 10, hits.Load())
	assert.Equal(t, "podtato-left-arm-preview.podtatohead-prod.svc.cluster.local:8080/health", target())
	assert.Contains(t, out, "target:     http://podtato-left-arm-preview.podtatohead-prod.svc.cluster.local:8080/health")
	assert.Contains(t, out, "verdict: PASSED")
}

func TestRun_TargetFromEnv(t *testing.T) {
	t.Setenv("SERVICE", "hats")
	t.Setenv("STAGE", "dev")
	t.Setenv("SUBPATH", "images")
	hits, target := podtatoServer(t, http.StatusOK)

	_, err := execute(t, "run")

	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "default run is a single iteration")
	assert.Equal(t, "podtato-hats-preview.podtatohead-dev.svc.cluster.local:8080/images", target())
}

func TestRun_FailingStatusCrossesThreshold(t *testing.T) {
	clearTargetEnv(t)
	podtatoServer(t, http.StatusServiceUnavailable)

	out, err := execute(t, "run", "--service", "left-arm", "--stage", "prod", "--subpath", "health", "--iterations", "5")

	require.Error(t, err)
	assert.Equal(t, ExitThresholds, ExitCode(err))
	assert.Contains(t, out, "✗ errors: rate<0.1 (observed 1)")
	assert.Contains(t, out, "verdict: FAILED")
}

func TestRun_MissingParametersFailFast(t *testing.T) {
	clearTargetEnv(t)
	hits, _ := podtatoServer(t, http.StatusOK)

	_, err := execute(t, "run", "--service", "left-arm")

	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
	assert.Contains(t, err.Error(), "STAGE, SUBPATH")
	assert.Zero(t, hits.Load(), "no request before configuration is valid")
}

func TestRun_PermissiveSubstitutesEmpty(t *testing.T) {
	clearTargetEnv(t)
	_, target := podtatoServer(t, http.StatusOK)

	_, err := execute(t, "run", "--permissive")

	require.NoError(t, err)
	assert.Equal(t, "podtato--preview.podtatohead-.svc.cluster.local:8080/", target())
}

func TestRun_ThresholdFlagReplacesConfig(t *testing.T) {
	clearTargetEnv(t)
	podtatoServer(t, http.StatusNotFound)

	out, err := execute(t, "run", "--service", "a", "--stage", "b", "--subpath", "c", "--iterations", "4",
		"--threshold", "errors=rate<=1", "--out", "json")

	require.NoError(t, err)
	assert.Contains(t, out, `"threshold": "rate<=1"`)
	assert.NotContains(t, out, "p(95)<500")
}

func TestRun_RedisCountersFeedReport(t *testing.T) {
	clearTargetEnv(t)
	podtatoServer(t, http.StatusOK)
	mr := miniredis.RunT(t)

	_, err := execute(t, "run", "--service", "a", "--stage", "b", "--subpath", "c", "--iterations", "8",
		"--run-id", "run-42", "--redis", "--redis-addr", mr.Addr())
	require.NoError(t, err)

	out, err := execute(t, "report", "--source", "redis", "--run-id", "run-42", "--redis-addr", mr.Addr())
	require.NoError(t, err)
	assert.Contains(t, out, "run:        run-42")
	assert.Contains(t, out, "iterations..............: 8")
	assert.Contains(t, out, "verdict: PASSED")
}

func TestURLCommand(t *testing.T) {
	clearTargetEnv(t)

	out, err := execute(t, "url", "--service", "left-arm", "--stage", "prod", "--subpath", "health")

	require.NoError(t, err)
	assert.Equal(t, "http://podtato-left-arm-preview.podtatohead-prod.svc.cluster.local:8080/health\n", out)
}

func TestThresholdsCommand(t *testing.T) {
	out, err := execute(t, "thresholds")

	require.NoError(t, err)
	assert.Contains(t, out, "errors (rate): rate < 0.1")
	assert.Contains(t, out, "http_req_duration (trend): p(95) < 500")
}

func TestAbortCommand_RequiresRunID(t *testing.T) {
	_, err := execute(t, "abort")

	require.Error(t, err)
	assert.Equal(t, ExitConfiguration, ExitCode(err))
}

func TestParseThresholdFlags(t *testing.T) {
	spec, err := parseThresholdFlags([]string{"errors=rate<0.05", "http_req_duration=p(99)<800", "http_req_duration=avg<200"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"errors":            {"rate<0.05"},
		"http_req_duration": {"p(99)<800", "avg<200"},
	}, spec)

	for _, bad := range []string{"rate<0.1", "=rate<0.1", "errors="} {
		_, err := parseThresholdFlags([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitConfiguration, ExitCode(&infra.ConfigurationError{Missing: []string{"SERVICE"}}))
	assert.Equal(t, ExitThresholds, ExitCode(&ExitError{Code: ExitThresholds, Err: errors.New("x")}))
	assert.Equal(t, ExitAborted, ExitCode(&ExitError{Code: ExitAborted, Err: errors.New("x")}))
}

func TestVerdictError(t *testing.T) {
	reg := metrics.NewRegistry(nil)
	set, err := threshold.ParseSet(threshold.DefaultSpec())
	require.NoError(t, err)

	rep := report.Build(report.RunInfo{RunID: "run-1"}, reg, set)
	assert.NoError(t, verdictError(rep))

	rep = report.Build(report.RunInfo{RunID: "run-1", Aborted: true}, reg, set)
	assert.Equal(t, ExitAborted, ExitCode(verdictError(rep)))

	for i := 0; i < 10; i++ {
		reg.Errors.Add(true)
	}
	rep = report.Build(report.RunInfo{RunID: "run-1", Aborted: true}, reg, set)
	err = verdictError(rep)
	// Пересеченный порог важнее прерывания
	assert.Equal(t, ExitThresholds, ExitCode(err))
	assert.True(t, strings.HasPrefix(err.Error(), "thresholds crossed: errors: rate<0.1"))
}
