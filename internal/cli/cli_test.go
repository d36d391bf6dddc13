package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/app"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/config"
	"github.com/cubtecnologiadev-matheus/detech-whatsssap/internal/verify"
)

func clickToChat(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Query().Get("phone"), "0000") {
			_, _ = w.Write([]byte(`<a href="https://wa.me/x">Continue to Chat</a>`))
			return
		}
		_, _ = w.Write([]byte(`<p>not on WhatsApp</p>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
logging:
  development: false
  level: error
prober:
  base_url: %q
runner:
  item_delay_ms: 1
storage:
  backend: local
  base_dir: %q
`, baseURL+"/send/?phone=", filepath.Join(dir, "data"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(app.WithRegisterer(prometheus.NewRegistry()))
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCheck_FromStdin(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, clickToChat(t).URL)

	out, err := runCLI(t, "11999990000\n(11) 98888-7777\n123\n", "--config", cfgPath, "check")
	require.NoError(t, err, out)

	var rep verify.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, 2, rep.Total)
	assert.Equal(t, 2, rep.Processed)
	assert.Equal(t, []verify.Identifier{"5511999990000"}, rep.HasMatch)
	assert.Equal(t, []verify.Identifier{"5511988887777"}, rep.NoMatch)
	assert.Empty(t, rep.Errors)

	stored := filepath.Join(filepath.Dir(cfgPath), "data", "runs", "run_"+rep.ID+".json")
	assert.FileExists(t, stored)
}

func TestCheck_FromFile(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, clickToChat(t).URL)
	numbers := filepath.Join(t.TempDir(), "numbers.txt")
	require.NoError(t, os.WriteFile(numbers, []byte("5511977770000\n"), 0o600))

	out, err := runCLI(t, "", "--config", cfgPath, "check", numbers)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"5511977770000"`)
}

func TestCheck_Errors(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, clickToChat(t).URL)

	_, err := runCLI(t, "123\nabc\n", "--config", cfgPath, "check")
	require.ErrorContains(t, err, "no valid numbers found")

	_, err = runCLI(t, "", "--config", cfgPath, "check", filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorContains(t, err, "read numbers")

	_, err = runCLI(t, "", "--config", filepath.Join(t.TempDir(), "absent.yaml"), "check")
	require.ErrorContains(t, err, "load config")

	_, err = runCLI(t, "11999990000", "--config", cfgPath, "--log-level", "loud", "check")
	require.ErrorContains(t, err, "init logger")
}

func TestAcquireLock(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested")
	first, err := acquireLock(dir)
	require.NoError(t, err)

	_, err = acquireLock(dir)
	require.ErrorContains(t, err, "already using")

	require.NoError(t, first.Unlock())
	second, err := acquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

func TestLockDir(t *testing.T) {
	t.Parallel()

	withSession := config.Config{
		Session: config.SessionConfig{Enabled: true, UserDataDir: "data/session"},
		Storage: config.StorageConfig{BaseDir: "reports"},
	}
	assert.Equal(t, "data", lockDir(withSession))

	withoutSession := withSession
	withoutSession.Session.Enabled = false
	assert.Equal(t, "reports", lockDir(withoutSession))

	assert.Equal(t, os.TempDir(), lockDir(config.Config{}))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestServe_StartsAndShutsDown(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Config{
		Server:   config.ServerConfig{Port: freePort(t), MaxBodyBytes: 1 << 20},
		Prober:   config.ProberConfig{BaseURL: clickToChat(t).URL + "/send/?phone=", TimeoutSeconds: 5},
		Storage:  config.StorageConfig{Backend: config.StorageLocal, BaseDir: dir, Prefix: "runs"},
		Progress: config.ProgressConfig{BufferSize: 64},
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	_, err := acquireLock(dir)
	require.ErrorContains(t, err, "already using")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
