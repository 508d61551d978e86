package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fittrack/backend/internal/config"
	apperrors "github.com/fittrack/backend/internal/errors"
	"github.com/fittrack/backend/internal/models"
)

// writeConfig writes a config file with a private data directory and
// clears environment overrides.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	for _, key := range []string{
		config.EnvDataDir, config.EnvRemoteURL, config.EnvAPIKey, config.EnvUserID,
		config.EnvAccessToken, config.EnvLogLevel, config.EnvMaxRetries,
	} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "fittrack.yaml")
	content := fmt.Sprintf("data_dir: %s\nlogging:\n  level: error\n%s", filepath.Join(dir, "data"), extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), cfgPath, args...)
}

func executeContext(t *testing.T, ctx context.Context, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// decodeData decodes the data field of a JSON response.
func decodeData(t *testing.T, out string, v interface{}) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

// fakeRemote is a PostgREST-style server that accepts every write.
type fakeRemote struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]interface{}
	reject   int
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	f.bodies = append(f.bodies, body)
	reject := f.reject
	f.mu.Unlock()

	if reject != 0 {
		w.WriteHeader(reject)
		return
	}
	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeRemote) rejectWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reject = status
}

func (f *fakeRemote) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func remoteConfig(t *testing.T) (*fakeRemote, string) {
	t.Helper()
	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	t.Cleanup(srv.Close)

	cfg := writeConfig(t, fmt.Sprintf(`remote:
  url: %s
  api_key: anon-key
auth:
  user_id: user-42
  access_token: token-42
`, srv.URL))
	return remote, cfg
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fittrack", cmd.Use)

	for _, path := range [][]string{
		{"run"}, {"sync"}, {"status"}, {"cleanup"},
		{"queue", "list"}, {"queue", "clear"},
		{"workout", "record"}, {"workout", "delete"}, {"workout", "history"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, cfg, "--format", "xml", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "sync:\n  max_retries: 0\n")
	_, err := execute(t, cfg, "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, apperrors.Is(err, apperrors.ErrConfig))
}

func TestWorkoutRecordAndHistory(t *testing.T) {
	cfg := writeConfig(t, "")

	out, err := execute(t, cfg, "--format", "json", "workout", "record",
		"--exercise", "12", "--muscle", "3", "--reps", "10", "--weight", "62.5",
		"--at", "2024-03-01T08:30:00Z")
	require.NoError(t, err)

	var recorded models.Workout
	decodeData(t, out, &recorded)
	assert.NotZero(t, recorded.ID)
	assert.NotEmpty(t, recorded.SyncID)
	assert.Equal(t, models.SyncStatusPending, recorded.SyncStatus)
	require.NotNil(t, recorded.Reps)
	assert.Equal(t, 10, *recorded.Reps)
	assert.Nil(t, recorded.RegionID)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC).UnixMilli(), recorded.Timestamp)

	out, err = execute(t, cfg, "--format", "json", "workout", "history")
	require.NoError(t, err)
	var history []models.Workout
	decodeData(t, out, &history)
	require.Len(t, history, 1)
	assert.Equal(t, recorded.SyncID, history[0].SyncID)

	out, err = execute(t, cfg, "workout", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "exercise=12 muscle=3 reps=10 weight=62.5kg")
	assert.Contains(t, out, "2024-03-01T08:30:00.000Z")
}

func TestWorkoutHistory_Filters(t *testing.T) {
	cfg := writeConfig(t, "")

	record := func(muscle, at string) {
		t.Helper()
		_, err := execute(t, cfg, "workout", "record", "--exercise", "12", "--muscle", muscle, "--at", at)
		require.NoError(t, err)
	}
	record("3", "2024-03-01T08:30:00Z")
	record("5", "2024-03-02T18:00:00Z")
	record("3", "2024-03-09T07:00:00Z")

	history := func(args ...string) []models.Workout {
		t.Helper()
		out, err := execute(t, cfg, append([]string{"--format", "json", "workout", "history"}, args...)...)
		require.NoError(t, err)
		var list []models.Workout
		decodeData(t, out, &list)
		return list
	}

	byMuscle := history("--muscle", "3")
	require.Len(t, byMuscle, 2)
	for _, w := range byMuscle {
		assert.Equal(t, 3, w.MuscleID)
	}

	week := history("--from", "2024-03-01", "--to", "2024-03-02")
	require.Len(t, week, 2, "date-only upper bound covers the whole day")
	assert.Equal(t, 5, week[0].MuscleID)

	both := history("--muscle", "3", "--from", "2024-03-05T00:00:00Z")
	require.Len(t, both, 1)
	assert.Equal(t, time.Date(2024, 3, 9, 7, 0, 0, 0, time.UTC).UnixMilli(), both[0].Timestamp)

	_, err := execute(t, cfg, "workout", "history", "--from", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, cfg, "workout", "history", "--from", "2024-03-09", "--to", "2024-03-01")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWorkoutRecord_Validation(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, cfg, "workout", "record", "--muscle", "3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")

	_, err = execute(t, cfg, "workout", "record", "--exercise", "1", "--muscle", "3", "--reps", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = execute(t, cfg, "workout", "record", "--exercise", "1", "--muscle", "3", "--at", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestWorkoutDelete_NotFound(t *testing.T) {
	cfg := writeConfig(t, "")

	_, err := execute(t, cfg, "workout", "delete", "99")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = execute(t, cfg, "workout", "delete", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatus_LocalOnly(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, cfg, "workout", "record", "--exercise", "1", "--muscle", "2")
	require.NoError(t, err)

	out, err := execute(t, cfg, "--format", "json", "status")
	require.NoError(t, err)

	var report StatusReport
	decodeData(t, out, &report)
	assert.Equal(t, "idle", report.State)
	assert.False(t, report.Online)
	assert.False(t, report.SignedIn)
	assert.False(t, report.RemoteEnabled)
	assert.Equal(t, 3, report.MaxRetries)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Unsynced)
	assert.Empty(t, report.Parked)

	out, err = execute(t, cfg, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:   1")
	assert.Contains(t, out, "Network:   offline")
}

func TestSync_Offline(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, cfg, "workout", "record", "--exercise", "1", "--muscle", "2")
	require.NoError(t, err)

	out, err := execute(t, cfg, "sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "No network connection\n", out)
}

func TestSync_TransmitsQueue(t *testing.T) {
	remote, cfg := remoteConfig(t)

	_, err := execute(t, cfg, "workout", "record", "--exercise", "5", "--muscle", "2", "--reps", "8")
	require.NoError(t, err)

	out, err := execute(t, cfg, "--format", "json", "sync")
	require.NoError(t, err)

	var result struct {
		Success     bool   `json:"success"`
		SyncedCount int    `json:"synced_count"`
		ErrorCount  int    `json:"error_count"`
		Message     string `json:"message"`
	}
	decodeData(t, out, &result)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.SyncedCount)
	assert.Equal(t, "Synced 1 items, 0 errors", result.Message)

	require.Equal(t, []string{"POST /rest/v1/workouts?"}, remote.calls())
	remote.mu.Lock()
	body := remote.bodies[0]
	remote.mu.Unlock()
	assert.Equal(t, "user-42", body["user_id"])
	assert.Equal(t, float64(8), body["reps"])

	out, err = execute(t, cfg, "--format", "json", "workout", "history")
	require.NoError(t, err)
	var history []models.Workout
	decodeData(t, out, &history)
	require.Len(t, history, 1)
	assert.Equal(t, models.SyncStatusSynced, history[0].SyncStatus)

	out, err = execute(t, cfg, "queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty\n", out)
}

func TestDeleteSyncAndCleanup(t *testing.T) {
	remote, cfg := remoteConfig(t)

	out, err := execute(t, cfg, "--format", "json", "workout", "record", "--exercise", "5", "--muscle", "2")
	require.NoError(t, err)
	var w models.Workout
	decodeData(t, out, &w)

	_, err = execute(t, cfg, "sync")
	require.NoError(t, err)

	_, err = execute(t, cfg, "workout", "delete", fmt.Sprint(w.ID))
	require.NoError(t, err)

	// Nothing to purge until the deletion is confirmed.
	out, err = execute(t, cfg, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "Removed 0 deleted workouts\n", out)

	_, err = execute(t, cfg, "sync")
	require.NoError(t, err)

	calls := remote.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "PATCH /rest/v1/workouts?id=eq."+w.SyncID, calls[1])

	out, err = execute(t, cfg, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "Removed 1 deleted workouts\n", out)
}

func TestSync_RejectedParksAfterRetries(t *testing.T) {
	remote, cfg := remoteConfig(t)
	remote.rejectWith(http.StatusServiceUnavailable)

	_, err := execute(t, cfg, "workout", "record", "--exercise", "5", "--muscle", "2")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = execute(t, cfg, "sync")
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
	}

	// Parked records are skipped, so the pass succeeds with nothing to do.
	out, err := execute(t, cfg, "sync")
	require.NoError(t, err)
	assert.Equal(t, "Synced 0 items, 0 errors\n", out)
	assert.Len(t, remote.calls(), 3)

	out, err = execute(t, cfg, "--format", "json", "queue", "list", "--parked")
	require.NoError(t, err)
	var parked []models.MutationRecord
	decodeData(t, out, &parked)
	require.Len(t, parked, 1)
	assert.Equal(t, 3, parked[0].RetryCount)
	assert.Contains(t, parked[0].LastError, "503")

	out, err = execute(t, cfg, "--format", "json", "workout", "history")
	require.NoError(t, err)
	var history []models.Workout
	decodeData(t, out, &history)
	require.Len(t, history, 1)
	assert.Equal(t, models.SyncStatusError, history[0].SyncStatus)
}

func TestQueueClear(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := execute(t, cfg, "workout", "record", "--exercise", "1", "--muscle", "2")
	require.NoError(t, err)

	_, err = execute(t, cfg, "queue", "clear")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, cfg, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "workout/")
	assert.Contains(t, out, "CREATE")

	out, err = execute(t, cfg, "queue", "clear", "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Dropped 1 queued changes\n", out)

	out, err = execute(t, cfg, "queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "Queue is empty\n", out)
}

func TestRun_StopsOnCancel(t *testing.T) {
	_, cfg := remoteConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := executeContext(t, ctx, cfg, "run", "--no-status")
		errCh <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", fmt.Errorf("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "outer: inner: cause", wrapped.Error())
}

func TestOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	o := &Output{Format: "json", Writer: buf}
	require.NoError(t, o.Error(apperrors.New(apperrors.ErrQueue, "broken")))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(apperrors.ErrQueue), resp.Error.Code)

	buf.Reset()
	o.Format = "text"
	require.NoError(t, o.Success("hello", nil))
	assert.Equal(t, "hello\n", buf.String())

	buf.Reset()
	require.NoError(t, o.Error(fmt.Errorf("boom")))
	assert.True(t, strings.HasPrefix(buf.String(), "Error [INTERNAL_ERROR]: boom"))
}
