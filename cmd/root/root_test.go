package root

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "beacon version")
	assert.Contains(t, out, "Commit:")
}

func TestConsentCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "consent", "enable", "SegmentEditor")
	require.NoError(t, err)
	assert.Contains(t, out, "SegmentEditor: enabled")

	out, err = runCommand(t, "consent", "disable", "SampleData")
	require.NoError(t, err)
	assert.Contains(t, out, "SampleData: disabled")

	out, err = runCommand(t, "consent", "default", "allow")
	require.NoError(t, err)
	assert.Contains(t, out, "default: allow")

	out, err = runCommand(t, "consent", "upload", "yes")
	require.NoError(t, err)
	assert.Contains(t, out, "upload: yes")

	out, err = runCommand(t, "consent", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "default: allow")
	assert.Contains(t, out, "upload: yes")
	assert.Contains(t, out, "SegmentEditor: enabled")
	assert.Contains(t, out, "SampleData: disabled")
}

func TestConsentCommand_RejectsInvalidValues(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runCommand(t, "consent", "enable", "has space")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid component name")

	_, err = runCommand(t, "consent", "upload", "maybe")
	require.Error(t, err)
}

func TestConsentPathCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "consent", "path")
	require.NoError(t, err)
	assert.Contains(t, out, "consent.yaml")
}

func TestLogCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "log", "SegmentEditor", "apply")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded SegmentEditor/apply x1")

	out, err = runCommand(t, "log", "Markups", "place-point", "--count", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "x3")
}

func TestLogCommand_Validation(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, err := runCommand(t, "log", "has space", "apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid component name")

	_, err = runCommand(t, "log", "SegmentEditor", "apply", "--count", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1")

	_, err = runCommand(t, "log", "SegmentEditor")
	require.Error(t, err)
}

func TestStatusCommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	out, err := runCommand(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Upload: ask")
	assert.Contains(t, out, "Last upload: never")
	assert.Contains(t, out, "Pending events: 0")
}

func TestExecute_NoBannerWhenTelemetryDisabled(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("BEACON_TELEMETRY_ENABLED", "false")

	var out, errOut bytes.Buffer
	err := Execute(context.Background(), strings.NewReader(""), &out, &errOut, "version")
	require.NoError(t, err)
	assert.NotContains(t, errOut.String(), "counts anonymous usage events")
	// The first-run marker is still consumed, so enabling telemetry later
	// does not resurrect the notice.
	assert.False(t, isFirstRun())
}

func TestIsFirstRun(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	assert.True(t, isFirstRun())
	assert.False(t, isFirstRun(), "marker file must persist")
}

func TestRuntimeErrorUnwrap(t *testing.T) {
	t.Parallel()

	inner := assert.AnError
	err := RuntimeError{Err: inner}
	assert.Equal(t, inner.Error(), err.Error())
	assert.ErrorIs(t, err, inner)
}
