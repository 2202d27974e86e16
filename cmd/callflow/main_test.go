package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukex/callflow/pkg/engine"
	"github.com/dukex/callflow/pkg/flowfile"
	"github.com/dukex/callflow/pkg/models"
	"github.com/dukex/callflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFlow(t *testing.T, name string, flow *models.Flow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, flowfile.Write(path, flow))

	return path
}

func TestRunValidate(t *testing.T) {
	good := writeFlow(t, "menu.yaml", testutil.MenuFlow(1))
	bad := writeFlow(t, "broken.json", testutil.CreateTestFlow([]*models.FlowNode{
		testutil.MessageNode("message", "Hi", "end"),
		testutil.EndNode("end"),
	}))

	var out bytes.Buffer
	require.NoError(t, runValidate(&out, []string{good}, false))
	assert.Contains(t, out.String(), "menu.yaml: ok")

	out.Reset()
	err := runValidate(&out, []string{good, bad}, false)
	require.ErrorIs(t, err, errValidationFailed)
	assert.Contains(t, out.String(), "broken.json: FAIL")
	assert.Contains(t, out.String(), "NoEntryPoint")

	require.Error(t, runValidate(&out, nil, false))
}

func TestSimulate_ScriptedInput(t *testing.T) {
	var out bytes.Buffer

	session, err := simulate(context.Background(), engine.New(), testutil.MenuFlow(1), simulateOptions{
		inputs: []string{"2"},
		in:     strings.NewReader(""),
		out:    &out,
	})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Contains(t, out.String(), "input_received: 2")
	assert.Contains(t, out.String(), "flow_completed")
	assert.Equal(t, len(session.Events), strings.Count(out.String(), "\n"))
}

func TestSimulate_ReadsStdinThenHangsUp(t *testing.T) {
	var out bytes.Buffer

	session, err := simulate(context.Background(), engine.New(), testutil.MenuFlow(1), simulateOptions{
		in:  strings.NewReader("9\n"),
		out: &out,
	})
	require.NoError(t, err)

	// "9" matches no option, the retry prompt is then cut off by end of input.
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Contains(t, out.String(), "input_received: 9")
	assert.Contains(t, out.String(), "flow_stopped")
}

func TestRunSimulate_NoEntryPoint(t *testing.T) {
	path := writeFlow(t, "empty.json", testutil.CreateTestFlow([]*models.FlowNode{testutil.EndNode("end")}))

	err := runSimulate(context.Background(), simulateOptions{
		path:     path,
		maxSteps: engine.DefaultMaxSteps,
		in:       strings.NewReader(""),
		out:      &bytes.Buffer{},
	})
	require.ErrorIs(t, err, engine.ErrNoEntryPoint)
}
