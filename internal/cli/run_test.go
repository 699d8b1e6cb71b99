package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillnb/quill/internal/llm"
)

type stubCaller struct {
	reply string
	err   error
	calls []string
}

func (s *stubCaller) Call(ctx context.Context, model, userPrompt, systemPrompt string, params map[string]any) (llm.Result, error) {
	s.calls = append(s.calls, userPrompt)
	if s.err != nil {
		return llm.Result{}, s.err
	}
	return llm.Result{Text: s.reply}, nil
}

func TestRunCodeOnlyNotebook(t *testing.T) {
	path := writeNotebook(t, `
cells:
  - id: x
    type: variable
    name: x
    text: "21"
  - id: c1
    type: code
    name: doubled
    text: "out := {{x}} * 2"
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "== doubled (code)")
	assert.Contains(t, buf.String(), "42")
}

func TestRunFailingCellSetsExitCode(t *testing.T) {
	path := writeNotebook(t, `
cells:
  - id: c1
    type: code
    text: "out := undefined_symbol"
`)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "FAILED")
}

func TestRunPromptNotebookWithStubProvider(t *testing.T) {
	path := writeNotebook(t, `
default_model: test-model
cells:
  - id: x
    type: variable
    name: topic
    text: "turtles"
  - id: p1
    type: prompt
    name: answer
    text: "tell me about {{topic}}"
`)

	caller := &stubCaller{reply: "turtles all the way down"}
	opts := &RunOptions{RootOptions: &RootOptions{Format: "json"}, Caller: caller}

	buf := &bytes.Buffer{}
	shell := &cobra.Command{}
	shell.SetOut(buf)

	require.NoError(t, runNotebook(opts, path, shell))

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "tell me about turtles", caller.calls[0],
		"prompt text is expanded before the provider call")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRunPromptFailureRecorded(t *testing.T) {
	path := writeNotebook(t, `
default_model: test-model
cells:
  - id: p1
    type: prompt
    text: "hello"
`)

	caller := &stubCaller{err: fmt.Errorf("provider unavailable")}
	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}, Caller: caller}

	buf := &bytes.Buffer{}
	shell := &cobra.Command{}
	shell.SetOut(buf)

	err := runNotebook(opts, path, shell)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "provider unavailable")
}
