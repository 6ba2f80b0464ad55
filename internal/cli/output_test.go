package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(MakeResult{Output: "a.tdb", Events: 3, Trails: 2})
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("E_INPUT", "line 3: unknown field \"z\"")
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_INPUT", resp.Error.Code)
	assert.Equal(t, "line 3: unknown field \"z\"", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(MakeResult{Output: "a.tdb", Events: 3, Trails: 2})
	require.NoError(t, err)
	assert.Equal(t, "wrote 3 events in 2 trails to a.tdb\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Error("E_STORE", "disk full")
	require.NoError(t, err)
	assert.Equal(t, "Error [E_STORE]: disk full\n", buf.String())
}

func TestExitError_Message(t *testing.T) {
	cause := errors.New("no such file")

	assert.Equal(t, "too few arguments", NewExitError(ExitFailure, "too few arguments").Error())
	assert.Equal(t, "open failed: no such file", WrapExitError(ExitCommandError, "open failed", cause).Error())
	assert.Equal(t, "invalid cookie: abc", (&ExitError{Code: ExitFailure, Err: errors.New("invalid cookie: abc")}).Error())
}

func TestGetExitCode(t *testing.T) {
	cause := errors.New("boom")

	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(cause))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "bad input")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "store", cause)))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "store", cause))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, cause)
}
