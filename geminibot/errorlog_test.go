package geminibot

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestErrorLogRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	errorLog := NewErrorLog(path, nil)
	require.NotNil(t, errorLog)

	errorLog.Record(
		ErrorLogEntry{
			Message:     "what happened?",
			Err:         "quota exceeded",
			History:     "4 turns",
			Candidates:  "0 candidates",
			BlockReason: "",
		},
	)
	errorLog.Record(
		ErrorLogEntry{
			Message: "second failure",
			Err:     "timeout",
		},
	)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "Message: what happened?")
	assert.Contains(t, content, "quota exceeded")
	assert.Contains(t, content, "4 turns")
	assert.Contains(t, content, "Message: second failure")
	assert.Equal(
		t,
		2,
		strings.Count(content, "##########################"),
		"each entry starts with a separator",
	)
}

func TestErrorLogDisabled(t *testing.T) {
	assert.Nil(t, NewErrorLog("", nil))

	// a nil error log ignores records rather than panicking
	var errorLog *ErrorLog
	errorLog.Record(ErrorLogEntry{Message: "dropped"})
}
