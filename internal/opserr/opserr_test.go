package opserr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = errors.New("source missing")

func TestNewWrapsAndClassifies(t *testing.T) {
	err := New(Precondition, "backup", errMissing, "create the database first")
	wrapped := fmt.Errorf("rotate: %w", err)

	assert.ErrorIs(t, wrapped, errMissing)
	assert.Equal(t, Precondition, KindOf(wrapped))
	assert.Equal(t, "create the database first", HintOf(wrapped))
	assert.Equal(t, "backup: source missing", err.Error())
}

func TestNewNil(t *testing.T) {
	assert.NoError(t, New(Query, "db", nil, "hint"))
}

func TestUnclassified(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, Operational, KindOf(err))
	assert.Empty(t, HintOf(err))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errMissing))
	assert.Equal(t, 1, ExitCode(New(Query, "db", errMissing, "")))
}
