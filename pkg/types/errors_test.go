package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeError(t *testing.T) {
	cause := errors.New("codec failure")
	err := NewEncodeError("encode", 7, cause)

	assert.Equal(t, "encode error in encode stage (frame 7): codec failure", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))

	var encErr *EncodeError
	assert.ErrorAs(t, error(err), &encErr)
	assert.Equal(t, uint64(7), encErr.Index)
	assert.True(t, encErr.HasIndex)
}

func TestStageError(t *testing.T) {
	cause := errors.New("bad state")
	err := NewStageError("output", cause)

	assert.Equal(t, "encode error in output stage: bad state", err.Error())
	assert.False(t, err.HasIndex)
	assert.ErrorIs(t, err, cause)
}
