package nanoerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDriverError_IsMatchesErrno(t *testing.T) {
	err := New(ErrNotFound)
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrExists))
}

func TestDriverError_MessageIsAppended(t *testing.T) {
	err := NewWithMessage(ErrIOFailed, "sector %d", 7)
	require.Contains(t, err.Error(), "sector 7")
	require.True(t, errors.Is(err, ErrIOFailed))
}
