package errclass_test

import (
	"errors"
	"testing"

	"github.com/pdm-project/pdm/pkg/errclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPDMError_Error(t *testing.T) {
	err := &errclass.PDMError{Code: "E_TEST"}
	assert.Equal(t, "E_TEST", err.Error())

	err = err.WithMessage("something broke")
	assert.Equal(t, "E_TEST: something broke", err.Error())
}

func TestPDMError_Is(t *testing.T) {
	err := errclass.ErrLockConflict.WithMessage("PN1001.mcam is locked")
	require.True(t, errors.Is(err, errclass.ErrLockConflict))
	require.False(t, errors.Is(err, errclass.ErrNotFound))
	require.False(t, errors.Is(err, errors.New("some error")))
}

func TestPDMError_WithMessagef(t *testing.T) {
	err := errclass.ErrNameInvalid.WithMessagef("bad name: %q", "../etc")
	assert.Equal(t, "E_NAME_INVALID", err.Code)
	assert.Equal(t, `bad name: "../etc"`, err.Message)

	// Base error is unchanged.
	assert.Empty(t, errclass.ErrNameInvalid.Message)
}

func TestPDMError_WithDetail(t *testing.T) {
	err := errclass.ErrLockConflict.
		WithMessage("already locked").
		WithDetail("owner", "alice")

	assert.Equal(t, "alice", err.Detail["owner"])
	assert.Equal(t, "alice", errclass.Owner(err))
	require.True(t, errors.Is(err, errclass.ErrLockConflict))

	// Detail on the base class stays empty.
	assert.Empty(t, errclass.ErrLockConflict.Detail)
}

func TestOwner_NonPDMError(t *testing.T) {
	assert.Empty(t, errclass.Owner(errors.New("plain")))
}
