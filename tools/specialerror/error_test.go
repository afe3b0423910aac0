package specialerror

import (
	"context"
	"testing"

	"PPresence/tools/errs"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	t.Cleanup(reset)
	require.NoError(t, AddSentinel(context.DeadlineExceeded, errs.ErrUnavailable))
	require.Error(t, AddErrHandler(nil))
	require.Error(t, AddSentinel(nil, errs.ErrNotFound))

	ce, ok := Resolve(errors.Wrap(context.DeadlineExceeded, "query"))
	require.True(t, ok)
	require.Equal(t, errs.UnavailableError, ce.Code)

	ce, ok = Resolve(errs.ErrBadRequest.WrapMsg("x"))
	require.True(t, ok)
	require.Equal(t, "x", ce.Detail)

	_, ok = Resolve(errors.New("plain"))
	require.False(t, ok)
	_, ok = Resolve(nil)
	require.False(t, ok)
}
