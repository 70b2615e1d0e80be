package outcome

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTooShort = &PreconditionError{Message: "too short"}

func TestOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Success},
		{"precondition", Fail("rename", errTooShort), Precondition},
		{"wrapped precondition", fmt.Errorf("outer: %w", Fail("rename", errTooShort)), Precondition},
		{"remote", Remotef("deposit", context.DeadlineExceeded), Remote},
		{"plain", errors.New("boom"), Remote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Of(tc.err))
		})
	}
}

func TestFailMatchesSentinel(t *testing.T) {
	err := Fail("rename", errTooShort)
	require.ErrorIs(t, err, errTooShort)
	require.Equal(t, "rename: too short", err.Error())

	msg, ok := Message(err)
	require.True(t, ok)
	require.Equal(t, "too short", msg)
}

func TestRemotef(t *testing.T) {
	require.NoError(t, Remotef("op", nil))

	err := Remotef("withdraw", context.Canceled)
	require.ErrorIs(t, err, context.Canceled)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	require.Equal(t, "withdraw", re.Op)

	t.Run("keeps classified errors", func(t *testing.T) {
		pre := Fail("deposit", errTooShort)
		require.Same(t, pre, Remotef("deposit", pre))
		require.Same(t, err, Remotef("other", err))
	})
}
