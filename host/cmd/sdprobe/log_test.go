package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"sdspi/core"
)

func TestCoreLevelFollowsVerbosity(t *testing.T) {
	defer flag.Set("v", "0")

	for _, tc := range []struct {
		v    string
		want core.LogLevel
	}{
		{"0", core.LevelInfo},
		{"1", core.LevelDebug},
		{"2", core.LevelTrace},
		{"3", core.LevelTrace},
	} {
		require.NoError(t, flag.Set("v", tc.v))
		require.Equal(t, tc.want, coreLevel(), "-v=%s", tc.v)
	}
}
