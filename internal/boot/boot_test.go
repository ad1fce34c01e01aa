package boot

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hoekit/althttpd/internal/applog"
	"github.com/hoekit/althttpd/internal/config"
)

func TestDropNoopWhenUnprivilegedAndUnconfigured(t *testing.T) {
	cfg := &config.Config{Root: t.TempDir()}
	err := Drop(cfg, applog.Nop())
	require.NoError(t, err)
}

func TestLookupUserResolvesCurrentUser(t *testing.T) {
	u, err := user.Current()
	require.NoError(t, err)

	uid, gid, err := lookupUser(u.Username)
	require.NoError(t, err)

	wantUID, _ := strconv.Atoi(u.Uid)
	wantGID, _ := strconv.Atoi(u.Gid)
	require.Equal(t, wantUID, uid)
	require.Equal(t, wantGID, gid)
}

func TestLookupUserUnknownNameErrors(t *testing.T) {
	_, _, err := lookupUser("no-such-user-should-exist")
	require.Error(t, err)
}
