package remote_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simgateway/internal/config"
	"simgateway/internal/remote"
	"simgateway/internal/remote/remotetest"
)

func TestQuote(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/home/test_user/Blue_Blood-42", "/home/test_user/Blue_Blood-42"},
		{"has space", "'has space'"},
		{"it's", `'it'"'"'s'`},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
		{"a;b", "'a;b'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, remote.Quote(tt.in), "Quote(%q)", tt.in)
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	ok := remotetest.NewDialer()
	require.NoError(t, remote.NewProbe(ok).Ready(context.Background()))
	assert.Equal(t, 1, ok.Dials())
	assert.Equal(t, 1, ok.Closes(), "probe session must be closed")

	failing := remotetest.Failing()
	assert.Error(t, remote.NewProbe(failing).Ready(context.Background()))

	assert.Error(t, remote.NewProbe(nil).Ready(context.Background()))
}

func TestNewDialer_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := remote.NewDialer(config.RemoteConfig{Transport: "telnet", SimulationRoot: "/x"})
	assert.ErrorContains(t, err, "unknown remote.transport")

	_, err = remote.NewDialer(config.RemoteConfig{Transport: config.TransportDocker, SimulationRoot: "/x"})
	assert.ErrorContains(t, err, "remote.container")
}

func TestFakeDialer_RecordsCalls(t *testing.T) {
	t.Parallel()
	d := remotetest.NewDialer(remotetest.Rule{
		Contains: "qstat",
		Result:   remote.Result{Stdout: "R\n"},
	})
	ctx := context.Background()

	s, err := d.Dial(ctx)
	require.NoError(t, err)
	res, err := s.Run(ctx, "qstat -x 1.cx1b")
	require.NoError(t, err)
	assert.Equal(t, "R\n", res.Stdout)

	res, err = s.Run(ctx, "mkdir -p /tmp/x")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	require.NoError(t, s.Close())

	_, err = s.Run(ctx, "echo late")
	assert.Error(t, err)
	assert.Equal(t, []string{"qstat -x 1.cx1b", "mkdir -p /tmp/x"}, d.Commands())
}
