package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"op/internal/config"
	operrors "op/internal/errors"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	output map[string][]byte
	fail   map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	last := args[len(args)-1]
	if err := f.fail[name]; err != nil {
		return nil, err
	}
	return f.output[last], nil
}

func newTestClient(t *testing.T) (*ShellClient, *fakeRunner) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "10.0.0.5"
	cfg.Server.SSHKey = "/keys/alice_ed25519"
	cfg.Server.ConnectTimeout = 7

	runner := &fakeRunner{output: map[string][]byte{}, fail: map[string]error{}}
	c, err := NewShellClient(cfg, runner, nil)
	require.NoError(t, err)
	return c, runner
}

func TestNewShellClient(t *testing.T) {
	cfg := config.Default()
	cfg.Server.SSHKey = ""
	_, err := NewShellClient(cfg, nil, nil)
	assert.True(t, errors.Is(err, operrors.ErrValidation))

	c, _ := newTestClient(t)
	assert.Equal(t, "alice", c.User)
	assert.Equal(t, "alice@10.0.0.5", c.target())
}

func TestValidateName(t *testing.T) {
	for _, ok := range []string{"engagement-1", "client_a.2024"} {
		assert.NoError(t, ValidateName(ok), ok)
	}
	for _, bad := range []string{"", "..", "-rf", "a/b", "x;rm", "$(id)", "a b"} {
		assert.True(t, errors.Is(ValidateName(bad), operrors.ErrValidation), bad)
	}
}

func TestList(t *testing.T) {
	c, runner := newTestClient(t)
	runner.output["ls -1 ~/"] = []byte("zeta\n.ssh\nalpha\n\n")

	names, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, "ssh", runner.calls[0].name)
	assert.Equal(t, []string{
		"-i", "/keys/alice_ed25519",
		"-o", "StrictHostKeyChecking=no",
		"-o", "ConnectTimeout=7",
		"alice@10.0.0.5", "ls -1 ~/",
	}, runner.calls[0].args)
}

func TestPush(t *testing.T) {
	c, runner := newTestClient(t)
	archivePath := filepath.Join(t.TempDir(), "repo.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("PK"), 0644))

	require.NoError(t, c.Push(context.Background(), "engagement", archivePath))
	require.Len(t, runner.calls, 2)

	upload := runner.calls[0]
	assert.Equal(t, "scp", upload.name)
	assert.Equal(t, []string{archivePath, "alice@10.0.0.5:~/engagement.zip"}, upload.args[len(upload.args)-2:])

	extract := runner.calls[1]
	assert.Equal(t, "ssh", extract.name)
	assert.Equal(t,
		"cd ~ && unzip -o 'engagement.zip' -d 'engagement' && rm 'engagement.zip'",
		extract.args[len(extract.args)-1])

	t.Run("upload failure stops", func(t *testing.T) {
		c, runner := newTestClient(t)
		runner.fail["scp"] = errors.New("connection refused")
		err := c.Push(context.Background(), "engagement", archivePath)
		assert.ErrorContains(t, err, "connection refused")
		assert.Len(t, runner.calls, 1)
	})

	t.Run("missing archive", func(t *testing.T) {
		c, _ := newTestClient(t)
		err := c.Push(context.Background(), "engagement", filepath.Join(t.TempDir(), "nope.zip"))
		assert.True(t, errors.Is(err, operrors.ErrIO))
	})
}

func TestClone(t *testing.T) {
	c, runner := newTestClient(t)
	dest := filepath.Join(t.TempDir(), "engagement")

	require.NoError(t, c.Clone(context.Background(), "engagement", dest))
	require.Len(t, runner.calls, 1)
	args := runner.calls[0].args
	assert.Equal(t, []string{"-r", "alice@10.0.0.5:~/engagement", dest}, args[len(args)-3:])

	require.NoError(t, os.Mkdir(dest, 0755))
	err := c.Clone(context.Background(), "engagement", dest)
	assert.True(t, errors.Is(err, operrors.ErrValidation))
}

func TestReadFile(t *testing.T) {
	c, runner := newTestClient(t)
	runner.output["cat ~/'engagement/README.md'"] = []byte("# Engagement\n")

	data, err := c.ReadFile(context.Background(), "engagement", "README.md")
	require.NoError(t, err)
	assert.Equal(t, "# Engagement\n", string(data))

	_, err = c.ReadFile(context.Background(), "engagement", "../../etc/passwd")
	assert.True(t, errors.Is(err, operrors.ErrValidation))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.True(t, strings.HasPrefix(shellQuote("~/x"), "~/'"))
}
