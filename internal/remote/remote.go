// Package remote talks to the ops server over the system ssh and scp
// binaries.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"op/internal/config"
	operrors "op/internal/errors"
	"op/internal/logging"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s not found, install OpenSSH: %w", name, err)
		}
		return stdout.Bytes(), fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Client is the set of ops server operations the CLI uses.
type Client interface {
	List(ctx context.Context) ([]string, error)
	Push(ctx context.Context, name, archivePath string) error
	Clone(ctx context.Context, name, dest string) error
	ReadFile(ctx context.Context, name, file string) ([]byte, error)
}

type ShellClient struct {
	Host    string
	User    string
	Key     string
	Timeout int

	runner Runner
	logger *zap.Logger
}

// NewShellClient builds a client from the server section of cfg. A nil
// runner uses ExecRunner.
func NewShellClient(cfg *config.Config, runner Runner, logger *zap.Logger) (*ShellClient, error) {
	c := &ShellClient{
		Host:    cfg.Server.Host,
		User:    cfg.ServerUser(),
		Key:     cfg.Server.SSHKey,
		Timeout: cfg.Server.ConnectTimeout,
		runner:  runner,
		logger:  logging.OrNop(logger),
	}
	if c.runner == nil {
		c.runner = ExecRunner{}
	}

	switch {
	case c.Host == "":
		return nil, operrors.ValidationError("server.host is not configured", nil)
	case c.Key == "":
		return nil, operrors.ValidationError("server.ssh_key is not configured", nil)
	case c.User == "":
		return nil, operrors.ValidationError("cannot determine server user; set server.user", nil)
	}
	return c, nil
}

var unsafeName = regexp.MustCompile("[^A-Za-z0-9._+@%=:,-]")

// ValidateName rejects repo names that could escape the home directory or
// be read as an option or shell syntax on the server.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return operrors.ValidationError(fmt.Sprintf("invalid repo name %q", name), nil)
	case strings.HasPrefix(name, "-"):
		return operrors.ValidationError(fmt.Sprintf("repo name %q cannot start with '-'", name), nil)
	case strings.Contains(name, "/"):
		return operrors.ValidationError(fmt.Sprintf("repo name %q cannot contain '/'", name), nil)
	case unsafeName.MatchString(name):
		return operrors.ValidationError(fmt.Sprintf("repo name %q contains unsupported characters", name), nil)
	}
	return nil
}

func (c *ShellClient) target() string {
	return c.User + "@" + c.Host
}

func (c *ShellClient) baseArgs() []string {
	return []string{
		"-i", c.Key,
		"-o", "StrictHostKeyChecking=no",
		"-o", "ConnectTimeout=" + strconv.Itoa(c.Timeout),
	}
}

func (c *ShellClient) ssh(ctx context.Context, command string) ([]byte, error) {
	args := append(c.baseArgs(), c.target(), command)
	c.logger.Debug("running ssh", zap.String("host", c.Host), zap.String("command", command))
	return c.runner.Run(ctx, "ssh", args...)
}

func (c *ShellClient) scp(ctx context.Context, extra ...string) error {
	args := append(c.baseArgs(), extra...)
	c.logger.Debug("running scp", zap.Strings("args", extra))
	_, err := c.runner.Run(ctx, "scp", args...)
	return err
}

// List returns the non-hidden entries of the server user's home directory.
func (c *ShellClient) List(ctx context.Context) ([]string, error) {
	out, err := c.ssh(ctx, "ls -1 ~/")
	if err != nil {
		return nil, fmt.Errorf("listing repos on %s: %w", c.Host, err)
	}

	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ".") {
			continue
		}
		names = append(names, line)
	}
	sort.Strings(names)
	return names, nil
}

// Push uploads archivePath as ~/<name>.zip and unpacks it into ~/<name>.
func (c *ShellClient) Push(ctx context.Context, name, archivePath string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := os.Stat(archivePath); err != nil {
		return operrors.FromIO("reading archive", archivePath, err)
	}

	remoteZip := name + ".zip"
	if err := c.scp(ctx, archivePath, c.target()+":~/"+remoteZip); err != nil {
		return fmt.Errorf("uploading %s: %w", name, err)
	}

	extract := fmt.Sprintf("cd ~ && unzip -o %s -d %s && rm %s",
		shellQuote(remoteZip), shellQuote(name), shellQuote(remoteZip))
	if _, err := c.ssh(ctx, extract); err != nil {
		return fmt.Errorf("extracting %s on server: %w", name, err)
	}

	c.logger.Info("pushed repo", zap.String("name", name), zap.String("host", c.Host))
	return nil
}

// Clone copies ~/<name> from the server into dest, which must not exist.
func (c *ShellClient) Clone(ctx context.Context, name, dest string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, err := os.Lstat(dest); err == nil {
		return operrors.ValidationError(fmt.Sprintf("directory %q already exists", dest), dest)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return operrors.FromIO("checking destination", dest, err)
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("resolving destination: %w", err)
	}
	if err := c.scp(ctx, "-r", c.target()+":~/"+name, abs); err != nil {
		return fmt.Errorf("cloning %s: %w", name, err)
	}

	c.logger.Info("cloned repo", zap.String("name", name), zap.String("dest", abs))
	return nil
}

// ReadFile returns the contents of ~/<name>/<file> on the server.
func (c *ShellClient) ReadFile(ctx context.Context, name, file string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if file == "" || strings.HasPrefix(file, "/") || strings.Contains(file, "..") {
		return nil, operrors.ValidationError(fmt.Sprintf("invalid file path %q", file), nil)
	}

	out, err := c.ssh(ctx, "cat "+shellQuote("~/"+name+"/"+file))
	if err != nil {
		return nil, fmt.Errorf("reading %s from %s: %w", file, name, err)
	}
	return out, nil
}

// shellQuote single-quotes s for a POSIX shell. A leading "~/" is left
// outside the quotes so the remote shell still expands it.
func shellQuote(s string) string {
	prefix := ""
	if strings.HasPrefix(s, "~/") {
		prefix, s = "~/", s[2:]
	}
	return prefix + "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
