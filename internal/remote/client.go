package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"daqpull/internal/config"
	"daqpull/internal/services"
	"daqpull/internal/units"
)

var (
	// ErrHostUnreachable reports that the unit could not be reached at all.
	ErrHostUnreachable = errors.New("host unreachable")
	// ErrTimeout reports a listing or transfer that exceeded its deadline.
	ErrTimeout = errors.New("remote operation timed out")
)

var unreachableMarkers = []string{
	"No route to host",
	"Connection refused",
	"Host is down",
}

// configMarkers appear when the unit answers but refuses our credentials.
// Retrying will not help until an operator fixes the key or host entry.
var configMarkers = []string{
	"Permission denied (publickey",
	"Host key verification failed",
	"Could not resolve hostname",
}

// rsync exit codes for usage errors and I/O and connection timeouts.
const (
	rsyncExitSyntax         = 1
	rsyncExitIOTimeout      = 30
	rsyncExitConnectTimeout = 35
)

// Class separates files the unit will no longer touch from files still
// subject to on-device rotation.
type Class int

const (
	Live Class = iota
	Persisted
)

func (c Class) String() string {
	if c == Persisted {
		return "persisted"
	}
	return "live"
}

// File is one remote file, addressed relative to the remote root.
type File struct {
	Path  string
	Class Class
}

// Base returns the file's base name.
func (f File) Base() string { return path.Base(f.Path) }

// Listing is the classified result of a remote dry run, in rsync order.
type Listing struct {
	Persisted []File
	Live      []File
}

// Len reports the number of files in the listing.
func (l Listing) Len() int { return len(l.Persisted) + len(l.Live) }

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithClock overrides the time source used to measure transfers.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client wraps rsync and ssh invocations against acquisition units.
type Client struct {
	rsync           string
	ssh             string
	keyPath         string
	root            string
	livePrefix      string
	persistedPrefix string
	ext             string
	ioTimeout       time.Duration
	listTimeout     time.Duration
	transferTimeout time.Duration
	exec            Executor
	now             func() time.Time
}

// New constructs a client from the transfer settings.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("remote: config is nil")
	}
	t := cfg.Transfer
	if strings.TrimSpace(t.RsyncBinary) == "" || strings.TrimSpace(t.SSHBinary) == "" {
		return nil, errors.New("remote: rsync and ssh binaries required")
	}
	c := &Client{
		rsync:           t.RsyncBinary,
		ssh:             t.SSHBinary,
		keyPath:         t.SSHKeyPath,
		root:            t.RemoteRoot,
		livePrefix:      t.LivePrefix,
		persistedPrefix: t.PersistedPrefix,
		ext:             t.FileExtension,
		ioTimeout:       time.Duration(t.IOTimeout) * time.Second,
		listTimeout:     time.Duration(t.ListTimeout) * time.Second,
		transferTimeout: time.Duration(t.TransferTimeout) * time.Second,
		exec:            commandExecutor{},
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RemoteShell returns the ssh command rsync uses as its transport.
func (c *Client) RemoteShell() string {
	return strings.Join([]string{
		c.ssh,
		"-i", c.keyPath,
		"-T",
		"-o", "StrictHostKeyChecking=no",
		"-o", "Compression=no",
	}, " ")
}

func (c *Client) baseArgs(u units.Unit) []string {
	args := []string{
		"--times",
		"--archive",
		"--no-perms",
		"--no-group",
		"--timeout=" + strconv.Itoa(int(c.ioTimeout/time.Second)),
	}
	if kib := u.BandwidthKiB(); kib > 0 {
		args = append(args, "--bwlimit="+strconv.FormatInt(kib, 10))
	}
	return append(args, "-e", c.RemoteShell())
}

// ListArgs returns the rsync arguments for a dry-run listing into scratchDir.
func (c *Client) ListArgs(u units.Unit, scratchDir string) []string {
	args := c.baseArgs(u)
	args = append(args,
		"--dry-run",
		"--info=NAME1",
		"--filter=include /"+c.livePrefix,
		"--filter=include /"+c.persistedPrefix,
		"--filter=include **"+c.ext,
		"--filter=exclude *",
		u.Remote(c.root),
		scratchDir,
	)
	return args
}

// TransferArgs returns the rsync arguments that pull f into destDir.
func (c *Client) TransferArgs(u units.Unit, f File, destDir string) []string {
	args := c.baseArgs(u)
	args = append(args,
		"--partial",
		"--remove-source-files",
		u.Remote(c.root)+strings.TrimPrefix(f.Path, "/"),
		destDir,
	)
	return args
}

// List enumerates candidate files on the unit. scratchDir must exist; the dry
// run writes nothing to it.
func (c *Client) List(ctx context.Context, u units.Unit, scratchDir string) (Listing, error) {
	runCtx, cancel := withTimeout(ctx, c.listTimeout)
	defer cancel()

	var lines []string
	err := c.exec.Run(runCtx, c.rsync, c.ListArgs(u, scratchDir), func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		return Listing{}, c.classify(ctx, runCtx, u, "list", lines, err)
	}
	return c.classifyFiles(lines), nil
}

func (c *Client) classifyFiles(lines []string) Listing {
	var out Listing
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" || name == "./" || !strings.HasSuffix(strings.ToLower(name), c.ext) {
			continue
		}
		switch {
		case hasPrefixDir(name, c.persistedPrefix):
			out.Persisted = append(out.Persisted, File{Path: name, Class: Persisted})
		case hasPrefixDir(name, c.livePrefix):
			out.Live = append(out.Live, File{Path: name, Class: Live})
		}
	}
	return out
}

func hasPrefixDir(name, prefix string) bool {
	return prefix != "" && strings.HasPrefix(name, prefix+"/")
}

// Result describes one completed transfer.
type Result struct {
	LocalPath string
	Size      int64
	StartedAt time.Time
	Duration  time.Duration
}

// Transfer pulls f into destDir and removes it from the unit on success.
func (c *Client) Transfer(ctx context.Context, u units.Unit, f File, destDir string) (Result, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create staging dir: %w", err)
	}
	runCtx, cancel := withTimeout(ctx, c.transferTimeout)
	defer cancel()

	var lines []string
	started := c.now()
	err := c.exec.Run(runCtx, c.rsync, c.TransferArgs(u, f, destDir), func(line string) {
		lines = append(lines, line)
	})
	elapsed := c.now().Sub(started)
	if err != nil {
		return Result{}, c.classify(ctx, runCtx, u, "transfer "+f.Base(), lines, err)
	}

	local := filepath.Join(destDir, f.Base())
	info, err := os.Stat(local)
	if err != nil {
		return Result{}, services.Wrap(services.ErrExternalTool, "remote", "transfer "+f.Base(), "rsync reported success but no local file", err)
	}
	return Result{LocalPath: local, Size: info.Size(), StartedAt: started, Duration: elapsed}, nil
}

func (c *Client) classify(parent, run context.Context, u units.Unit, op string, lines []string, err error) error {
	output := strings.TrimSpace(strings.Join(lines, "\n"))
	op = u.Hostname + ": " + op
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(run.Err(), context.DeadlineExceeded) || exitCode(err) == rsyncExitIOTimeout || exitCode(err) == rsyncExitConnectTimeout {
		return services.Wrap(services.ErrTimeout, "remote", op, output, errors.Join(ErrTimeout, err))
	}
	for _, marker := range unreachableMarkers {
		if strings.Contains(output, marker) {
			return services.Wrap(services.ErrTransient, "remote", op, marker, errors.Join(ErrHostUnreachable, err))
		}
	}
	for _, marker := range configMarkers {
		if strings.Contains(output, marker) {
			return services.Wrap(services.ErrConfiguration, "remote", op, marker, err)
		}
	}
	if exitCode(err) == rsyncExitSyntax {
		return services.Wrap(services.ErrConfiguration, "remote", op, lastLines(output, 5), err)
	}
	return services.Wrap(services.ErrExternalTool, "remote", op, lastLines(output, 5), err)
}

func exitCode(err error) int {
	var coder ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func lastLines(output string, n int) string {
	lines := strings.Split(output, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
