package remote_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"daqpull/internal/remote"
	"daqpull/internal/services"
	"daqpull/internal/testsupport"
	"daqpull/internal/units"
)

type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }
func (e exitError) ExitCode() int { return int(e) }

type fakeExecutor struct {
	calls  [][]string
	output []string
	err    error
	// onRun runs before output is replayed.
	onRun func(args []string) error
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, onOutput func(string)) error {
	f.calls = append(f.calls, append([]string{binary}, args...))
	if f.onRun != nil {
		if err := f.onRun(args); err != nil {
			return err
		}
	}
	for _, line := range f.output {
		onOutput(line)
	}
	return f.err
}

func testUnit() units.Unit {
	return units.Unit{
		Hostname:             "medal-1",
		Address:              "192.168.1.200",
		User:                 "medal",
		BandwidthBytesPerSec: 6144000,
	}
}

func newClient(t *testing.T, exec remote.Executor) *remote.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	client, err := remote.New(cfg, remote.WithExecutor(exec))
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	return client
}

func TestListArgsMatchRemoteProtocol(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client, err := remote.New(cfg)
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	args := client.ListArgs(testUnit(), "/scratch")
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--times --archive --no-perms --no-group --timeout=30 --bwlimit=6000",
		"-i " + cfg.Transfer.SSHKeyPath + " -T -o StrictHostKeyChecking=no -o Compression=no",
		"--dry-run --info=NAME1 --filter=include /ram --filter=include /persisted --filter=include **.hdf5 --filter=exclude *",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in args:\n%s", want, joined)
		}
	}
	if args[len(args)-2] != "medal@192.168.1.200:/energy-daq/files/" || args[len(args)-1] != "/scratch" {
		t.Fatalf("unexpected source/target: %v", args[len(args)-2:])
	}
}

func TestTransferArgsRemoveSourceAfterCopy(t *testing.T) {
	client := newClient(t, &fakeExecutor{})
	f := remote.File{Path: "persisted/medal-1-2026-01-01T00-00-00.000000+0100-0000001.hdf5", Class: remote.Persisted}
	args := client.TransferArgs(testUnit(), f, "/staging/medal-1")
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--partial --remove-source-files") {
		t.Fatalf("missing transfer flags: %s", joined)
	}
	if args[len(args)-2] != "medal@192.168.1.200:/energy-daq/files/"+f.Path {
		t.Fatalf("unexpected source %q", args[len(args)-2])
	}
}

func TestListClassifiesByPrefix(t *testing.T) {
	exec := &fakeExecutor{output: []string{
		"./",
		"persisted/",
		"persisted/medal-1-2026-01-01T00-00-00.000000+0100-0000001.hdf5",
		"ram/",
		"ram/medal-1-2026-01-01T00-15-00.000000+0100-0000002.hdf5",
		"ram/medal-1-2026-01-01T00-30-00.000000+0100-0000003.hdf5",
		"ram/notes.txt",
		"",
	}}
	client := newClient(t, exec)
	listing, err := client.List(context.Background(), testUnit(), t.TempDir())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listing.Persisted) != 1 || len(listing.Live) != 2 {
		t.Fatalf("unexpected listing %+v", listing)
	}
	if listing.Live[0].Base() != "medal-1-2026-01-01T00-15-00.000000+0100-0000002.hdf5" {
		t.Fatalf("rsync order not preserved: %+v", listing.Live)
	}
	if listing.Persisted[0].Class != remote.Persisted || listing.Live[1].Class != remote.Live {
		t.Fatal("classes not assigned")
	}
}

func TestListClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		output []string
		err    error
		want   error
		marker error
	}{
		{
			name:   "no route",
			output: []string{"ssh: connect to host 192.168.1.200 port 22: No route to host", "rsync: connection unexpectedly closed"},
			err:    exitError(255),
			want:   remote.ErrHostUnreachable,
			marker: services.ErrTransient,
		},
		{
			name:   "refused",
			output: []string{"ssh: connect to host 192.168.1.200 port 22: Connection refused"},
			err:    exitError(255),
			want:   remote.ErrHostUnreachable,
			marker: services.ErrTransient,
		},
		{
			name:   "io timeout",
			output: []string{"[receiver] io timeout after 30 seconds -- exiting"},
			err:    exitError(30),
			want:   remote.ErrTimeout,
			marker: services.ErrTimeout,
		},
		{
			name:   "key rejected",
			output: []string{"daq@192.168.1.200: Permission denied (publickey,password).", "rsync: connection unexpectedly closed"},
			err:    exitError(255),
			marker: services.ErrConfiguration,
		},
		{
			name:   "usage",
			output: []string{"rsync: --timout=30: unknown option"},
			err:    exitError(1),
			marker: services.ErrConfiguration,
		},
		{
			name:   "other",
			output: []string{"rsync: change_dir \"/energy-daq/files\" failed: No such file or directory (2)"},
			err:    exitError(23),
			marker: services.ErrExternalTool,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := newClient(t, &fakeExecutor{output: tc.output, err: tc.err})
			_, err := client.List(context.Background(), testUnit(), t.TempDir())
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == nil && (errors.Is(err, remote.ErrHostUnreachable) || errors.Is(err, remote.ErrTimeout)) {
				t.Fatalf("unexpected classification: %v", err)
			}
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected marker %v, got %v", tc.marker, err)
			}
			if retry := services.Retryable(err); retry == errors.Is(tc.marker, services.ErrConfiguration) {
				t.Fatalf("retryable=%v for %v", retry, err)
			}
		})
	}
}

func TestListHonoursDeadline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Transfer.ListTimeout = 1
	blocking := remoteFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	client, err := remote.New(cfg, remote.WithExecutor(blocking))
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	start := time.Now()
	_, err = client.List(context.Background(), testUnit(), t.TempDir())
	if !errors.Is(err, remote.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("listing deadline not enforced")
	}
}

type remoteFunc func(ctx context.Context) error

func (f remoteFunc) Run(ctx context.Context, _ string, _ []string, _ func(string)) error { return f(ctx) }

func TestTransferReportsLocalFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "medal-1")
	base := "medal-1-2026-01-01T00-00-00.000000+0100-0000001.hdf5"
	exec := &fakeExecutor{onRun: func(args []string) error {
		target := filepath.Join(args[len(args)-1], base)
		return os.WriteFile(target, make([]byte, 2048), 0o644)
	}}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{now, now.Add(3 * time.Second)}
	cfg := testsupport.NewConfig(t)
	client, err := remote.New(cfg, remote.WithExecutor(exec), remote.WithClock(func() time.Time {
		next := ticks[0]
		if len(ticks) > 1 {
			ticks = ticks[1:]
		}
		return next
	}))
	if err != nil {
		t.Fatalf("remote.New: %v", err)
	}
	res, err := client.Transfer(context.Background(), testUnit(), remote.File{Path: "ram/" + base}, dest)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if res.LocalPath != filepath.Join(dest, base) || res.Size != 2048 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Duration != 3*time.Second || !res.StartedAt.Equal(now) {
		t.Fatalf("unexpected timing %+v", res)
	}
}

func TestTransferWithoutLocalFileFails(t *testing.T) {
	client := newClient(t, &fakeExecutor{})
	_, err := client.Transfer(context.Background(), testUnit(), remote.File{Path: "ram/x.hdf5"}, t.TempDir())
	if err == nil || !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
}
