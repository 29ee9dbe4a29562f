package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sys/unix"

	"daqpull/internal/config"
	"daqpull/internal/diskspace"
	"daqpull/internal/verification/samples"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace reports whether the volume holding path is above floor.
func CheckFreeSpace(name, path string, floor uint64) Result {
	usage, err := diskspace.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	detail := fmt.Sprintf("%s free of %s (floor %s)",
		humanize.IBytes(usage.Free), humanize.IBytes(usage.Total), humanize.IBytes(floor))
	if usage.Free <= floor {
		return Result{Name: name, Detail: detail + "; processing would halt"}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// Requirement defines an external binary daqpull relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
}

// CheckBinaries reports whether each required binary resolves on PATH.
// Missing binaries are fatal.
func CheckBinaries(requirements []Requirement) []Result {
	results := make([]Result, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		if cmd == "" {
			results = append(results, Result{Name: req.Name, Fatal: true, Detail: "command not configured"})
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			results = append(results, Result{Name: req.Name, Fatal: true,
				Detail: fmt.Sprintf("binary %q not found (%s)", cmd, req.Description)})
			continue
		}
		results = append(results, Result{Name: req.Name, Passed: true, Detail: resolved})
	}
	return results
}

// CheckSigningKey parses the private key rsync hands to ssh. Collection runs
// unattended, so a passphrase-protected key counts as unusable.
func CheckSigningKey(path string) Result {
	const name = "Signing key"
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{Name: name, Fatal: true, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return Result{Name: name, Fatal: true, Detail: fmt.Sprintf("%s is passphrase protected; batch transfers need an unencrypted key", path)}
		}
		return Result{Name: name, Fatal: true, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info, err := os.Stat(path); err == nil && info.Mode().Perm()&0o077 != 0 {
		return Result{Name: name, Fatal: true, Detail: fmt.Sprintf("%s has mode %o; ssh rejects keys readable by others", path, info.Mode().Perm())}
	}
	pub := signer.PublicKey()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s", pub.Type(), ssh.FingerprintSHA256(pub))}
}

// CheckSampleReader reports whether channel checks can read files with ext.
// Without a reader the verifier still checks size and forwards every file,
// so the failure is a warning.
func CheckSampleReader(ext string) Result {
	const name = "Channel reader"
	if samples.NewRegistry().Supports(ext) {
		return Result{Name: name, Passed: true, Detail: ext + " files are decoded for stuck-channel checks"}
	}
	return Result{Name: name, Detail: fmt.Sprintf("no reader for %s in this build; stuck-channel checks are disabled", ext)}
}

// CheckAlertTransport verifies the configured alert transport can be reached.
func CheckAlertTransport(ctx context.Context, cfg *config.Config) Result {
	const name = "Alert transport"
	switch cfg.Alerts.Transport {
	case config.AlertTransportSMTP:
		return dialCheck(ctx, name, cfg.Alerts.SMTPAddr)
	case config.AlertTransportNtfy:
		if strings.TrimSpace(cfg.Alerts.NtfyTopic) == "" {
			return Result{Name: name, Detail: "ntfy topic not configured"}
		}
		return Result{Name: name, Passed: true, Detail: "ntfy " + cfg.Alerts.NtfyTopic}
	default:
		return Result{Name: name, Passed: true, Detail: "alerts are written to the log only"}
	}
}

func dialCheck(ctx context.Context, name, addr string) Result {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("smtp %s unreachable (%v)", addr, err)}
	}
	_ = conn.Close()
	return Result{Name: name, Passed: true, Detail: "smtp " + addr}
}
