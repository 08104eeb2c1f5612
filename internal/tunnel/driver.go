package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kballard/go-shellquote"
)

const (
	ElevateAuto      = "auto"
	ElevateNone      = "none"
	ElevateSudo      = "sudo"
	ElevatePkexec    = "pkexec"
	ElevateOsascript = "osascript"

	DefaultWireGuardExe = `C:\Program Files\WireGuard\wireguard.exe`

	maxToolOutput = 1024
)

var ErrExternalToolFailed = errors.New("external tool failed")

// Driver is the platform-specific part of bringing a WireGuard interface up
// and down. configPath points at a freshly rendered config for both verbs;
// wg-quick needs it to undo routes, rules and DNS on the way down.
type Driver interface {
	BringUp(ctx context.Context, name, configPath string) error
	BringDown(ctx context.Context, name, configPath string) error
	QueryStatus(ctx context.Context, name string) (bool, error)
}

type DriverOptions struct {
	Elevate      string `mapstructure:"elevate"`
	WireGuardExe string `mapstructure:"wireguard_exe"`
}

// commandDriver maps the three verbs onto argv lists for one platform.
type commandDriver struct {
	exec    Executor
	up      func(name, path string) []string
	down    func(name, path string) []string
	status  func(name string) []string
	running func(ExecResult) bool
	// statusPath replaces the status command when queries cannot be elevated
	// without prompting; the file exists while the interface is up.
	statusPath func(name string) string
	exists     func(path string) bool
	// elevate wraps mutating commands; elevateQuery wraps status queries and
	// never prompts.
	elevate      func([]string) []string
	elevateQuery func([]string) []string
}

// NewDriver picks the strategy for goos.
func NewDriver(goos string, opts DriverOptions, executor Executor) (Driver, error) {
	if executor == nil {
		executor = OSExecutor{}
	}
	elevation := resolveElevation(goos, opts.Elevate)

	d := &commandDriver{exec: executor, exists: fileExists}
	switch goos {
	case "linux", "darwin":
		d.up = func(_, path string) []string { return []string{"wg-quick", "up", path} }
		d.status = func(name string) []string { return []string{"wg", "show", name} }
		d.down = func(_, path string) []string { return []string{"wg-quick", "down", path} }
		d.running = func(r ExecResult) bool { return r.ExitCode == 0 }
	case "windows":
		exe := opts.WireGuardExe
		if exe == "" {
			exe = DefaultWireGuardExe
		}
		d.up = func(_, path string) []string { return []string{exe, "/installtunnelservice", path} }
		d.down = func(name, _ string) []string { return []string{exe, "/uninstalltunnelservice", name} }
		d.status = func(name string) []string { return []string{"sc", "query", "WireGuardTunnel$" + name} }
		d.running = func(r ExecResult) bool { return r.ExitCode == 0 && strings.Contains(r.Stdout, "RUNNING") }
		// The daemon itself must run elevated on Windows.
		elevation = ElevateNone
	default:
		return nil, fmt.Errorf("unsupported platform %q", goos)
	}

	switch elevation {
	case ElevateNone:
		d.elevate = identity
	case ElevateSudo:
		d.elevate = sudo
	case ElevatePkexec:
		d.elevate = func(argv []string) []string { return append([]string{"pkexec"}, argv...) }
	case ElevateOsascript:
		d.elevate = osascript
	default:
		return nil, fmt.Errorf("unknown elevation %q", opts.Elevate)
	}
	d.elevateQuery = identity
	switch elevation {
	case ElevateSudo:
		d.elevateQuery = sudo
	case ElevatePkexec, ElevateOsascript:
		// wg show needs root and these would prompt on every poll, so look for
		// the kernel link (linux) or wg-quick's name file (darwin) instead.
		if goos == "darwin" {
			d.statusPath = func(name string) string { return "/var/run/wireguard/" + name + ".name" }
		} else {
			d.statusPath = func(name string) string { return "/sys/class/net/" + name }
		}
	}
	return d, nil
}

func resolveElevation(goos, elevate string) string {
	if elevate != "" && elevate != ElevateAuto {
		return elevate
	}
	if goos == "windows" || os.Geteuid() == 0 {
		return ElevateNone
	}
	return ElevateSudo
}

func identity(argv []string) []string { return argv }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sudo(argv []string) []string {
	return append([]string{"sudo", "-n"}, argv...)
}

func osascript(argv []string) []string {
	script := shellquote.Join(argv...)
	script = strings.ReplaceAll(script, `\`, `\\`)
	script = strings.ReplaceAll(script, `"`, `\"`)
	return []string{"osascript", "-e", `do shell script "` + script + `" with administrator privileges`}
}

func (d *commandDriver) BringUp(ctx context.Context, name, configPath string) error {
	return d.mutate(ctx, d.elevate(d.up(name, configPath)))
}

func (d *commandDriver) BringDown(ctx context.Context, name, configPath string) error {
	return d.mutate(ctx, d.elevate(d.down(name, configPath)))
}

func (d *commandDriver) QueryStatus(ctx context.Context, name string) (bool, error) {
	if d.statusPath != nil {
		return d.exists(d.statusPath(name)), nil
	}
	argv := d.elevateQuery(d.status(name))
	res, err := d.exec.Run(ctx, argv)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrExternalToolFailed, err)
	}
	return d.running(res), nil
}

func (d *commandDriver) mutate(ctx context.Context, argv []string) error {
	res, err := d.exec.Run(ctx, argv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalToolFailed, err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		if len(detail) > maxToolOutput {
			detail = detail[:maxToolOutput]
		}
		return fmt.Errorf("%w: %s exited with status %d: %s", ErrExternalToolFailed, argv[0], res.ExitCode, detail)
	}
	return nil
}
