// Package device queries a connected Android device for the live state the
// reconciler needs: which processes are in the foreground right now and which
// packages are installed with a launcher entry.
package device

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// ErrNoDevice is returned when adb cannot reach a device.
var ErrNoDevice = errors.New("no device connected")

// Runner executes an adb command and returns its standard output.
// This abstraction allows mocking in tests.
type Runner func(ctx context.Context, args ...string) (string, error)

// ADB talks to a device through the adb command line tool.
type ADB struct {
	// Serial selects a device when more than one is attached.
	Serial string
	Runner Runner // if nil, uses the real adb subprocess
}

// defaultRunner runs adb as a real subprocess.
func defaultRunner(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "adb", args...)
	out, err := cmd.Output()
	return string(out), err
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	runner := a.Runner
	if runner == nil {
		runner = defaultRunner
	}
	if a.Serial != "" {
		args = append([]string{"-s", a.Serial}, args...)
	}
	out, err := runner(ctx, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if isNoDevice(err) {
			return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), ErrNoDevice)
		}
		return "", fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

// isNoDevice reports whether err is adb's failure to find a device.
func isNoDevice(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	stderr := string(exitErr.Stderr)
	return strings.Contains(stderr, "no devices") ||
		strings.Contains(stderr, "device offline") ||
		(strings.Contains(stderr, "device '") && strings.Contains(stderr, "not found"))
}

// resumedRecord matches the resumed activity lines of
// `dumpsys activity activities`, e.g.
//
//	mResumedActivity: ActivityRecord{5d1c2f u0 com.example.mail/.Inbox t42}
//	topResumedActivity=ActivityRecord{5d1c2f u0 com.example.mail/.Inbox t42}
var resumedRecord = regexp.MustCompile(`[Rr]esumedActivity[:=]\s*ActivityRecord\{\S+\s+\S+\s+([A-Za-z0-9_.]+)/`)

// ForegroundProcesses implements usage.SnapshotSource. It returns the
// packages of the currently resumed activities, deduplicated, in the order
// they appear in the dump.
func (a *ADB) ForegroundProcesses(ctx context.Context) ([]string, error) {
	out, err := a.run(ctx, "shell", "dumpsys", "activity", "activities")
	if err != nil {
		return nil, err
	}
	return parseResumed(out), nil
}

func parseResumed(dump string) []string {
	seen := make(map[string]bool)
	procs := []string{}
	for _, m := range resumedRecord.FindAllStringSubmatch(dump, -1) {
		pkg := m[1]
		if seen[pkg] {
			continue
		}
		seen[pkg] = true
		procs = append(procs, pkg)
	}
	return procs
}

// LaunchablePackages lists the packages that have a launcher activity.
func (a *ADB) LaunchablePackages(ctx context.Context) (PackageSet, error) {
	out, err := a.run(ctx, "shell", "cmd", "package", "query-activities", "--brief",
		"-a", "android.intent.action.MAIN", "-c", "android.intent.category.LAUNCHER")
	if err != nil {
		return nil, err
	}
	return parseActivities(out), nil
}

// parseActivities reads `query-activities --brief` output, which lists one
// component per line as pkg/class between priority lines.
func parseActivities(out string) PackageSet {
	set := PackageSet{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.ContainsAny(line, " =") {
			continue
		}
		pkg, _, ok := strings.Cut(line, "/")
		if !ok || pkg == "" {
			continue
		}
		set[pkg] = struct{}{}
	}
	return set
}

// PackageSet is a set of package names. It implements usage.PackageResolver.
type PackageSet map[string]struct{}

// NewPackageSet returns a set holding names.
func NewPackageSet(names ...string) PackageSet {
	s := make(PackageSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// IsInstalledLaunchable reports whether name is in the set.
func (s PackageSet) IsInstalledLaunchable(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the packages in sorted order.
func (s PackageSet) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
