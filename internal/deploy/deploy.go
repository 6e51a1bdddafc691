// Package deploy copies the agent to the robot and packs run data for
// offline transfer.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	HostEnv   = "UPKIE_NAME"
	RemoteDir = "proxqp_balancer"
)

var ErrNoHost = errors.New(HostEnv + " environment variable is not set")

// Excludes are left out of uploads.
var Excludes = []string{
	".git",
	"__pycache__",
	"runs/",
	"*.tar.gz",
}

// HostFromEnv returns the robot host name.
func HostFromEnv() (string, error) {
	host := strings.TrimSpace(os.Getenv(HostEnv))
	if host == "" {
		return "", ErrNoHost
	}
	return host, nil
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func UploadArgs(host, srcDir string) []string {
	args := []string{"-Lrtu", "--delete-after", "--delete-excluded", "--progress"}
	for _, pattern := range Excludes {
		args = append(args, "--exclude", pattern)
	}
	src := strings.TrimSuffix(srcDir, "/") + "/"
	return append(args, src, fmt.Sprintf("%s:%s/", host, RemoteDir))
}

// Upload syncs srcDir to the robot with rsync.
func Upload(ctx context.Context, r Runner, host, srcDir string) error {
	return r.Run(ctx, "rsync", UploadArgs(host, srcDir)...)
}

// SetDateArgs carries the UTC offset so that the robot does not read the
// time in its own zone.
func SetDateArgs(host string, now time.Time) []string {
	return []string{host, "sudo", "date", "-s", fmt.Sprintf("%q", now.Format(time.RFC3339))}
}

// SetDate sets the robot clock to now, the robot having no RTC.
func SetDate(ctx context.Context, r Runner, host string, now time.Time) error {
	return r.Run(ctx, "ssh", SetDateArgs(host, now)...)
}
