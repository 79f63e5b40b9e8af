package engine

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	gopsprocess "github.com/shirou/gopsutil/v3/process"

	"github.com/teranos/stata-bridge/internal/logging"
)

// Health reports the Engine's availability, version, and resource usage
// (spec.md §4.1 health(), extended with SPEC_FULL.md's Stats/EngineVersionInfo).
func (w *Worker) Health(ctx context.Context) Health {
	version, edition, err := w.probeVersion(ctx)
	if err != nil {
		logging.Named("engine").Warnw("engine version probe failed", "error", err)
		return Health{EngineAvailable: false}
	}

	h := Health{
		EngineAvailable: true,
		Version:         version,
		Edition:         edition,
	}

	if w.cfg.MinEngineVersion != "" {
		meets, cmpErr := meetsMinimum(version, w.cfg.MinEngineVersion)
		if cmpErr != nil {
			logging.Named("engine").Warnw("min-engine-version comparison failed", "error", cmpErr)
		} else {
			h.MeetsMinimum = &meets
		}
	}

	if stats, statErr := w.stats(); statErr == nil {
		h.Stats = stats
	}

	return h
}

// probeVersion runs a separate, short-lived Engine process in batch mode
// with a one-line version query (the resident process that runDoFile
// drives is not used), so a failure to launch at all maps directly to
// EngineAvailable=false.
func (w *Worker) probeVersion(ctx context.Context) (version, edition string, err error) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, w.cfg.StataPath, "-b", "-q", "-e", "version")
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return "", "", fmt.Errorf("probe engine version: %w", runErr)
	}

	version = parseVersionLine(string(out))
	if version == "" {
		version = "unknown"
	}
	return version, w.cfg.Edition, nil
}

// parseVersionLine looks for the first token that parses as a semver-ish
// number in the probe's output; Stata's own version banners aren't
// standardized across editions so this is necessarily heuristic.
func parseVersionLine(output string) string {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		for _, field := range strings.Fields(line) {
			trimmed := strings.Trim(field, ".,")
			if _, err := semver.NewVersion(trimmed); err == nil {
				return trimmed
			}
		}
	}
	return ""
}

// meetsMinimum compares version against the configured floor using
// Masterminds/semver, tolerant of two-component versions like "17.0" by
// coercing them before comparison.
func meetsMinimum(version, minimum string) (bool, error) {
	v, err := semver.NewVersion(coerceSemver(version))
	if err != nil {
		return false, fmt.Errorf("parse engine version %q: %w", version, err)
	}
	min, err := semver.NewVersion(coerceSemver(minimum))
	if err != nil {
		return false, fmt.Errorf("parse min-engine-version %q: %w", minimum, err)
	}
	return !v.LessThan(min), nil
}

func coerceSemver(raw string) string {
	parts := strings.Split(raw, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return strings.Join(parts[:3], ".")
}

// stats reads supplemental resource usage for the running subprocess via
// gopsutil, returning nil when no process is currently running.
func (w *Worker) stats() (*Stats, error) {
	w.proc.mu.Lock()
	cmd := w.proc.cmd
	started := w.proc.started
	w.proc.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil, fmt.Errorf("no running process")
	}

	p, err := gopsprocess.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return nil, fmt.Errorf("open process stats: %w", err)
	}

	mem, err := p.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("read memory info: %w", err)
	}

	cpuPct, err := p.CPUPercent()
	if err != nil {
		cpuPct = 0
	}

	return &Stats{
		RSSBytes:   mem.RSS,
		CPUPercent: cpuPct,
		UptimeMS:   time.Since(started).Milliseconds(),
	}, nil
}
