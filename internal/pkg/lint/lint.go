// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package lint checks an OS root tree for layout problems that would break
// a deployment before any installation work starts.
package lint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ociboot/ociboot/internal/pkg/bootloader/kargs"
)

// Severity of a lint finding.
type Severity string

// Severities.
const (
	// SeverityFatal findings abort an installation.
	SeverityFatal Severity = "fatal"
	// SeverityWarning findings are reported but do not block.
	SeverityWarning Severity = "warning"
)

// Lint is one named check over a root tree.
type Lint struct {
	Name        string
	Severity    Severity
	Description string

	check func(root string) error
}

// Finding is a failed lint.
type Finding struct {
	Name     string
	Severity Severity
	Err      error
}

// List returns all lints, sorted by name.
func List() []Lint {
	lints := []Lint{
		{
			Name:        "var-run",
			Severity:    SeverityFatal,
			Description: "var/run must be a symlink to ../run, not a real directory",
			check:       checkVarRun,
		},
		{
			Name:        "usr-etc",
			Severity:    SeverityFatal,
			Description: "configuration lives in etc; a usr/etc directory conflicts with its management",
			check:       checkUsrEtc,
		},
		{
			Name:        "kernel-layout",
			Severity:    SeverityFatal,
			Description: "usr/lib/modules must hold exactly one kernel directory containing vmlinuz",
			check:       checkKernelLayout,
		},
		{
			Name:        "kargs",
			Severity:    SeverityFatal,
			Description: "the kernel argument defaults file must parse, one argument per line",
			check:       checkKargs,
		},
		{
			Name:        "boot-contents",
			Severity:    SeverityWarning,
			Description: "boot should be an empty mount point; its contents are shadowed at runtime",
			check:       checkBootContents,
		},
		{
			Name:        "var-log",
			Severity:    SeverityWarning,
			Description: "log files baked into var/log are never updated and waste space",
			check:       checkVarLog,
		},
	}

	sort.Slice(lints, func(i, j int) bool { return lints[i].Name < lints[j].Name })

	return lints
}

// Run executes all lints against the root tree.
//
// Warning findings are returned for reporting; fatal findings are also
// aggregated into the returned error.
func Run(root string, logger *zap.Logger) ([]Finding, error) {
	var (
		findings []Finding
		fatal    error
	)

	for _, l := range List() {
		err := l.check(root)
		if err == nil {
			logger.Debug("lint passed", zap.String("lint", l.Name))

			continue
		}

		findings = append(findings, Finding{
			Name:     l.Name,
			Severity: l.Severity,
			Err:      err,
		})

		if l.Severity == SeverityFatal {
			fatal = multierror.Append(fatal, fmt.Errorf("%s: %w", l.Name, err))
		} else {
			logger.Warn("lint warning", zap.String("lint", l.Name), zap.Error(err))
		}
	}

	return findings, fatal
}

func checkVarRun(root string) error {
	st, err := os.Lstat(filepath.Join(root, "var/run"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	if st.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("var/run is a %s, expected a symlink to ../run", st.Mode().Type())
	}

	target, err := os.Readlink(filepath.Join(root, "var/run"))
	if err != nil {
		return err
	}

	if target != "../run" && target != "/run" {
		return fmt.Errorf("var/run points at %q, expected ../run", target)
	}

	return nil
}

func checkUsrEtc(root string) error {
	if _, err := os.Stat(filepath.Join(root, "usr/etc")); err == nil {
		return fmt.Errorf("usr/etc exists; all configuration must live under etc")
	}

	return nil
}

func checkKernelLayout(root string) error {
	entries, err := os.ReadDir(filepath.Join(root, "usr/lib/modules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	var kernels []string

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		if _, err := os.Stat(filepath.Join(root, "usr/lib/modules", e.Name(), "vmlinuz")); err != nil {
			return fmt.Errorf("kernel directory %s has no vmlinuz", e.Name())
		}

		kernels = append(kernels, e.Name())
	}

	if len(kernels) > 1 {
		return fmt.Errorf("multiple kernels found: %v", kernels)
	}

	return nil
}

func checkKargs(root string) error {
	args, err := kargs.Defaults(root)
	if err != nil {
		return err
	}

	for _, arg := range args {
		if strings.ContainsAny(arg, " \t") {
			return fmt.Errorf("invalid kernel argument %q: one argument per line", arg)
		}
	}

	// the arguments must also survive the cmdline merge applied at install
	if _, err := kargs.Merge(args, nil); err != nil {
		return err
	}

	return nil
}

func checkBootContents(root string) error {
	entries, err := os.ReadDir(filepath.Join(root, "boot"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, e := range entries {
		// .gitkeep style placeholders are harmless
		if e.Name() == ".keep" {
			continue
		}

		return fmt.Errorf("boot contains %q", e.Name())
	}

	return nil
}

func checkVarLog(root string) error {
	var files []string

	err := filepath.WalkDir(filepath.Join(root, "var/log"), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if !d.IsDir() {
			files = append(files, path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	if len(files) > 0 {
		return fmt.Errorf("var/log contains %d file(s)", len(files))
	}

	return nil
}
