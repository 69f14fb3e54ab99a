// Package engineopts loads the engine's declarative configuration: install
// root, admin directory, abort-after policy, and the force-flag policy, all
// from one YAML file, grounded on manifest/repository.go's
// os.ReadFile-then-yaml.Unmarshal load idiom.
package engineopts

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/etnz/dpkgcore/resolver"
)

// Options configures one invocation of the engine.
type Options struct {
	// InstallRoot is the filesystem prefix every placement path is resolved
	// under (spec.md's "single configured install prefix").
	InstallRoot string `yaml:"install_root"`
	// AdminDir holds the status/available/diversions database files.
	AdminDir string `yaml:"admin_dir"`
	// AbortAfter is decoded from abort_after, but nothing in this module
	// reads it; it has no effect on how operations handle failures.
	AbortAfter int `yaml:"abort_after"`
	// AutoDeconfigure enables step 4 of check_conflict (spec.md §4.7):
	// deconfigure a dependent rather than refusing the conflict outright.
	AutoDeconfigure bool `yaml:"auto_deconfigure"`
	// Force is the force-flag policy (spec.md §7).
	Force resolver.ForceFlags `yaml:"force"`
}

// Load reads and decodes Options from path.
func Load(path string) (*Options, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading options file %s: %w", path, err)
	}
	var opts Options
	if err := yaml.Unmarshal(content, &opts); err != nil {
		return nil, fmt.Errorf("parsing options file %s: %w", path, err)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

// validate checks the required fields, paralleling the teacher's own
// required-field checks in NewRepository ("archivefile must specify
// 'repo'").
func (o *Options) validate() error {
	if o.InstallRoot == "" {
		return fmt.Errorf("options: install_root must be set")
	}
	if o.AdminDir == "" {
		return fmt.Errorf("options: admin_dir must be set")
	}
	return nil
}

// Default returns the conventional options for a live system, for callers
// (tests, simple CLI invocations) that don't need a policy file.
func Default(installRoot, adminDir string) Options {
	return Options{InstallRoot: installRoot, AdminDir: adminDir}
}
