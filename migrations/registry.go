// Package migrations exposes the embedded credential schema so host
// applications can hand it to whatever migration runner they use.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	client "github.com/goliatone/go-client"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	migrationsDir = "data/sql/migrations"
)

// credentialMigrations are the schema steps every dialect tree must carry,
// each as an .up.sql/.down.sql pair.
var credentialMigrations = []string{
	"00001_client_credentials",
	"00002_client_auth_events",
}

type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect's migration filesystem to the host runner.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type Option func(*Registration)

func WithSourceLabel(label string) Option {
	return func(r *Registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.SourceLabel = trimmed
		}
	}
}

// WithValidationTargets restricts registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if next := normalizeDialects(targets); len(next) > 0 {
			r.ValidationTargets = next
		}
	}
}

// Filesystems resolves the postgres and sqlite migration trees from the
// embedded schema, or from an explicit root when one is given. Every dialect
// tree is checked for the full credential migration set before it is returned.
func Filesystems(sources ...fs.FS) ([]FilesystemSpec, error) {
	root := client.GetCoreMigrationsFS()
	if len(sources) > 0 && sources[0] != nil {
		root = sources[0]
	}

	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", migrationsDir, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: migrationsDir, FS: base},
		{Dialect: DialectSQLite, Path: migrationsDir + "/sqlite", FS: sqliteFS},
	}
	for _, spec := range filesystems {
		if err := verifyCredentialSchema(spec); err != nil {
			return nil, err
		}
	}
	return filesystems, nil
}

func verifyCredentialSchema(spec FilesystemSpec) error {
	for _, name := range credentialMigrations {
		for _, suffix := range []string{".up.sql", ".down.sql"} {
			filename := name + suffix
			info, err := fs.Stat(spec.FS, filename)
			if err != nil {
				return fmt.Errorf("migrations: %s tree %q is missing %s: %w", spec.Dialect, spec.Path, filename, err)
			}
			if info.Size() == 0 {
				return fmt.Errorf("migrations: %s tree %q has empty %s", spec.Dialect, spec.Path, filename)
			}
		}
	}
	return nil
}

// Register feeds the credential schema to the host's migration runner, one
// call per dialect named in the validation targets.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       "go-client",
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}

	filesystems, err := Filesystems()
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&reg)
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" || slices.Contains(out, trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
