package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	keyprobe "github.com/goliatone/go-keyprobe"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const rootPath = "data/sql/migrations"

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Source is the migration set applied for one dialect. Postgres files live at
// the root of data/sql/migrations and sqlite variants under sqlite/.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
	Files   []string
}

type RegisterFunc func(ctx context.Context, source Source) error

type options struct {
	root fs.FS
}

type Option func(*options)

// WithRoot reads migrations from root instead of the embedded set. root may
// contain data/sql/migrations or be that directory itself.
func WithRoot(root fs.FS) Option {
	return func(o *options) {
		if root != nil {
			o.root = root
		}
	}
}

// Sources resolves the migration set of every supported dialect.
func Sources(opts ...Option) ([]Source, error) {
	out := make([]Source, 0, 2)
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		source, err := Load(dialect, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, source)
	}
	return out, nil
}

// Load resolves the migration set for dialect. Every *.up.sql file must have a
// matching *.down.sql file.
func Load(dialect string, opts ...Option) (Source, error) {
	cfg := options{root: keyprobe.GetMigrationsFS()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	base, basePath, err := resolveRoot(cfg.root)
	if err != nil {
		return Source{}, err
	}

	source := Source{Dialect: strings.TrimSpace(strings.ToLower(dialect)), Path: basePath, FS: base}
	switch source.Dialect {
	case DialectPostgres:
	case DialectSQLite:
		sub, err := fs.Sub(base, "sqlite")
		if err != nil {
			return Source{}, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
		}
		source.FS = sub
		source.Path = joinPath(basePath, "sqlite")
	default:
		return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	files, err := pairedFiles(source.FS)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: %s (%s): %w", source.Dialect, source.Path, err)
	}
	source.Files = files
	return source, nil
}

// Register loads the migration set for dialect and hands it to registerFn.
func Register(ctx context.Context, dialect string, registerFn RegisterFunc, opts ...Option) (Source, error) {
	if registerFn == nil {
		return Source{}, fmt.Errorf("migrations: register function is required")
	}
	source, err := Load(dialect, opts...)
	if err != nil {
		return Source{}, err
	}
	if err := registerFn(ctx, source); err != nil {
		return source, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
	}
	return source, nil
}

func pairedFiles(fsys fs.FS) ([]string, error) {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	if len(ups) == 0 {
		return nil, fmt.Errorf("no *.up.sql files")
	}
	sort.Strings(ups)
	files := make([]string, 0, len(ups)*2)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return nil, fmt.Errorf("%s has no matching %s", up, down)
		}
		files = append(files, up, down)
	}
	return files, nil
}

func resolveRoot(root fs.FS) (fs.FS, string, error) {
	if sub, err := fs.Sub(root, rootPath); err == nil {
		if _, statErr := fs.Stat(sub, "."); statErr == nil {
			return sub, rootPath, nil
		}
	}
	if matches, _ := fs.Glob(root, "*.sql"); len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func joinPath(base string, name string) string {
	if base == "." {
		return name
	}
	return base + "/" + name
}
