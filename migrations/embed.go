// Package migrations embeds the listenlog PostgreSQL schema and applies it with golang-migrate.
//
// Every statement is written as CREATE ... IF NOT EXISTS so applying the schema is
// idempotent even against a database created outside the migration history.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// 001_name.up.sql or 001_name.down.sql.
var filenamePattern = regexp.MustCompile(`^(\d{3})_([a-z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the filesystem holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")
	// ErrUnpairedMigration is returned when an up migration lacks its down file or vice versa.
	ErrUnpairedMigration = errors.New("migration is missing its up or down pair")
	// ErrSequenceGap is returned when migration sequence numbers are not contiguous from 001.
	ErrSequenceGap = errors.New("migration sequence is not contiguous")
)

// File describes one parsed migration filename.
type File struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// FS returns the embedded migration filesystem.
func FS() fs.FS {
	return embedded
}

// List returns the migration files in fsys that follow the naming standard, sorted by name.
// Files that do not match are ignored.
func List(fsys fs.FS) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]File, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		match := filenamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		sequence, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("invalid sequence in %s: %w", entry.Name(), err)
		}

		files = append(files, File{
			Sequence:  sequence,
			Name:      match[2],
			Direction: match[3],
			Filename:  entry.Name(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Filename < files[j].Filename
	})

	return files, nil
}

// Validate checks that fsys holds at least one migration, that every up file has a
// matching down file, and that sequences run 001, 002, ... without gaps.
func Validate(fsys fs.FS) error {
	files, err := List(fsys)
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	type pair struct {
		name     string
		up, down bool
	}

	pairs := make(map[int]*pair)

	for _, f := range files {
		p, ok := pairs[f.Sequence]
		if !ok {
			p = &pair{name: f.Name}
			pairs[f.Sequence] = p
		}

		if p.name != f.Name {
			return fmt.Errorf("%w: sequence %03d used by %q and %q", ErrUnpairedMigration, f.Sequence, p.name, f.Name)
		}

		if f.Direction == "up" {
			p.up = true
		} else {
			p.down = true
		}
	}

	for seq := 1; seq <= len(pairs); seq++ {
		p, ok := pairs[seq]
		if !ok {
			return fmt.Errorf("%w: missing %03d", ErrSequenceGap, seq)
		}

		if !p.up || !p.down {
			return fmt.Errorf("%w: %03d_%s", ErrUnpairedMigration, seq, p.name)
		}
	}

	return nil
}

// LatestVersion returns the highest sequence number in fsys, or 0 when there is none.
func LatestVersion(fsys fs.FS) int {
	files, err := List(fsys)
	if err != nil {
		return 0
	}

	latest := 0

	for _, f := range files {
		if f.Sequence > latest {
			latest = f.Sequence
		}
	}

	return latest
}
