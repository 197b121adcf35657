package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		args    []string
		want    command
		wantErr error
	}{
		{name: "default is run", args: nil, want: command{name: cmdRun}},
		{name: "explicit run", args: []string{"run"}, want: command{name: cmdRun}},
		{name: "run with extra args", args: []string{"run", "now"}, wantErr: ErrUnknownCommand},
		{name: "import", args: []string{"import", "recent.json"}, want: command{name: cmdImport, file: "recent.json"}},
		{
			name: "import with genres",
			args: []string{"import", "-genres", "artists.json", "recent.json"},
			want: command{name: cmdImport, file: "recent.json", genresFile: "artists.json"},
		},
		{name: "import without file", args: []string{"import"}, wantErr: ErrMissingArgument},
		{name: "migrate defaults to up", args: []string{"migrate"}, want: command{name: cmdMigrate, migrateOp: migrateUp}},
		{name: "migrate status", args: []string{"migrate", "status"}, want: command{name: cmdMigrate, migrateOp: migrateStatus}},
		{name: "migrate down", args: []string{"migrate", "down"}, want: command{name: cmdMigrate, migrateOp: migrateDown}},
		{name: "migrate drop", args: []string{"migrate", "drop"}, wantErr: ErrUnknownCommand},
		{name: "unknown", args: []string{"serve"}, wantErr: ErrUnknownCommand},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.args)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
