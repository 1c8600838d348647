package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

func TestMigrationsArePairedAndContiguous(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	pairs := map[int]map[string]string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		require.NotNil(t, match, "unexpected migration file name %s", entry.Name())
		version, err := strconv.Atoi(match[1])
		require.NoError(t, err)
		if pairs[version] == nil {
			pairs[version] = map[string]string{}
		}
		require.Empty(t, pairs[version][match[2]], "duplicate %s file for version %d", match[2], version)
		pairs[version][match[2]] = entry.Name()
	}
	require.NotEmpty(t, pairs, "no migrations discovered")

	versions := make([]int, 0, len(pairs))
	for version := range pairs {
		versions = append(versions, version)
	}
	sort.Ints(versions)
	for i, version := range versions {
		require.Equal(t, i+1, version, "migration versions must be numbered without gaps")
		require.NotEmpty(t, pairs[version]["up"], "version %d has no up file", version)
		require.NotEmpty(t, pairs[version]["down"], "version %d has no down file", version)

		body, err := os.ReadFile(filepath.Join(dir, pairs[version]["up"]))
		require.NoError(t, err)
		require.NotEmpty(t, strings.TrimSpace(string(body)), "%s is empty", pairs[version]["up"])
	}
}

func TestMigrationsCreateWorkingSetTables(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	files, err := migrationFiles(dir, ".up.sql")
	require.NoError(t, err)

	var all strings.Builder
	for _, name := range files {
		body, err := os.ReadFile(name)
		require.NoError(t, err)
		all.Write(body)
	}
	schema := all.String()
	for _, table := range []string{"users", "kv_entries", "departments", "staff", "goals"} {
		require.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table+" ", "missing table %s", table)
	}
}
