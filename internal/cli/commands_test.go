package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against dbPath and returns stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, err := run(t, dbPath, args...)
	require.NoError(t, err, out)
	return out
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "docs.db")
}

func TestPutGet(t *testing.T) {
	db := tempDB(t)

	out := mustRun(t, db, "put", "doc1", "--body", `{"title":"hello"}`, "--version", "1-a")
	assert.Equal(t, "doc1 written at sequence 1\n", out)

	out = mustRun(t, db, "--format", "json", "get", "doc1")
	var rec RecordView
	decodeData(t, out, &rec)
	assert.Equal(t, "doc1", rec.Key)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.Equal(t, "1-a", rec.Version)
	assert.False(t, rec.Deleted)
	assert.Equal(t, map[string]any{"title": "hello"}, rec.Body)

	out = mustRun(t, db, "--format", "json", "get", "--seq", "1", "--meta")
	var meta RecordView
	decodeData(t, out, &meta)
	assert.Equal(t, "doc1", meta.Key)
	assert.Nil(t, meta.Body)
}

func TestPutConflict(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "doc1", "--body", `{}`, "--replacing", "0")

	out, err := run(t, db, "--format", "json", "put", "doc1", "--body", `{"n":2}`, "--replacing", "0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, CodeConflict, resp.Error.Code)

	// A stale sequence is a conflict too; the current one succeeds.
	_, err = run(t, db, "put", "doc1", "--body", `{}`, "--replacing", "5")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	out = mustRun(t, db, "put", "doc1", "--body", `{}`, "--replacing", "1")
	assert.Contains(t, out, "sequence 2")
}

func TestPutKeepSequence(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "doc1", "--body", `{}`)

	// Deleting with the current sequence would move doc1 to the deleted store.
	_, err := run(t, db, "put", "doc1", "--deleted", "--replacing", "1", "--keep-sequence")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--keep-sequence")

	// A stale sequence is an ordinary conflict.
	_, err = run(t, db, "put", "doc1", "--deleted", "--replacing", "9", "--keep-sequence")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// Staying live keeps the sequence.
	out := mustRun(t, db, "put", "doc1", "--body", `{"n":2}`, "--replacing", "1", "--keep-sequence")
	assert.Contains(t, out, "sequence 1")

	out = mustRun(t, db, "--format", "json", "get", "doc1")
	var rec RecordView
	decodeData(t, out, &rec)
	assert.Equal(t, uint64(1), rec.Sequence)
	assert.False(t, rec.Deleted)
}

func TestPutInvalidBody(t *testing.T) {
	_, err := run(t, tempDB(t), "put", "doc1", "--body", `{nope`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetMissing(t *testing.T) {
	db := tempDB(t)
	_, err := run(t, db, "get", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "not found: nope")

	_, err = run(t, db, "get")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTombstoneLifecycle(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "doc1", "--body", `{"n":1}`)
	mustRun(t, db, "put", "doc2", "--body", `{"n":2}`)
	mustRun(t, db, "put", "doc1", "--deleted", "--version", "2-b")

	assert.Equal(t, "1\n", mustRun(t, db, "count"))
	assert.Equal(t, "2\n", mustRun(t, db, "count", "--deleted"))

	var live RecordList
	decodeData(t, mustRun(t, db, "--format", "json", "list"), &live)
	require.Equal(t, 1, live.Count)
	assert.Equal(t, "doc2", live.Records[0].Key)

	var all RecordList
	decodeData(t, mustRun(t, db, "--format", "json", "list", "--deleted"), &all)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "doc2", all.Records[0].Key)
	assert.Equal(t, uint64(2), all.Records[0].Sequence)
	assert.Equal(t, "doc1", all.Records[1].Key)
	assert.Equal(t, uint64(3), all.Records[1].Sequence)
	assert.True(t, all.Records[1].Deleted)

	var desc RecordList
	decodeData(t, mustRun(t, db, "--format", "json", "list", "--deleted", "--by-key", "--desc", "--limit", "1"), &desc)
	require.Equal(t, 1, desc.Count)
	assert.Equal(t, "doc2", desc.Records[0].Key)

	// Resurrection moves the key back to the live store.
	mustRun(t, db, "put", "doc1", "--body", `{"n":3}`)
	assert.Equal(t, "2\n", mustRun(t, db, "count"))
	assert.Equal(t, "2\n", mustRun(t, db, "count", "--deleted"))
}

func TestListSinceByKeyRejected(t *testing.T) {
	_, err := run(t, tempDB(t), "list", "--by-key", "--since", "3")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDel(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "doc1", "--deleted")

	_, err := run(t, db, "del", "doc1", "--replacing", "9")
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Equal(t, "doc1 deleted\n", mustRun(t, db, "del", "doc1", "--replacing", "1"))
	assert.Equal(t, "0\n", mustRun(t, db, "count", "--deleted"))

	_, err = run(t, db, "del", "doc1")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestExpire(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "doc1", "--body", `{}`)
	mustRun(t, db, "put", "doc2", "--deleted")
	mustRun(t, db, "put", "doc3", "--body", `{}`)

	mustRun(t, db, "expire", "set", "doc1", "1000")
	mustRun(t, db, "expire", "set", "doc2", "2000")

	assert.Equal(t, "1000\n", mustRun(t, db, "expire", "get", "doc1"))
	assert.Equal(t, "2000\n", mustRun(t, db, "expire", "get", "doc2"))
	assert.Equal(t, "0\n", mustRun(t, db, "expire", "get", "doc3"))
	assert.Equal(t, "1000\n", mustRun(t, db, "expire", "next"))

	_, err := run(t, db, "expire", "set", "missing", "1000")
	assert.Equal(t, ExitFailure, GetExitCode(err))
	_, err = run(t, db, "expire", "set", "doc1", "soon")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var res CountResult
	decodeData(t, mustRun(t, db, "--format", "json", "expire", "run"), &res)
	assert.Equal(t, uint64(2), res.Count)
	assert.Equal(t, []string{"doc1", "doc2"}, res.Keys)
	assert.Equal(t, "1\n", mustRun(t, db, "count", "--deleted"))
	assert.Equal(t, "0\n", mustRun(t, db, "expire", "next"))
}

const defsCUE = `
index: by_type: expressions: ["type"]

query: books: {
	where: [{field: "type", param: "type"}]
	select: [{path: "title"}, {path: "author.name", as: "author"}]
}
`

func writeDefs(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "defs.cue")
	require.NoError(t, os.WriteFile(path, []byte(defsCUE), 0o644))
	return path
}

func TestIndexCommands(t *testing.T) {
	db := tempDB(t)
	defs := writeDefs(t)

	var created IndexList
	decodeData(t, mustRun(t, db, "--format", "json", "index", "create", "--spec", defs), &created)
	require.Len(t, created.Indexes, 1)
	assert.Equal(t, "by_type", created.Indexes[0].Name)
	require.NotNil(t, created.Indexes[0].Created)
	assert.True(t, *created.Indexes[0].Created)

	out := mustRun(t, db, "index", "create", "--spec", defs)
	assert.Contains(t, out, "[unchanged]")

	assert.Equal(t, "by_type (value): type\n", mustRun(t, db, "index", "list"))

	mustRun(t, db, "index", "drop", "by_type")
	assert.Equal(t, "(no indexes)\n", mustRun(t, db, "index", "list"))
}

func TestIndexCreateOnMemoryEngine(t *testing.T) {
	_, err := run(t, ":memory:", "--engine", "memory", "index", "create", "--spec", writeDefs(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestQuery(t *testing.T) {
	db := tempDB(t)
	mustRun(t, db, "put", "b1", "--body", `{"type":"book","title":"Dune","author":{"name":"Herbert"}}`)
	mustRun(t, db, "put", "m1", "--body", `{"type":"movie","title":"Alien"}`)
	mustRun(t, db, "put", "b2", "--body", `{"type":"book","title":"Emma","author":{"name":"Austen"}}`)
	mustRun(t, db, "put", "b3", "--deleted")

	var inline QueryResult
	decodeData(t, mustRun(t, db, "--format", "json", "query", "--where", "type=book", "--select", "title"), &inline)
	require.Len(t, inline.Rows, 2)
	assert.Equal(t, "b1", inline.Rows[0]["key"])
	assert.Equal(t, "Dune", inline.Rows[0]["title"])
	assert.Equal(t, "b2", inline.Rows[1]["key"])

	var named QueryResult
	decodeData(t, mustRun(t, db, "--format", "json", "query",
		"--spec", writeDefs(t), "--name", "books", "--param", "type=book", "--desc"), &named)
	require.Len(t, named.Rows, 2)
	assert.Equal(t, "b2", named.Rows[0]["key"])
	assert.Equal(t, "Austen", named.Rows[0]["author"])

	_, err := run(t, db, "query", "--spec", writeDefs(t), "--name", "nope")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_, err = run(t, db, "query", "--where", "novalue")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseScalar(t *testing.T) {
	assert.Equal(t, int64(42), parseScalar("42"))
	assert.Equal(t, 1.5, parseScalar("1.5"))
	assert.Equal(t, true, parseScalar("true"))
	assert.Nil(t, parseScalar("null"))
	assert.Equal(t, "quoted", parseScalar(`"quoted"`))
	assert.Equal(t, "plain", parseScalar("plain"))
	assert.Equal(t, "[1]", parseScalar("[1]"))
}

func TestMemoryEngine(t *testing.T) {
	out := mustRun(t, ":memory:", "--engine", "memory", "put", "doc1", "--body", `{}`)
	assert.Equal(t, "doc1 written at sequence 1\n", out)
}

func TestTestCommand(t *testing.T) {
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")
	golden := filepath.Join("..", "harness", "testdata", "golden")

	out, err := run(t, tempDB(t), "test", scenarios, "--golden-dir", golden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ lifecycle")
	assert.Contains(t, out, "✓ All scenarios passed")

	out, err = run(t, tempDB(t), "--format", "json", "test", scenarios, "--golden-dir", golden, "--filter", "insert_*")
	require.NoError(t, err, out)
	var res TestResult
	decodeData(t, out, &res)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Passed)
}

func TestTestCommandUpdateAndMismatch(t *testing.T) {
	dir := t.TempDir()
	scenario := []byte(`name: tiny
description: one write
steps:
  - op: set
    key: a
    body: {n: 1}
    expect: {seq: 1, store: live}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.yaml"), scenario, 0o644))

	// No golden file: expectations alone decide.
	mustRun(t, tempDB(t), "test", dir)

	mustRun(t, tempDB(t), "test", dir, "--update")
	goldenPath := filepath.Join(dir, "golden", "tiny.golden")
	data, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name": "tiny"`)

	mustRun(t, tempDB(t), "test", filepath.Join(dir, "tiny.yaml"))

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0o644))
	out, err := run(t, tempDB(t), "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandMissingPath(t *testing.T) {
	_, err := run(t, tempDB(t), "test", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
