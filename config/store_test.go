package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMergesSourcesByPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", `
server:
  host: 0.0.0.0
`)
	t.Setenv("MITSUKI_SERVER_PORT", "9000")

	store, err := NewLoader(dir).Load()
	require.NoError(t, err)

	port, err := store.Int("server.port")
	require.NoError(t, err)
	assert.Equal(t, 9000, port)

	host, err := store.String("server.host")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)

	portSource, ok := store.ProvenanceOf("server.port")
	require.True(t, ok)
	assert.Equal(t, SourceEnvironment, portSource.Kind)
	assert.Equal(t, "MITSUKI_SERVER_PORT", portSource.Specifier)

	hostSource, ok := store.ProvenanceOf("server.host")
	require.True(t, ok)
	assert.Equal(t, SourceApplicationFile, hostSource.Kind)
}

func TestEnvironmentIsFallbackBelowFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", `
server:
  port: 8081
`)
	t.Setenv("MITSUKI_SERVER_PORT", "9000")

	store, err := NewLoader(dir).Load()
	require.NoError(t, err)

	port, err := store.Int("server.port")
	require.NoError(t, err)
	assert.Equal(t, 8081, port)

	source, _ := store.ProvenanceOf("server.port")
	assert.Equal(t, SourceApplicationFile, source.Kind)
}

func TestProfileOverlayWinsOverBaseFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", `
server:
  port: 8081
  host: 0.0.0.0
`)
	writeFile(t, dir, "application-prod.yml", `
server:
  port: 443
`)

	store, err := NewLoader(dir).Profile("prod").Load()
	require.NoError(t, err)

	port, err := store.Int("server.port")
	require.NoError(t, err)
	assert.Equal(t, 443, port)

	host, err := store.String("server.host")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)

	source, _ := store.ProvenanceOf("server.port")
	assert.Equal(t, SourceProfileFile, source.Kind)
}

func TestProfileFromEnvironmentVariable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application-staging.yml", "app:\n  name: staged\n")
	t.Setenv("MITSUKI_PROFILE", "staging")

	store, err := NewLoader(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, "staging", store.Profile())

	name, err := store.String("app.name")
	require.NoError(t, err)
	assert.Equal(t, "staged", name)
}

func TestMissingProfileFileIsOnlyFatalWhenRequired(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoader(dir).Profile("prod").Load()
	require.NoError(t, err)

	_, err = NewLoader(dir).Profile("prod").RequireProfileFile(true).Load()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConfiguration))
}

func TestMalformedDocumentFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", "server:\n  port: [unclosed")

	_, err := NewLoader(dir).Load()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConfiguration))
}

func TestProgrammaticValuesWinOverEverything(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", "server:\n  port: 8081\n")

	store, err := NewLoader(dir).Set("server.port", 7777).Load()
	require.NoError(t, err)

	port, err := store.Int("server.port")
	require.NoError(t, err)
	assert.Equal(t, 7777, port)

	source, _ := store.ProvenanceOf("server.port")
	assert.Equal(t, SourceProgrammatic, source.Kind)
}

func TestTypedCoercion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", `
limits:
  max: "250"
  ratio: "0.5"
  enabled: "yes"
  disabled: "off"
  tags: alpha, beta, gamma
  hosts:
    - a.example.com
    - b.example.com
  timeout: 1500
  grace: 5s
  broken: definitely
`)

	store, err := NewLoader(dir).Load()
	require.NoError(t, err)

	max, err := store.Int("limits.max")
	require.NoError(t, err)
	assert.Equal(t, 250, max)

	ratio, err := store.Float("limits.ratio")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, ratio, 1e-9)

	enabled, err := store.Bool("limits.enabled")
	require.NoError(t, err)
	assert.True(t, enabled)

	disabled, err := store.Bool("limits.disabled")
	require.NoError(t, err)
	assert.False(t, disabled)

	tags, err := store.StringSlice("limits.tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, tags)

	hosts, err := store.StringSlice("limits.hosts")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, hosts)

	timeout, err := store.Duration("limits.timeout")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, timeout)

	grace, err := store.Duration("limits.grace")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, grace)

	_, err = store.Int("limits.broken")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindConfiguration))

	_, err = store.Bool("limits.broken")
	require.Error(t, err)
}

func TestDefaultsApplyOnlyWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLoader(dir).Load()
	require.NoError(t, err)

	value, err := store.IntDefault("nothing.here", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	assert.Equal(t, "fallback", store.StringDefault("nothing.here", "fallback"))

	// Framework defaults are present as the lowest layer.
	addr, err := store.String("mitsuki.server.address")
	require.NoError(t, err)
	assert.Equal(t, ":8080", addr)

	source, _ := store.ProvenanceOf("mitsuki.server.address")
	assert.Equal(t, SourceDefaults, source.Kind)
}

func TestSubReturnsNestedMapping(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "application.yml", `
db:
  pool:
    size: 10
    idle: 2
`)

	store, err := NewLoader(dir).Load()
	require.NoError(t, err)

	sub := store.Sub("db.pool")
	assert.Equal(t, 10, sub["size"])
	assert.Equal(t, 2, sub["idle"])
}
