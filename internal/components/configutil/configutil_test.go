package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	BaseUrl string   `json:"base_url"`
	Limit   int      `json:"limit"`
	Tables  []string `json:"tables"`
}

func TestReadConfigLocalOverride(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "harvester.json5"), []byte(`{
		// comments are allowed
		base_url: "http://example.com",
		limit: 10,
	}`), 0600)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "harvester.local.json5"), []byte(`{limit: 25, tables: ["properties"]}`), 0600)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.json5"))
	require.NoError(t, err)
	require.Equal(t, "http://example.com", cfg.BaseUrl)
	require.Equal(t, 25, cfg.Limit)
	require.Equal(t, []string{"properties"}, cfg.Tables)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "nothing.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadOrDefault(t *testing.T) {
	dir := t.TempDir()
	defaults := testConfig{BaseUrl: "http://default", Limit: -1}

	cfg, err := ReadOrDefault(filepath.Join(dir, "missing.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, cfg)

	err = os.WriteFile(filepath.Join(dir, "partial.json5"), []byte(`{limit: 4}`), 0600)
	require.NoError(t, err)
	cfg, err = ReadOrDefault(filepath.Join(dir, "partial.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, "http://default", cfg.BaseUrl)
	require.Equal(t, 4, cfg.Limit)
}

func TestReadConfigFormats(t *testing.T) {
	testCases := []struct {
		name     string
		contents string
	}{
		{
			name: "harvester.yaml",
			contents: `
base_url: http://example.com
limit: 7
tables: [sales_histories]
`,
		},
		{
			name: "harvester.toml",
			contents: `
base_url = "http://example.com"
limit = 7
tables = ["sales_histories"]
`,
		},
		{
			name:     "harvester.json",
			contents: `{"base_url": "http://example.com", "limit": 7, "tables": ["sales_histories"]}`,
		},
	}

	expected := testConfig{
		BaseUrl: "http://example.com",
		Limit:   7,
		Tables:  []string{"sales_histories"},
	}
	for _, test := range testCases {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), test.name)
			err := os.WriteFile(path, []byte(test.contents), 0600)
			require.NoError(t, err)

			cfg, err := ReadConfig[testConfig](path)
			require.NoError(t, err)
			require.Equal(t, expected, cfg)
		})
	}
}

func TestReadConfigYamlLocalOverride(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "harvester.yml"), []byte("base_url: http://example.com\nlimit: 1\n"), 0600)
	require.NoError(t, err)
	err = os.WriteFile(filepath.Join(dir, "harvester.local.yml"), []byte("limit: 2\n"), 0600)
	require.NoError(t, err)

	cfg, err := ReadConfig[testConfig](filepath.Join(dir, "harvester.yml"))
	require.NoError(t, err)
	require.Equal(t, "http://example.com", cfg.BaseUrl)
	require.Equal(t, 2, cfg.Limit)
}
