package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/labelflow/internal/label"
	"github.com/JonMunkholm/labelflow/internal/project"
)

const sampleJobFile = `
projects:
  - id: 1
    name: ner
    type: SequenceLabeling
    policy:
      allow_overlapping: true
    members:
      - {user_id: 7, username: alice}
jobs:
  - kind: import
    project_id: 1
    user_id: 7
    format: csv
    files: [data/train.csv]
    encoding: cp1252
    delimiter: ";"
    columns:
      data_column: sentence
      label_columns:
        - {name: tags, kind: span}
  - kind: export
    project_id: 1
    format: jsonl
    confirmed_only: true
`

func TestParseJobFile(t *testing.T) {
	jf, err := ParseJobFile([]byte(sampleJobFile))
	require.NoError(t, err)

	require.Len(t, jf.Projects, 1)
	p := jf.Projects[0].Project()
	assert.Equal(t, project.SequenceLabeling, p.Type)
	assert.True(t, p.Policy.AllowOverlapping)
	assert.Equal(t, []MemberSpec{{UserID: 7, Username: "alice"}}, jf.Projects[0].Members)

	require.Len(t, jf.Jobs, 2)
	imp := jf.Jobs[0]
	assert.Equal(t, "import", imp.Kind)
	assert.Equal(t, []string{"data/train.csv"}, imp.Files)
	assert.Equal(t, ";", imp.Delimiter)
	require.NotNil(t, imp.Columns)
	assert.Equal(t, "sentence", imp.Columns.DataColumn)
	assert.Equal(t, label.KindSpan, imp.Columns.LabelColumns[0].Kind)

	assert.True(t, jf.Jobs[1].ConfirmedOnly)
}

func TestParseJobFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no jobs", "jobs: []\n", "no jobs defined"},
		{"unknown key", "jobs:\n  - kind: import\n    projekt: 1\n", "projekt"},
		{"bad kind", "jobs:\n  - {kind: delete, project_id: 1, format: csv}\n", "kind must be import or export"},
		{"import without files", "jobs:\n  - {kind: import, project_id: 1, format: csv}\n", "at least one file"},
		{"export with files", "jobs:\n  - {kind: export, project_id: 1, format: csv, files: [a.csv]}\n", "take no files"},
		{"unknown project type", "projects:\n  - {id: 1, type: Poetry}\njobs:\n  - {kind: export, project_id: 1, format: csv}\n", "unknown project type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJobFile([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadJobFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleJobFile), 0o644))

	jf, err := LoadJobFile(path)
	require.NoError(t, err)
	assert.Len(t, jf.Jobs, 2)

	_, err = LoadJobFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read job file")
}
