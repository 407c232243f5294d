package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/labelflow/internal/project"
	"github.com/JonMunkholm/labelflow/internal/record"
)

// JobFile is a YAML description of import and export jobs run by the CLI.
//
//	projects:            # only used with --dry-run
//	  - id: 1
//	    type: SequenceLabeling
//	    policy: {allow_overlapping: false}
//	    members: [{user_id: 7, username: alice}]
//	jobs:
//	  - kind: import
//	    project_id: 1
//	    user_id: 7
//	    format: conll
//	    files: [data/train.conll]
//	  - kind: export
//	    project_id: 1
//	    format: jsonl
type JobFile struct {
	Projects []ProjectSpec `yaml:"projects"`
	Jobs     []JobSpec     `yaml:"jobs"`
}

// ProjectSpec declares a project for runs against the in-memory store.
type ProjectSpec struct {
	ID      int64          `yaml:"id"`
	Name    string         `yaml:"name"`
	Type    project.Type   `yaml:"type"`
	Policy  project.Policy `yaml:"policy"`
	Members []MemberSpec   `yaml:"members"`
}

// MemberSpec declares a project member.
type MemberSpec struct {
	UserID   int64  `yaml:"user_id"`
	Username string `yaml:"username"`
}

// JobSpec is one import or export job.
type JobSpec struct {
	Kind      string `yaml:"kind"`
	ProjectID int64  `yaml:"project_id"`
	Format    string `yaml:"format"`

	// import
	UserID    int64           `yaml:"user_id"`
	Files     []string        `yaml:"files"`
	Encoding  string          `yaml:"encoding"`
	Delimiter string          `yaml:"delimiter"`
	Columns   *record.Columns `yaml:"columns"`

	// export
	ConfirmedOnly bool `yaml:"confirmed_only"`
}

// Project converts the spec to a project record.
func (p ProjectSpec) Project() project.Project {
	return project.Project{ID: p.ID, Name: p.Name, Type: p.Type, Policy: p.Policy}
}

// Member converts the spec to a project member.
func (m MemberSpec) Member() project.Member {
	return project.Member{UserID: m.UserID, Username: m.Username}
}

// LoadJobFile reads and validates a job file.
func LoadJobFile(path string) (*JobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}
	return ParseJobFile(data)
}

// ParseJobFile decodes a job file. Unknown keys are rejected.
func ParseJobFile(data []byte) (*JobFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jf JobFile
	if err := dec.Decode(&jf); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	if err := jf.Validate(); err != nil {
		return nil, err
	}
	return &jf, nil
}

// Validate reports every problem in the file at once.
func (jf *JobFile) Validate() error {
	var errs []error
	if len(jf.Jobs) == 0 {
		errs = append(errs, errors.New("no jobs defined"))
	}
	for i, p := range jf.Projects {
		if p.ID <= 0 {
			errs = append(errs, fmt.Errorf("projects[%d]: id must be positive", i))
		}
		if _, err := project.ParseType(string(p.Type)); err != nil {
			errs = append(errs, fmt.Errorf("projects[%d]: %w", i, err))
		}
	}
	for i, j := range jf.Jobs {
		prefix := fmt.Sprintf("jobs[%d]", i)
		if j.ProjectID <= 0 {
			errs = append(errs, fmt.Errorf("%s: project_id must be positive", prefix))
		}
		if strings.TrimSpace(j.Format) == "" {
			errs = append(errs, fmt.Errorf("%s: format is required", prefix))
		}
		switch j.Kind {
		case "import":
			if len(j.Files) == 0 {
				errs = append(errs, fmt.Errorf("%s: import needs at least one file", prefix))
			}
		case "export":
			if len(j.Files) > 0 {
				errs = append(errs, fmt.Errorf("%s: export jobs take no files", prefix))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: kind must be import or export, got %q", prefix, j.Kind))
		}
	}
	return errors.Join(errs...)
}
