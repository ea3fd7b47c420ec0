package export

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ArchiveFormatVersion is written to every manifest. Bump on breaking layout changes.
const ArchiveFormatVersion = 2

const manifestName = "manifest.yaml"

// Result is the outcome of one table exporter
type Result struct {
	Table string
	Data  Table
	Err   error
}

// Bundle is the set of per-table CSV extracts for one project export
type Bundle struct {
	ProjectID  string
	ExportedAt time.Time
	Results    []Result
}

// Tables maps table name to CSV for every table that exported successfully
func (b *Bundle) Tables() map[string]string {
	out := make(map[string]string, len(b.Results))
	for _, r := range b.Results {
		if r.Err == nil {
			out[r.Table] = r.Data.CSV
		}
	}
	return out
}

// Failures maps table name to error for every table that failed
func (b *Bundle) Failures() map[string]error {
	out := map[string]error{}
	for _, r := range b.Results {
		if r.Err != nil {
			out[r.Table] = r.Err
		}
	}
	return out
}

// Err joins every table failure, or returns nil when all tables exported
func (b *Bundle) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errors.Join(errs...)
}

// Manifest describes an archived bundle
type Manifest struct {
	Version    int               `yaml:"version"`
	ProjectID  string            `yaml:"project_id"`
	ExportedAt time.Time         `yaml:"exported_at"`
	NullMarker string            `yaml:"null_marker"`
	Tables     []ManifestTable   `yaml:"tables"`
	Failures   []ManifestFailure `yaml:"failures,omitempty"`
}

// ManifestTable is one archived table file
type ManifestTable struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Rows int    `yaml:"rows"`
}

// ManifestFailure records a table that could not be exported
type ManifestFailure struct {
	Table string `yaml:"table"`
	Error string `yaml:"error"`
}

// WriteArchive writes the bundle as a zip of <table>.csv files plus manifest.yaml.
// Failed tables are listed in the manifest and have no file.
func (b *Bundle) WriteArchive(w io.Writer) error {
	zw := zip.NewWriter(w)

	manifest := Manifest{
		Version:    ArchiveFormatVersion,
		ProjectID:  b.ProjectID,
		ExportedAt: b.ExportedAt,
		NullMarker: NullMarker,
	}

	for _, r := range b.Results {
		if r.Err != nil {
			manifest.Failures = append(manifest.Failures, ManifestFailure{Table: r.Table, Error: r.Err.Error()})
			continue
		}

		file := r.Table + ".csv"
		f, err := zw.Create(file)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", file, err)
		}
		if _, err := io.WriteString(f, r.Data.CSV); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		manifest.Tables = append(manifest.Tables, ManifestTable{Name: r.Table, File: file, Rows: r.Data.Rows})
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	f, err := zw.Create(manifestName)
	if err != nil {
		return fmt.Errorf("failed to add manifest: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return zw.Close()
}

// Archive is a bundle read back from a zip
type Archive struct {
	Manifest Manifest
	Tables   map[string]string
}

// ReadArchive parses an archive written by WriteArchive
func ReadArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	mf, ok := files[manifestName]
	if !ok {
		return nil, fmt.Errorf("archive has no %s", manifestName)
	}
	raw, err := readZipFile(mf)
	if err != nil {
		return nil, err
	}

	archive := &Archive{Tables: map[string]string{}}
	if err := yaml.Unmarshal(raw, &archive.Manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if archive.Manifest.Version != ArchiveFormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", archive.Manifest.Version)
	}
	if archive.Manifest.NullMarker != NullMarker {
		return nil, fmt.Errorf("unsupported null marker %q", archive.Manifest.NullMarker)
	}

	for _, t := range archive.Manifest.Tables {
		if t.File != path.Base(t.File) || !strings.HasSuffix(t.File, ".csv") {
			return nil, fmt.Errorf("invalid table file name %q", t.File)
		}
		f, ok := files[t.File]
		if !ok {
			return nil, fmt.Errorf("archive is missing %s", t.File)
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, err
		}
		archive.Tables[t.Name] = string(content)
	}

	return archive, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}
