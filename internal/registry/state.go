package registry

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/TheGojiOG/steamserv/internal/errs"
	"github.com/TheGojiOG/steamserv/internal/models"
)

const stateVersion = 1

type stateFile struct {
	Version int                   `yaml:"version"`
	Servers []models.ServerRecord `yaml:"servers"`
}

// readState parses the state file. A missing file is an empty registry.
func readState(path string) (map[string]models.ServerRecord, os.FileInfo, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]models.ServerRecord{}, nil, nil
	}
	if err != nil {
		return nil, nil, errs.E(errs.FilesystemError, "registry.load", "", fmt.Errorf("failed to open state file: %w", err))
	}
	defer file.Close()

	// Stat the open descriptor so the stamp describes the bytes we read,
	// not a file renamed over the path afterwards.
	info, err := file.Stat()
	if err != nil {
		return nil, nil, errs.E(errs.FilesystemError, "registry.load", "", fmt.Errorf("failed to stat state file: %w", err))
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, nil, errs.E(errs.FilesystemError, "registry.load", "", fmt.Errorf("failed to read state file: %w", err))
	}

	records, err := decodeState(data)
	if err != nil {
		return nil, nil, errs.E(errs.CorruptState, "registry.load", "", fmt.Errorf("%s: %w", path, err))
	}
	return records, info, nil
}

func decodeState(data []byte) (map[string]models.ServerRecord, error) {
	var state stateFile
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	if state.Version > stateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported version %d", state.Version, stateVersion)
	}

	records := make(map[string]models.ServerRecord, len(state.Servers))
	for i, rec := range state.Servers {
		if rec.Name == "" {
			return nil, fmt.Errorf("server #%d has no name", i+1)
		}
		if !rec.Status.Valid() || rec.Status == models.StatusUninstalled {
			return nil, fmt.Errorf("server %s has invalid status %q", rec.Name, rec.Status)
		}
		if _, dup := records[rec.Name]; dup {
			return nil, fmt.Errorf("server %s appears twice", rec.Name)
		}
		records[rec.Name] = rec
	}
	return records, nil
}

// writeState persists records atomically: temp file, fsync, rename.
func writeState(path string, records map[string]models.ServerRecord) (os.FileInfo, error) {
	state := stateFile{
		Version: stateVersion,
		Servers: sortedRecords(records),
	}

	data, err := yaml.Marshal(&state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to replace state file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	return os.Stat(path)
}

func sortedRecords(records map[string]models.ServerRecord) []models.ServerRecord {
	out := make([]models.ServerRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func copyRecords(records map[string]models.ServerRecord) map[string]models.ServerRecord {
	out := make(map[string]models.ServerRecord, len(records))
	for name, rec := range records {
		out[name] = rec.Clone()
	}
	return out
}

// sameFile reports whether the state file is unchanged since prev was taken.
func sameFile(prev, cur os.FileInfo) bool {
	if prev == nil || cur == nil {
		return prev == nil && cur == nil
	}
	return os.SameFile(prev, cur) && prev.ModTime().Equal(cur.ModTime()) && prev.Size() == cur.Size()
}
