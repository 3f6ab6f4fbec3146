package agent

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
)

// SaveGob gob encodes v to the file at path. The file is written to a
// temporary file in the same directory first and then renamed, so path
// either holds the previous checkpoint or the new one.
func SaveGob(path string, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("savegob: could not encode checkpoint: %v", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("savegob: could not create directory: %v", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("savegob: could not create file: %v", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("savegob: could not write checkpoint: %v", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("savegob: could not close file: %v", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("savegob: could not move checkpoint: %v", err)
	}
	return nil
}

// LoadGob decodes the gob encoded file at path into v. If the file does
// not exist, the returned error wraps ErrCheckpointNotFound.
func LoadGob(path string, v interface{}) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("loadgob: %w: %v", ErrCheckpointNotFound, path)
	} else if err != nil {
		return fmt.Errorf("loadgob: could not open checkpoint: %v", err)
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("loadgob: could not decode checkpoint: %v", err)
	}
	return nil
}
