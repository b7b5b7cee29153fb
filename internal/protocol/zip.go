package protocol

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// BuildZip packs the given id → payload map into a store-only zip (payloads
// are already compressed or encrypted, deflating them again buys nothing).
func BuildZip(records map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	for id, payload := range records {
		f, err := w.CreateHeader(&zip.FileHeader{Name: id, Method: zip.Store})
		if err != nil {
			return nil, fmt.Errorf("zip entry %s: %w", id, err)
		}
		if _, err := f.Write(payload); err != nil {
			return nil, fmt.Errorf("zip write %s: %w", id, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zip close: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadZip unpacks a zip produced by BuildZip.
func ReadZip(data []byte) (map[string][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	records := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("zip open %s: %w", f.Name, err)
		}
		payload, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip read %s: %w", f.Name, err)
		}
		records[f.Name] = payload
	}
	return records, nil
}
