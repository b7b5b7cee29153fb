package store

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// extractSidecar produces the PNG sidecar bytes for an image payload.
// PNG payloads pass through untouched; other decodable kinds are re-encoded.
// Kinds the image registry cannot decode (jxl) return an error and the
// record is stored without a sidecar.
func extractSidecar(typ string, raw []byte) ([]byte, error) {
	if typ == "image/png" {
		if _, err := png.Decode(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("invalid png payload: %w", err)
		}
		return raw, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	return buf.Bytes(), nil
}
