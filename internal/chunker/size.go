package chunker

import "github.com/docker/go-units"

// FormatSize renders a byte count in binary units, e.g. "45MiB".
func FormatSize(bytes int64) string {
	return units.BytesSize(float64(bytes))
}
