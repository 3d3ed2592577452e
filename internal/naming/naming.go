// Package naming derives output filenames for batch items from the
// user-selected naming configuration. Format is pure and total: every input
// yields a filename, invalid configuration fields fall back to defaults.
package naming

import (
	"path"
	"strconv"
	"strings"

	"github.com/jewelshot/engine/internal/domain"
)

// Naming patterns accepted in a NamingConfig.
const (
	PatternOriginalNumber = "original_number"
	PatternNumberOriginal = "number_original"
	PatternBatchNumber    = "batch_number"
	PatternCustom         = "custom"
)

// DefaultExtension is applied when the original filename has none.
const DefaultExtension = ".jpg"

var allowedSeparators = map[string]bool{"_": true, "-": true, ".": true}

// Format maps (original filename, zero-based index, config) to a
// deterministic output filename. The numbered part is StartNumber+index.
func Format(original string, index int, cfg domain.NamingConfig) string {
	base, ext := splitName(original)

	sep := cfg.Separator
	if !allowedSeparators[sep] {
		sep = "_"
	}

	start := cfg.StartNumber
	if start < 1 {
		start = 1
	}
	num := strconv.Itoa(start + index)

	var name string
	switch cfg.Pattern {
	case PatternNumberOriginal:
		name = num + sep + base
	case PatternBatchNumber:
		name = "batch" + sep + num
	case PatternCustom:
		lead := strings.TrimSpace(cfg.Prefix)
		if lead == "" {
			lead = base
		}
		name = lead + sep + num
		if suffix := strings.TrimSpace(cfg.Suffix); suffix != "" {
			name += sep + suffix
		}
	default:
		// original_number, and the fallback for unknown patterns.
		name = base + sep + num
	}

	return name + ext
}

// splitName separates base name and extension, substituting defaults for
// empty parts so the formatter never produces an empty filename.
func splitName(filename string) (base, ext string) {
	filename = strings.TrimSpace(filename)
	ext = path.Ext(filename)
	base = strings.TrimSuffix(filename, ext)
	if base == "" {
		base = "image"
	}
	if ext == "" {
		ext = DefaultExtension
	}
	return base, ext
}
