package modelregistry

import (
	"log/slog"
	"strings"
)

// SelectPrecision returns the precision a model file should be loaded with.
//
// Only an exact (case-insensitive) registry hit may select a non-default precision.
// Precision-looking tokens in arbitrary filenames (fp8, fp16, nf4, ...) are not
// trusted, and GGUF containers or lite/enterprise variants always load with the
// default. The function never fails.
func SelectPrecision(registry *Registry, filename string) Precision {
	display, key := normalizeFilename(filename)
	if key == "" {
		return PrecisionDefault
	}

	if registry != nil {
		if m, ok := registry.modelsByID[key]; ok {
			if m.RecommendedPrecision == "" {
				return PrecisionDefault
			}
			return m.RecommendedPrecision
		}
	}

	if isPackedOrVariant(key) {
		slog.Debug("packed or variant model, using default precision", "model", display)
		return PrecisionDefault
	}
	return PrecisionDefault
}

func isPackedOrVariant(key string) bool {
	if strings.HasSuffix(key, ".gguf") {
		return true
	}
	for _, marker := range []string{"-lite", "_lite", ".lite", "enterprise"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// IsGGUF reports whether a model file is a GGUF container, which needs the GGUF
// loader node instead of the stock UNet loader.
func IsGGUF(filename string) bool {
	_, key := normalizeFilename(filename)
	return strings.HasSuffix(key, ".gguf")
}
