// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package frame

import (
	"os"

	// Formats accepted from cameras beyond the stdlib decoders imaging registers.
	_ "golang.org/x/image/webp"
)

func openFile(path string) (*os.File, error) {
	return os.Open(path) // #nosec G304 -- path is a tracked artifact inside the upload root
}
