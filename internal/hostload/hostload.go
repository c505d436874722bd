// Package hostload is the host-side file I/O the pure kernel never
// performs itself: reading a constitution document and its optional
// .sha256 sidecar off disk and handing the bytes to
// pkg/rsak/constitution.Load.
package hostload

import (
	"fmt"
	"os"
	"strings"

	"github.com/axionic/rsak/pkg/rsak/constitution"
)

// LoadConstitutionFile reads path and its sibling path+".sha256" (if
// present) and returns the loaded, hash-verified constitution.
func LoadConstitutionFile(path string) (*constitution.Constitution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("hostload: read constitution: %w", err)
	}

	sidecarPath := path + ".sha256"
	sidecar := ""
	if sc, err := os.ReadFile(sidecarPath); err == nil {
		sidecar = strings.TrimSpace(string(sc))
	}

	return constitution.Load(raw, sidecar)
}
