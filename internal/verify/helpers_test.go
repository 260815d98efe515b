package verify

import (
	"fmt"
	"os/exec"
)

func errNotFound() error {
	return fmt.Errorf("start: %w", exec.ErrNotFound)
}
