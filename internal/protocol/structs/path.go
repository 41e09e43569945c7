package structs

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/danmuck/edgeipc/internal/protocol"
)

// checkPath rejects parent-directory components and any path that resolves through a symlink.
func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty schema path", protocol.ErrInvalidArgument)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("%w: schema path %q has a parent component", protocol.ErrInvalidArgument, path)
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidArgument, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return err
	}
	if resolved != filepath.Clean(abs) {
		return fmt.Errorf("%w: schema path %q resolves through a symlink", protocol.ErrInvalidArgument, path)
	}
	return nil
}
