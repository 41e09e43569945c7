//go:build !unix

package structs

import (
	"fmt"
	"os"

	"github.com/danmuck/edgeipc/internal/protocol"
)

func readImage(path string) (*fileImage, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	st, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("stat schema %s: %w", path, err)
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: schema %s is not a regular file", protocol.ErrInvalidArgument, path)
	}
	if st.Size() < HeaderSize || st.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: schema %s is %d bytes", protocol.ErrProtocol, path, st.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return decodeImage(path, data)
}
