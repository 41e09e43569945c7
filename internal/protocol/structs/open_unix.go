//go:build unix

package structs

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/danmuck/edgeipc/internal/protocol"
)

// readImage maps path read-write private so foreign-order records can be swapped in place
// without touching the file, decodes it, and drops the mapping.
func readImage(path string) (*fileImage, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open schema %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat schema %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return nil, fmt.Errorf("%w: schema %s is not a regular file", protocol.ErrInvalidArgument, path)
	}
	if st.Size < HeaderSize || st.Size > MaxFileSize {
		return nil, fmt.Errorf("%w: schema %s is %d bytes", protocol.ErrProtocol, path, st.Size)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap schema %s: %w", path, err)
	}
	defer unix.Munmap(data)
	return decodeImage(path, data)
}
