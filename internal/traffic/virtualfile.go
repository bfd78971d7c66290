package traffic

import "io"

// VirtualFile is a reader that fabricates Size bytes on demand without
// holding them in memory
type VirtualFile struct {
	size int64
	off  int64
}

// NewVirtualFile creates a VirtualFile of the given size
func NewVirtualFile(size int64) *VirtualFile {
	if size < 0 {
		size = 0
	}
	return &VirtualFile{size: size}
}

// Size returns the total length of the file
func (v *VirtualFile) Size() int64 {
	return v.size
}

func (v *VirtualFile) Read(p []byte) (int, error) {
	if v.off >= v.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if remaining := v.size - v.off; n > remaining {
		n = remaining
	}
	for i := int64(0); i < n; i++ {
		p[i] = byte((v.off + i) % 251)
	}
	v.off += n
	return int(n), nil
}
