package rxd

func iovLen(iov [][]byte) int {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	return n
}

// copyToIOV scatters src into iov starting at logical offset off.
// Bytes beyond the end of iov are dropped, the number of bytes stored is returned.
func copyToIOV(iov [][]byte, off int, src []byte) int {
	n := 0
	for _, b := range iov {
		if len(src) == 0 {
			break
		}
		if off >= len(b) {
			off -= len(b)
			continue
		}
		c := copy(b[off:], src)
		src = src[c:]
		n += c
		off = 0
	}
	return n
}

// copyFromIOV gathers from iov starting at logical offset off into dst and returns the number of bytes copied
func copyFromIOV(dst []byte, iov [][]byte, off int) int {
	n := 0
	for _, b := range iov {
		if len(dst) == 0 {
			break
		}
		if off >= len(b) {
			off -= len(b)
			continue
		}
		c := copy(dst, b[off:])
		dst = dst[c:]
		n += c
		off = 0
	}
	return n
}
