//go:build !unix

package download

// freeSpace is not implemented on this platform; the check is skipped.
func freeSpace(string) (uint64, bool, error) {
	return 0, false, nil
}

func isRootLevel(error) bool {
	return false
}
