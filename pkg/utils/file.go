package utils

import "os"

// FileExistsNonEmpty reports whether path exists, is a regular file and has
// at least one byte of content.
func FileExistsNonEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}
