package pathmap

import (
	"path"
	"path/filepath"
	"strings"
)

// Fanout returns, in remoteDirPaths order, the remote file each directory
// receives for resolvedPath. The result is empty when resolvedPath is not
// below base.
func Fanout(resolvedPath, base string, remoteDirPaths []string) []string {
	rel, ok := relativeTo(base, resolvedPath)
	if !ok {
		return nil
	}
	rel = strings.ReplaceAll(filepath.ToSlash(rel), `\`, "/")

	targets := make([]string, 0, len(remoteDirPaths))
	for _, dir := range remoteDirPaths {
		targets = append(targets, path.Join(dir, rel))
	}
	return targets
}
