package pathmap

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Normalize rewrites a user supplied path to forward slashes and an upper
// case drive letter ("e:\\a\\b" -> "E:/a/b").
func Normalize(p string) string {
	if p == "" {
		return p
	}
	p = strings.ReplaceAll(p, `\`, "/")
	if len(p) >= 2 && p[1] == ':' && p[0] >= 'a' && p[0] <= 'z' {
		p = strings.ToUpper(p[:1]) + p[1:]
	}
	return path.Clean(p)
}

// Expand turns the given paths into a list of files. Directories are walked
// recursively and contribute their files in lexical order. Paths that do not
// exist come back as skips, paths that exist but cannot be read come back as
// failures. Duplicates are dropped, first occurrence wins.
func Expand(fs afero.Fs, paths []string) ([]string, []*SkipError, []*LocalError) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var (
		files  []string
		skips  []*SkipError
		failed []*LocalError
		seen   = make(map[string]struct{})
	)
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}

	for _, p := range paths {
		info, err := fs.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				skips = append(skips, &SkipError{Path: p, Reason: ReasonNotFound})
			} else {
				failed = append(failed, &LocalError{Path: p, Err: err})
			}
			continue
		}

		if !info.IsDir() {
			add(p)
			continue
		}

		var found []string
		err = afero.Walk(fs, p, func(walked string, fi os.FileInfo, err error) error {
			if err != nil {
				// unreadable entries fail alone, the rest of the tree still uploads
				failed = append(failed, &LocalError{Path: filepath.ToSlash(walked), Err: err})
				return nil
			}
			if !fi.IsDir() {
				found = append(found, filepath.ToSlash(walked))
			}
			return nil
		})
		if err != nil {
			failed = append(failed, &LocalError{Path: p, Err: err})
		}
		sort.Strings(found)
		for _, f := range found {
			add(f)
		}
	}

	return files, skips, failed
}
