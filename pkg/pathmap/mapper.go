package pathmap

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"sshpublish/pkg/config"
)

// compiledExtensions maps a source extension to the extension its build
// output carries. Extensions not listed are kept as is.
var compiledExtensions = map[string]string{
	".ts":   ".js",
	".tsx":  ".js",
	".vue":  ".vue.js",
	".scss": ".css",
	".less": ".css",
	".sass": ".css",
}

// Resolved is the outcome of mapping one local file.
type Resolved struct {
	// SourcePath is the local path as it was handed in.
	SourcePath string
	// ContentPath is the file whose bytes are uploaded.
	ContentPath string
	// Base is the local root ContentPath is relative to when fanning out.
	Base string
	// Compiled is set when ContentPath lives under the compiled root.
	Compiled bool
}

type Mapper struct {
	fs    afero.Fs
	globs globCache
}

// NewMapper returns a Mapper that checks compiled outputs on fs. A nil fs
// means the OS filesystem.
func NewMapper(fs afero.Fs) *Mapper {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Mapper{fs: fs}
}

// Resolve maps localPath to the file that should actually be read. A
// *SkipError is returned when the file has to be left out of the batch.
func (m *Mapper) Resolve(localPath string, cfg *config.SyncConfig) (Resolved, error) {
	res := Resolved{SourcePath: localPath, ContentPath: localPath, Base: cfg.LocalBasePath}

	compiledRoot := cfg.CompiledRoot()
	if compiledRoot == "" {
		return res, nil
	}

	// already a build output, e.g. picked from the dist folder directly
	if _, ok := relativeTo(compiledRoot, localPath); ok {
		res.Base = compiledRoot
		res.Compiled = true
		return res, nil
	}

	rel, ok := relativeTo(cfg.LocalBasePath, localPath)

	// whitelisted files are never rebuilt, they go out from source
	if m.globs.matchAny(cfg.DirectUploadFiles, localPath, filepath.ToSlash(rel)) {
		return res, nil
	}

	if !ok {
		return res, &SkipError{Path: localPath, Reason: ReasonOutsideBase}
	}

	target := CompiledName(filepath.Join(compiledRoot, rel))
	exists, err := afero.Exists(m.fs, target)
	if err != nil {
		return res, &LocalError{Path: target, Err: err}
	}
	if !exists {
		return res, &SkipError{Path: localPath, Reason: fmt.Sprintf("%s: %s", ReasonCompiledMissing, target)}
	}

	res.ContentPath = target
	res.Base = compiledRoot
	res.Compiled = true
	return res, nil
}

// CompiledName swaps the leaf extension of p for its build-output extension.
// The directory part is left alone.
func CompiledName(p string) string {
	ext := filepath.Ext(p)
	mapped, ok := compiledExtensions[ext]
	if !ok {
		return p
	}
	return strings.TrimSuffix(p, ext) + mapped
}

// relativeTo returns p relative to base when p is strictly below base.
func relativeTo(base, p string) (string, bool) {
	if base == "" {
		return "", false
	}
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
