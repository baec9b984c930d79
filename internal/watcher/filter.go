package watcher

import (
	"embed"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/blacklist.yaml
var blacklistFS embed.FS

// Filter limits: defaults per the monitoring policy.
const (
	DefaultMaxDepth    = 20
	DefaultPerDirCap   = 10000
	DefaultMaxFileSize = 500 << 20 // 500 MB
)

type blacklistFile struct {
	Directories []string `yaml:"directories"`
	Files       []string `yaml:"files"`
}

// Filter decides which directories and files are monitored. Whitelist
// entries override the blacklist; symlinks are never followed.
type Filter struct {
	dirPatterns  []string
	filePatterns []string
	whitelist    []string // path prefixes that bypass the blacklist
	MaxDepth     int
	PerDirCap    int
	MaxFileSize  int64
}

// NewFilter loads the embedded blacklist and applies extra user-configured
// exclude patterns and whitelist prefixes.
func NewFilter(extraExcludes, whitelist []string) (*Filter, error) {
	raw, err := blacklistFS.ReadFile("data/blacklist.yaml")
	if err != nil {
		return nil, fmt.Errorf("read blacklist: %w", err)
	}
	var bl blacklistFile
	if err := yaml.Unmarshal(raw, &bl); err != nil {
		return nil, fmt.Errorf("parse blacklist: %w", err)
	}
	f := &Filter{
		dirPatterns:  bl.Directories,
		filePatterns: bl.Files,
		MaxDepth:     DefaultMaxDepth,
		PerDirCap:    DefaultPerDirCap,
		MaxFileSize:  DefaultMaxFileSize,
	}
	f.filePatterns = append(f.filePatterns, extraExcludes...)
	for _, w := range whitelist {
		f.whitelist = append(f.whitelist, filepath.Clean(w))
	}
	return f, nil
}

// whitelisted reports whether path sits under a whitelist prefix.
func (f *Filter) whitelisted(path string) bool {
	clean := filepath.Clean(path)
	for _, w := range f.whitelist {
		if clean == w || strings.HasPrefix(clean, w+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (f *Filter) ancestorOfWhitelist(path string) bool {
	clean := filepath.Clean(path)
	for _, w := range f.whitelist {
		if strings.HasPrefix(w, clean+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// SkipDir reports whether a directory is excluded from the walk, and the
// reason. depth is the directory's depth relative to its root.
func (f *Filter) SkipDir(path string, depth int) (bool, string) {
	if depth > f.MaxDepth {
		return true, "max depth exceeded"
	}
	// A blacklisted directory with a whitelisted subtree must still be
	// walked so the subtree is reached.
	if f.whitelisted(path) || f.ancestorOfWhitelist(path) {
		return false, ""
	}
	// Match every component: a directory inside a blacklisted ancestor
	// is reached when that ancestor shelters a whitelist subtree, and
	// must still be excluded itself.
	parts := strings.Split(filepath.Clean(path), string(filepath.Separator))
	for _, pat := range f.dirPatterns {
		for _, part := range parts {
			if ok, _ := filepath.Match(pat, part); ok {
				return true, "blacklisted directory"
			}
		}
	}
	return false, ""
}

// AllowFile reports whether a file is monitored.
func (f *Filter) AllowFile(path string, size int64) bool {
	if size > f.MaxFileSize {
		return false
	}
	if f.whitelisted(path) {
		return true
	}
	base := filepath.Base(path)
	for _, pat := range f.filePatterns {
		if ok, _ := filepath.Match(pat, base); ok {
			return false
		}
	}
	// A blacklisted ancestor directory excludes the file too.
	dir := filepath.Dir(path)
	for _, pat := range f.dirPatterns {
		for _, part := range strings.Split(dir, string(filepath.Separator)) {
			if ok, _ := filepath.Match(pat, part); ok {
				return false
			}
		}
	}
	return true
}
