package tree

import (
	"regexp"
	"strings"
)

// FilterConfig controls the static pruning pass
type FilterConfig struct {
	MaxFileSize     int64 // fallback ceiling for files without a per-extension limit
	IncludeDotFiles bool
	IncludeTests    bool
}

// DefaultFilterConfig matches the behavior most repositories want:
// dotfiles out, tests in, 1MiB ceiling
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxFileSize:     1024 * 1024,
		IncludeDotFiles: false,
		IncludeTests:    true,
	}
}

// textFileSizeLimits caps text formats that balloon without carrying
// much meaning per byte
var textFileSizeLimits = map[string]int64{
	"json": 100 * 1024,
	"xml":  100 * 1024,
	"sql":  500 * 1024,
	"txt":  100 * 1024,
	"csv":  500 * 1024,
	"yml":  50 * 1024,
	"yaml": 50 * 1024,
}

var binaryExtensions = map[string]struct{}{
	// Images
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "ico": {}, "svg": {},
	"webp": {}, "bmp": {}, "tiff": {},
	// Audio
	"mp3": {}, "wav": {}, "ogg": {}, "flac": {}, "m4a": {},
	// Video
	"mp4": {}, "avi": {}, "mov": {}, "wmv": {}, "flv": {}, "webm": {},
	// Documents
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
	// Archives
	"zip": {}, "rar": {}, "tar": {}, "gz": {}, "7z": {},
	// Fonts
	"ttf": {}, "otf": {}, "eot": {}, "woff": {}, "woff2": {},
	// Databases
	"db": {}, "sqlite": {}, "sqlite3": {},
	// Executables
	"exe": {}, "dll": {}, "so": {}, "dylib": {}, "bin": {}, "dat": {},
}

var skipDirectories = map[string]struct{}{
	// Package managers
	"node_modules": {}, "vendor": {}, "bower_components": {},
	// Build outputs
	"dist": {}, "build": {}, "target": {}, "out": {}, "output": {}, "bin": {}, "obj": {},
	// Cache and temp
	"coverage": {}, "__pycache__": {}, ".pytest_cache": {}, ".sass-cache": {},
	// Framework specific
	".next": {}, ".nuxt": {}, ".gradle": {},
	// Version control
	".git": {}, ".svn": {}, ".hg": {},
	// Environment
	"venv": {}, "env": {}, ".env": {},
}

var skipFiles = map[string]struct{}{
	// Lock files
	"package-lock.json": {}, "yarn.lock": {}, "pnpm-lock.yaml": {},
	"composer.lock": {}, "Gemfile.lock": {}, "poetry.lock": {},
	// System files
	".DS_Store": {}, "thumbs.db": {}, ".gitkeep": {},
	// Tool config
	".npmrc": {}, ".yarnrc": {}, ".eslintcache": {},
	// Environment files
	".env": {}, ".env.local": {}, ".env.development": {}, ".env.test": {}, ".env.production": {},
}

var (
	timestampPattern     = regexp.MustCompile(`\.timestamp-[\d-]+`)
	configVariantPattern = regexp.MustCompile(`\.(dev|prod|staging|test)\.[^.]+$`)
	configBasePattern    = regexp.MustCompile(`\.(config|conf)\.[^.]+$`)
	testFilePattern      = regexp.MustCompile(`\.(spec|test|e2e)\.[^.]+$`)
)

var testDirNames = map[string]struct{}{
	"test": {}, "tests": {}, "__tests__": {},
	"spec": {}, "specs": {}, "__specs__": {}, "e2e": {},
}

func extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

func baseName(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// exceedsSizeLimit applies the per-extension ceilings, falling back to
// the configured maximum
func exceedsSizeLimit(path string, size, maxFileSize int64) bool {
	ext := extension(path)
	if ext == "" {
		return size > maxFileSize
	}
	if limit, ok := textFileSizeLimits[ext]; ok {
		return size > limit
	}
	return size > maxFileSize
}

// isTimestampVariant catches build-generated files like
// vite.config.ts.timestamp-1234 and duplicated config variants like
// app.config.dev.ts
func isTimestampVariant(path string) bool {
	if timestampPattern.MatchString(path) {
		return true
	}
	base := configVariantPattern.ReplaceAllString(path, "")
	return base != path && configBasePattern.MatchString(base)
}

// Prefilter statically removes entries that carry no semantic value:
// build artifacts, binaries, lockfiles, oversized data files, minified
// output. Folders left without any surviving file are dropped too.
func Prefilter(entries []Entry, cfg FilterConfig) []Entry {
	validFiles := make(map[string]struct{})
	filtered := make([]Entry, 0, len(entries))

	for _, entry := range entries {
		if isTimestampVariant(entry.Path) {
			continue
		}

		if entry.Type == EntryFolder {
			if hasSkippedSegment(entry.Path) {
				continue
			}
			filtered = append(filtered, entry)
			continue
		}

		// For files only directory segments count; a file named like a
		// skip directory is fine.
		if idx := strings.LastIndex(entry.Path, "/"); idx > 0 && hasSkippedSegment(entry.Path[:idx]) {
			continue
		}

		if cfg.MaxFileSize > 0 && entry.Size > 0 && exceedsSizeLimit(entry.Path, entry.Size, cfg.MaxFileSize) {
			continue
		}

		if !cfg.IncludeDotFiles && hasHiddenSegment(entry.Path) {
			continue
		}

		if !cfg.IncludeTests && isTestPath(entry.Path) {
			continue
		}

		name := baseName(entry.Path)
		if _, skip := skipFiles[name]; skip {
			continue
		}
		if _, binary := binaryExtensions[extension(name)]; binary {
			continue
		}
		if strings.Contains(name, ".min.") {
			continue
		}
		if strings.HasSuffix(name, ".map") {
			continue
		}
		if strings.Contains(entry.Path, "/migrations/") &&
			(strings.HasSuffix(entry.Path, ".sql") || strings.HasSuffix(entry.Path, ".migration")) {
			continue
		}

		validFiles[entry.Path] = struct{}{}
		filtered = append(filtered, entry)
	}

	// Second pass drops folders with no surviving descendant file
	result := make([]Entry, 0, len(filtered))
	for _, entry := range filtered {
		if entry.Type == EntryFolder && !hasValidDescendant(entry.Path, validFiles) {
			continue
		}
		result = append(result, entry)
	}
	return result
}

// hasSkippedSegment reports whether any segment of the path names a
// skip-listed directory
func hasSkippedSegment(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if _, skip := skipDirectories[part]; skip {
			return true
		}
	}
	return false
}

func hasHiddenSegment(path string) bool {
	for _, part := range strings.Split(path, "/") {
		if strings.HasPrefix(part, ".") && part != ".github" {
			return true
		}
	}
	return false
}

func isTestPath(path string) bool {
	if testFilePattern.MatchString(path) {
		return true
	}
	for _, part := range strings.Split(path, "/") {
		if _, ok := testDirNames[part]; ok {
			return true
		}
	}
	return false
}

func hasValidDescendant(dirPath string, validFiles map[string]struct{}) bool {
	prefix := dirPath + "/"
	for file := range validFiles {
		if strings.HasPrefix(file, prefix) {
			return true
		}
	}
	return false
}
