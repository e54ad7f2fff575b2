package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/uniguide/internal/reasoning"
)

const (
	defaultMaxFileBytes = 64 << 10
	defaultMaxFiles     = 50
)

// ErrOutsideRoot is returned for paths that leave the tool's directory.
var ErrOutsideRoot = errors.New("path is outside the readable directory")

// ReadFile reads one text file under a root directory.
type ReadFile struct {
	root     string
	maxBytes int64
}

var _ reasoning.Tool = (*ReadFile)(nil)

// NewReadFile returns a read_file tool confined to root. maxBytes <= 0
// uses 64KiB.
func NewReadFile(root string, maxBytes int64) *ReadFile {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &ReadFile{root: root, maxBytes: maxBytes}
}

func (r *ReadFile) Name() string { return "read_file" }

func (r *ReadFile) Description() string {
	return "Read a text file. Paths are relative to " + r.root + "."
}

func (r *ReadFile) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "path", Type: "string", Description: "relative file path", Required: true},
	}
}

func (r *ReadFile) Call(ctx context.Context, args map[string]any) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	root, err := os.OpenRoot(r.root)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", r.root, err)
	}
	defer root.Close()

	rel, err := relativePath(p)
	if err != nil {
		return "", err
	}
	text, truncated, err := readLimited(root.FS(), rel, r.maxBytes)
	if err != nil {
		return "", err
	}
	if truncated {
		text += "\n[...truncated...]"
	}
	return text, nil
}

// ReadDirectory lists the files under a root directory and returns their
// contents, for the reference documents workers consult.
type ReadDirectory struct {
	root     string
	maxFiles int
	maxBytes int64
}

var _ reasoning.Tool = (*ReadDirectory)(nil)

// NewReadDirectory returns a read_directory tool confined to root.
func NewReadDirectory(root string, maxFiles int, maxBytes int64) *ReadDirectory {
	if maxFiles <= 0 {
		maxFiles = defaultMaxFiles
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &ReadDirectory{root: root, maxFiles: maxFiles, maxBytes: maxBytes}
}

func (d *ReadDirectory) Name() string { return "read_directory" }

func (d *ReadDirectory) Description() string {
	return "List and read the documents in " + d.root + ". Optionally restrict to a subdirectory."
}

func (d *ReadDirectory) Parameters() []reasoning.Parameter {
	return []reasoning.Parameter{
		{Name: "subdir", Type: "string", Description: "relative subdirectory, default the whole directory"},
		{Name: "list_only", Type: "boolean", Description: "return file names without contents"},
	}
}

func (d *ReadDirectory) Call(ctx context.Context, args map[string]any) (string, error) {
	sub := "."
	if s, ok := args["subdir"].(string); ok && strings.TrimSpace(s) != "" {
		rel, err := relativePath(s)
		if err != nil {
			return "", err
		}
		sub = rel
	}

	root, err := os.OpenRoot(d.root)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", d.root, err)
	}
	defer root.Close()
	fsys := root.FS()
	ignored, err := loadIgnore(fsys)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", IgnoreFile, err)
	}

	var files []string
	err = fs.WalkDir(fsys, sub, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if e.IsDir() {
			if p != sub && (strings.HasPrefix(e.Name(), ".") || ignored.match(p, true)) {
				return fs.SkipDir
			}
			return nil
		}
		if ignored.match(p, false) {
			return nil
		}
		if !strings.HasPrefix(e.Name(), ".") && e.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", sub, err)
	}
	sort.Strings(files)

	if len(files) == 0 {
		return "No files found.", nil
	}
	var sb strings.Builder
	omitted := 0
	if len(files) > d.maxFiles {
		omitted = len(files) - d.maxFiles
		files = files[:d.maxFiles]
	}
	if boolArg(args, "list_only") {
		sb.WriteString(strings.Join(files, "\n"))
	} else {
		for _, f := range files {
			text, truncated, err := readLimited(fsys, f, d.maxBytes)
			if err != nil {
				fmt.Fprintf(&sb, "== %s ==\nerror: %v\n\n", f, err)
				continue
			}
			if truncated {
				text += "\n[...truncated...]"
			}
			fmt.Fprintf(&sb, "== %s ==\n%s\n\n", f, text)
		}
	}
	if omitted > 0 {
		fmt.Fprintf(&sb, "\n[%d more files not shown]", omitted)
	}
	return strings.TrimSpace(sb.String()), nil
}

// relativePath cleans p into a slash path that cannot climb out of the root.
func relativePath(p string) (string, error) {
	p = filepath.ToSlash(strings.TrimSpace(p))
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") || !fs.ValidPath(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return clean, nil
}

func readLimited(fsys fs.FS, name string, max int64) (string, bool, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return "", false, err
	}
	truncated := int64(len(data)) > max
	if truncated {
		data = data[:max]
		for len(data) > 0 && !utf8.Valid(data) {
			data = data[:len(data)-1]
		}
	}
	if !utf8.Valid(data) {
		return "", false, fmt.Errorf("%s is not a text file", name)
	}
	return string(data), truncated, nil
}
