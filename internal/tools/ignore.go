package tools

import (
	"bufio"
	"errors"
	"io/fs"
	"path"
	"strings"
)

// IgnoreFile lists gitignore-style patterns read_directory skips.
const IgnoreFile = ".uniguideignore"

type ignorePattern struct {
	glob     string
	dirOnly  bool
	anchored bool // matched against the full relative path, not the base name
}

// ignoreRules is the parsed ignore file. Negation is not supported.
type ignoreRules []ignorePattern

// loadIgnore reads IgnoreFile from the root of fsys. A missing file yields
// no rules.
func loadIgnore(fsys fs.FS) (ignoreRules, error) {
	f, err := fsys.Open(IgnoreFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rules ignoreRules
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if p, ok := parseIgnoreLine(sc.Text()); ok {
			rules = append(rules, p)
		}
	}
	return rules, sc.Err()
}

func parseIgnoreLine(line string) (ignorePattern, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ignorePattern{}, false
	}
	var p ignorePattern
	if strings.HasSuffix(line, "/") {
		p.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") || strings.Contains(line, "/") {
		p.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	if line == "" {
		return ignorePattern{}, false
	}
	// Reject patterns path.Match cannot compile.
	if _, err := path.Match(line, ""); err != nil {
		return ignorePattern{}, false
	}
	p.glob = line
	return p, true
}

// match reports whether the slash path rel (relative to the root) is ignored.
func (r ignoreRules) match(rel string, isDir bool) bool {
	base := path.Base(rel)
	for _, p := range r {
		if p.dirOnly && !isDir {
			continue
		}
		target := base
		if p.anchored {
			target = rel
		}
		if ok, _ := path.Match(p.glob, target); ok {
			return true
		}
	}
	return false
}
