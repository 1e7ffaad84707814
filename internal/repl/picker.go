package repl

import (
	"io/fs"
	"os"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/spetersoncode/hanabi/config"
)

// Directories never offered by the file picker.
var skipDirs = []string{".git", "node_modules"}

// listFiles returns the files under dir, slash-separated and relative to
// dir, minus those matching an exclude pattern and configuration files.
func listFiles(dir string, exclude []string) ([]string, error) {
	patterns := append([]string{"**/" + config.FileName}, exclude...)
	excluded := func(p string) bool {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true
			}
		}
		return false
	}

	var files []string
	// "**" and not "**/*": only then does SkipDir prune a directory.
	err := doublestar.GlobWalk(os.DirFS(dir), "**", func(p string, d fs.DirEntry) error {
		if d.IsDir() {
			if slices.Contains(skipDirs, d.Name()) || excluded(p) {
				return doublestar.SkipDir
			}
			return nil
		}
		if !excluded(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// filter keeps the choices matching term, a regular expression. A term that
// does not compile is matched literally.
func filter(choices []string, term string) []string {
	term = strings.TrimSpace(term)
	if term == "" {
		return choices
	}
	re, err := regexp.Compile("(?i)" + term)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(term))
	}
	var out []string
	for _, c := range choices {
		if re.MatchString(c) {
			out = append(out, c)
		}
	}
	return out
}

// pick resolves a picker answer: comma-separated 1-based numbers or names.
// With globs, tokens containing glob syntax select every matching choice.
// Tokens that select nothing are returned as unknown.
func pick(answer string, choices []string, globs bool) (picked, unknown []string) {
	add := func(c string) {
		if !slices.Contains(picked, c) {
			picked = append(picked, c)
		}
	}
	for _, tok := range strings.Split(answer, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n >= 1 && n <= len(choices) {
				add(choices[n-1])
				continue
			}
			unknown = append(unknown, tok)
			continue
		}
		if slices.Contains(choices, tok) {
			add(tok)
			continue
		}
		matched := false
		if globs && strings.ContainsAny(tok, "*?[{") {
			for _, c := range choices {
				if ok, _ := doublestar.Match(path.Clean(tok), c); ok {
					add(c)
					matched = true
				}
			}
		}
		if !matched {
			unknown = append(unknown, tok)
		}
	}
	return picked, unknown
}
