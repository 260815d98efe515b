package codemap

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Entry is one file of a repository map.
type Entry struct {
	Path    string
	Symbols []Symbol
	// Score counts the imports that resolve to this file from other files.
	Score float64
}

// Map is a ranked overview of a repository: the most imported files
// first, each with the signatures it defines.
type Map struct {
	Entries   []Entry
	Files     int
	Symbols   int
	Truncated bool // the walk stopped at MaxFiles
}

// Map builds the repository map from the last Refresh. Entries under
// prefix are kept when prefix is not empty.
func (x *Index) Map(prefix string) Map {
	files := x.Files()
	x.mu.Lock()
	truncated := x.truncated
	x.mu.Unlock()

	prefix = strings.Trim(path.Clean("/"+prefix), "/")
	scores := references(files)
	m := Map{Truncated: truncated}
	for _, f := range files {
		if prefix != "" && f.Path != prefix && !strings.HasPrefix(f.Path, prefix+"/") {
			continue
		}
		m.Entries = append(m.Entries, Entry{Path: f.Path, Symbols: f.Symbols, Score: scores[f.Path]})
		m.Files++
		m.Symbols += len(f.Symbols)
	}
	sort.SliceStable(m.Entries, func(i, j int) bool {
		return m.Entries[i].Score > m.Entries[j].Score
	})
	return m
}

// references counts, per file, the imports of other files that resolve to it.
func references(files []File) map[string]float64 {
	byDir := make(map[string][]string)
	byStem := make(map[string]string)
	for _, f := range files {
		dir := path.Dir(f.Path)
		byDir[dir] = append(byDir[dir], f.Path)
		byStem[strings.TrimSuffix(f.Path, path.Ext(f.Path))] = f.Path
	}

	scores := make(map[string]float64)
	for _, f := range files {
		for _, imp := range f.Imports {
			for _, target := range resolve(f, imp, byDir, byStem) {
				if target != f.Path {
					scores[target]++
				}
			}
		}
	}
	return scores
}

func resolve(f File, imp string, byDir map[string][]string, byStem map[string]string) []string {
	switch f.Lang {
	case LangGo:
		// A Go import names a package directory by module path. The
		// longest matching directory wins.
		best := ""
		for dir := range byDir {
			if dir != "." && len(dir) > len(best) && (imp == dir || strings.HasSuffix(imp, "/"+dir)) {
				best = dir
			}
		}
		if best != "" {
			return byDir[best]
		}
	case LangPython:
		mod := strings.ReplaceAll(strings.TrimLeft(imp, "."), ".", "/")
		for _, stem := range []string{mod, mod + "/__init__"} {
			if p, ok := byStem[stem]; ok {
				return []string{p}
			}
		}
		for stem, p := range byStem {
			if strings.HasSuffix(stem, "/"+mod) {
				return []string{p}
			}
		}
	case LangJavaScript, LangTypeScript:
		if !strings.HasPrefix(imp, ".") {
			return nil
		}
		target := path.Join(path.Dir(f.Path), imp)
		target = strings.TrimSuffix(target, path.Ext(target))
		for _, stem := range []string{target, target + "/index"} {
			if p, ok := byStem[stem]; ok {
				return []string{p}
			}
		}
	}
	return nil
}

// Render prints the map within roughly maxTokens tokens, at four
// characters per token.
func (m Map) Render(maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	budget := maxTokens * 4
	var b strings.Builder
	b.WriteString("Repository Map\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	for i, e := range m.Entries {
		header := "\n" + e.Path + "\n"
		if b.Len()+len(header) > budget {
			fmt.Fprintf(&b, "\n... and %d more files\n", len(m.Entries)-i)
			break
		}
		b.WriteString(header)
		for _, s := range e.Symbols {
			line := "  " + s.Signature + "\n"
			if s.Kind == KindMethod {
				line = "  " + line
			}
			if b.Len()+len(line) > budget {
				b.WriteString("  ...\n")
				break
			}
			b.WriteString(line)
		}
	}

	fmt.Fprintf(&b, "\n(%d files, %d symbols", m.Files, m.Symbols)
	if m.Truncated {
		b.WriteString(", walk truncated")
	}
	b.WriteString(")")
	return b.String()
}
