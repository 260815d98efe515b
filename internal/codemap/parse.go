// Package codemap extracts symbols from source files and builds a ranked,
// read-only overview of a repository for the executor.
package codemap

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Lang is a source language codemap understands.
type Lang string

const (
	LangGo         Lang = "go"
	LangPython     Lang = "python"
	LangJavaScript Lang = "js"
	LangTypeScript Lang = "ts"
)

var extLangs = map[string]Lang{
	".go":  LangGo,
	".py":  LangPython,
	".js":  LangJavaScript,
	".jsx": LangJavaScript,
	".mjs": LangJavaScript,
	".ts":  LangTypeScript,
	".tsx": LangTypeScript,
}

// LangOf returns the language of a file by extension, or "".
func LangOf(name string) Lang {
	return extLangs[strings.ToLower(path.Ext(name))]
}

// Symbol kinds.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindType     = "type"
	KindClass    = "class"
)

// Symbol is one top-level definition or a method of one.
type Symbol struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Parent    string `json:"parent,omitempty"`
	Path      string `json:"path"`
	Line      int    `json:"line"`
	EndLine   int    `json:"end_line"`
	Signature string `json:"signature"`
	Doc       string `json:"doc,omitempty"`
}

// QualifiedName includes the parent, e.g. Cache.Lookup.
func (s Symbol) QualifiedName() string {
	if s.Parent != "" {
		return s.Parent + "." + s.Name
	}
	return s.Name
}

// File is the parse result of one source file.
type File struct {
	Path    string
	Lang    Lang
	Symbols []Symbol
	Imports []string
	Err     error // set when the file did not parse; Symbols may be partial
}

// Parse extracts symbols and imports from content. path is repo-relative
// and slash separated.
func Parse(path string, content []byte) File {
	f := File{Path: path, Lang: LangOf(path)}
	switch f.Lang {
	case LangGo:
		parseGo(&f, content)
	case LangPython:
		parsePython(&f, content)
	case LangJavaScript, LangTypeScript:
		parseScript(&f, content)
	}
	return f
}

func parseGo(f *File, content []byte) {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, f.Path, content, parser.ParseComments|parser.SkipObjectResolution)
	if err != nil {
		f.Err = err
		if node == nil {
			return
		}
	}
	for _, imp := range node.Imports {
		if p, err := strconv.Unquote(imp.Path.Value); err == nil {
			f.Imports = append(f.Imports, p)
		}
	}
	for _, decl := range node.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			head := d.End()
			if d.Body != nil {
				head = d.Body.Lbrace
			}
			sym := Symbol{
				Name:      d.Name.Name,
				Kind:      KindFunction,
				Path:      f.Path,
				Line:      fset.Position(d.Pos()).Line,
				EndLine:   fset.Position(d.End()).Line,
				Signature: source(fset, content, d.Pos(), head),
				Doc:       docText(d.Doc),
			}
			if d.Recv != nil && len(d.Recv.List) > 0 {
				sym.Kind = KindMethod
				sym.Parent = recvName(d.Recv.List[0].Type)
			}
			f.Symbols = append(f.Symbols, sym)
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				doc := ts.Doc
				if doc == nil {
					doc = d.Doc
				}
				f.Symbols = append(f.Symbols, Symbol{
					Name:      ts.Name.Name,
					Kind:      KindType,
					Path:      f.Path,
					Line:      fset.Position(ts.Pos()).Line,
					EndLine:   fset.Position(ts.End()).Line,
					Signature: "type " + ts.Name.Name + " " + typeHead(fset, content, ts.Type),
					Doc:       docText(doc),
				})
			}
		}
	}
}

func recvName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return recvName(t.X)
	case *ast.IndexExpr:
		return recvName(t.X)
	case *ast.IndexListExpr:
		return recvName(t.X)
	default:
		return "?"
	}
}

func docText(g *ast.CommentGroup) string {
	if g == nil {
		return ""
	}
	text := strings.TrimSpace(g.Text())
	if first, _, ok := strings.Cut(text, "\n"); ok {
		return first
	}
	return text
}

// source returns the text between two positions with whitespace collapsed.
func source(fset *token.FileSet, content []byte, from, to token.Pos) string {
	a, b := fset.Position(from).Offset, fset.Position(to).Offset
	if a < 0 || b > len(content) || a >= b {
		return ""
	}
	return strings.Join(strings.Fields(string(content[a:b])), " ")
}

func typeHead(fset *token.FileSet, content []byte, t ast.Expr) string {
	switch t.(type) {
	case *ast.StructType:
		return "struct"
	case *ast.InterfaceType:
		return "interface"
	default:
		return source(fset, content, t.Pos(), t.End())
	}
}

var (
	pyDef    = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*(\(.*)`)
	pyClass  = regexp.MustCompile(`^class\s+(\w+)\s*(\(.*?\))?\s*:`)
	pyImport = regexp.MustCompile(`^(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
)

// parsePython is line based: top-level defs and classes, and defs one
// level into a class as methods. A top-level symbol ends where the next
// one starts.
func parsePython(f *File, content []byte) {
	lines := strings.Split(string(content), "\n")
	open, class := -1, ""
	closeAt := func(end int) {
		if open >= 0 {
			f.Symbols[open].EndLine = max(end, f.Symbols[open].Line)
		}
	}
	for i, line := range lines {
		n := i + 1
		if m := pyImport.FindStringSubmatch(line); m != nil {
			f.Imports = append(f.Imports, m[1]+m[2])
			continue
		}
		if m := pyClass.FindStringSubmatch(line); m != nil {
			closeAt(n - 1)
			class = m[1]
			f.Symbols = append(f.Symbols, Symbol{
				Name: m[1], Kind: KindClass, Path: f.Path, Line: n,
				Signature: "class " + m[1] + m[2], Doc: pyDoc(lines, i),
			})
			open = len(f.Symbols) - 1
			continue
		}
		m := pyDef.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sym := Symbol{
			Name: m[2], Kind: KindFunction, Path: f.Path, Line: n, EndLine: n,
			Signature: "def " + m[2] + strings.TrimSuffix(strings.TrimSpace(m[3]), ":"),
			Doc:       pyDoc(lines, i),
		}
		switch {
		case m[1] == "":
			closeAt(n - 1)
			class = ""
			f.Symbols = append(f.Symbols, sym)
			open = len(f.Symbols) - 1
		case class != "":
			sym.Kind = KindMethod
			sym.Parent = class
			f.Symbols = append(f.Symbols, sym)
		}
	}
	closeAt(len(lines))
}

// pyDoc returns the first line of a docstring directly under line i.
func pyDoc(lines []string, i int) string {
	if i+1 >= len(lines) {
		return ""
	}
	s := strings.TrimSpace(lines[i+1])
	for _, q := range []string{`"""`, `'''`} {
		if strings.HasPrefix(s, q) {
			s = strings.TrimPrefix(s, q)
			s, _, _ = strings.Cut(s, q)
			return strings.TrimSpace(s)
		}
	}
	return ""
}

var (
	jsFunc   = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*(\([^)]*\))`)
	jsClass  = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`)
	jsArrow  = regexp.MustCompile(`^(?:export\s+)?(?:const|let)\s+(\w+)\s*(?::[^=]+)?=\s*(?:async\s+)?(\([^)]*\)|\w+)\s*=>`)
	jsType   = regexp.MustCompile(`^(?:export\s+)?(?:interface|type)\s+(\w+)`)
	jsImport = regexp.MustCompile(`(?:from\s+|require\()\s*['"]([^'"]+)['"]`)
)

func parseScript(f *File, content []byte) {
	lines := strings.Split(string(content), "\n")
	for i, line := range lines {
		n := i + 1
		if m := jsImport.FindStringSubmatch(line); m != nil && (strings.HasPrefix(line, "import") || strings.Contains(line, "require(")) {
			f.Imports = append(f.Imports, m[1])
			continue
		}
		var sym *Symbol
		switch {
		case jsFunc.MatchString(line):
			m := jsFunc.FindStringSubmatch(line)
			sym = &Symbol{Name: m[1], Kind: KindFunction, Signature: fmt.Sprintf("function %s%s", m[1], m[2])}
		case jsClass.MatchString(line):
			m := jsClass.FindStringSubmatch(line)
			sym = &Symbol{Name: m[1], Kind: KindClass, Signature: "class " + m[1]}
		case jsArrow.MatchString(line):
			m := jsArrow.FindStringSubmatch(line)
			sym = &Symbol{Name: m[1], Kind: KindFunction, Signature: fmt.Sprintf("const %s = %s =>", m[1], m[2])}
		case jsType.MatchString(line):
			m := jsType.FindStringSubmatch(line)
			sym = &Symbol{Name: m[1], Kind: KindType, Signature: strings.TrimSuffix(strings.TrimSpace(line), "{")}
		}
		if sym == nil {
			continue
		}
		sym.Path, sym.Line, sym.EndLine = f.Path, n, n
		sym.Signature = strings.TrimSpace(sym.Signature)
		f.Symbols = append(f.Symbols, *sym)
	}
}
