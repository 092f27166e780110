package rewrite

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"text/template/parse"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schaermu/cachebust/internal/config"
)

// GeneratedHeader marks files written by Generator
const GeneratedHeader = "// Code generated by cachebust; DO NOT EDIT."

const (
	goFunc       = "Asset"
	templateFunc = "asset"
)

// Reference is an asset path found in a scanned file
type Reference struct {
	Asset string
	File  string // slash separated, relative to the scan root
	Line  int
}

// Generator scans a project for asset references and writes a Go lookup
// table mapping each logical path to its hashed path.
type Generator struct {
	rewriter *Rewriter
	cfg      config.GenerateConfig
}

// NewGenerator creates a generator for the given settings
func NewGenerator(rewriter *Rewriter, cfg config.GenerateConfig) *Generator {
	return &Generator{rewriter: rewriter, cfg: cfg}
}

// Scan returns every asset reference in files matching the configured
// patterns, ordered by file and line. The generated output file is skipped.
func (g *Generator) Scan() ([]Reference, error) {
	files, err := g.matchFiles()
	if err != nil {
		return nil, err
	}

	var refs []Reference
	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(g.cfg.Root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", rel, err)
		}

		var found []Reference
		if strings.HasSuffix(rel, ".go") {
			found, err = scanGo(rel, data)
		} else {
			found, err = scanTemplate(rel, data)
		}
		if err != nil {
			return nil, err
		}
		refs = append(refs, found...)
	}

	return refs, nil
}

// scanGo finds Asset("path") and pkg.Asset("path") calls with a string
// literal argument. Comments and other strings are ignored.
func scanGo(rel string, data []byte) ([]Reference, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, rel, data, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", rel, err)
	}

	var refs []Reference
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || len(call.Args) != 1 || !isAssetFunc(call.Fun) {
			return true
		}
		lit, ok := call.Args[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		asset, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		refs = append(refs, Reference{Asset: asset, File: rel, Line: fset.Position(lit.Pos()).Line})
		return true
	})
	return refs, nil
}

func isAssetFunc(fun ast.Expr) bool {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name == goFunc
	case *ast.SelectorExpr:
		return f.Sel.Name == goFunc
	}
	return false
}

// scanTemplate finds {{ asset "path" }} commands in a text or html template,
// including ones inside blocks and defined templates.
func scanTemplate(rel string, data []byte) ([]Reference, error) {
	tree := parse.New(rel)
	tree.Mode = parse.SkipFuncCheck
	trees := make(map[string]*parse.Tree)
	if _, err := tree.Parse(string(data), "", "", trees); err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", rel, err)
	}
	if _, ok := trees[tree.Name]; !ok && tree.Root != nil {
		trees[tree.Name] = tree
	}

	names := make([]string, 0, len(trees))
	for name := range trees {
		names = append(names, name)
	}
	sort.Strings(names)

	var refs []Reference
	for _, name := range names {
		walkTemplate(trees[name].Root, func(cmd *parse.CommandNode) {
			if len(cmd.Args) != 2 {
				return
			}
			ident, ok := cmd.Args[0].(*parse.IdentifierNode)
			if !ok || ident.Ident != templateFunc {
				return
			}
			str, ok := cmd.Args[1].(*parse.StringNode)
			if !ok {
				return
			}
			refs = append(refs, Reference{
				Asset: str.Text,
				File:  rel,
				Line:  bytes.Count(data[:str.Position()], []byte("\n")) + 1,
			})
		})
	}

	sort.SliceStable(refs, func(i, j int) bool { return refs[i].Line < refs[j].Line })
	return refs, nil
}

// walkTemplate calls fn for every command below node
func walkTemplate(node parse.Node, fn func(*parse.CommandNode)) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkTemplate(child, fn)
		}
	case *parse.ActionNode:
		walkTemplate(n.Pipe, fn)
	case *parse.TemplateNode:
		walkTemplate(n.Pipe, fn)
	case *parse.IfNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.RangeNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.WithNode:
		walkBranch(&n.BranchNode, fn)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			fn(cmd)
			for _, arg := range cmd.Args {
				walkTemplate(arg, fn)
			}
		}
	}
}

func walkBranch(b *parse.BranchNode, fn func(*parse.CommandNode)) {
	walkTemplate(b.Pipe, fn)
	walkTemplate(b.List, fn)
	walkTemplate(b.ElseList, fn)
}

// matchFiles returns the sorted, unique files matched by the patterns
func (g *Generator) matchFiles() ([]string, error) {
	output, err := filepath.Abs(g.cfg.Output)
	if err != nil {
		return nil, err
	}

	fsys := os.DirFS(g.cfg.Root)
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range g.cfg.Patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] {
				continue
			}
			seen[m] = true

			abs, err := filepath.Abs(filepath.Join(g.cfg.Root, filepath.FromSlash(m)))
			if err == nil && g.cfg.Output != "" && abs == output {
				continue
			}
			files = append(files, m)
		}
	}

	sort.Strings(files)
	return files, nil
}

// Generate scans the project, rewrites every referenced asset and writes the
// formatted Go source to w. Nothing is written if any reference fails.
func (g *Generator) Generate(w io.Writer) error {
	refs, err := g.Scan()
	if err != nil {
		return err
	}

	// Repeated references are answered by the rewriter's memo
	table := make(map[string]string)
	for _, ref := range refs {
		hashed, err := g.rewriter.Rewrite(ref.Asset)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", ref.File, ref.Line, err)
		}
		table[ref.Asset] = hashed
	}

	src, err := Render(g.cfg.Package, table)
	if err != nil {
		return err
	}

	_, err = w.Write(src)
	return err
}

// WriteFile generates the lookup table into the configured output file
func (g *Generator) WriteFile() error {
	var buf bytes.Buffer
	if err := g.Generate(&buf); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(g.cfg.Output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(g.cfg.Output, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", g.cfg.Output, err)
	}
	return nil
}

type entry struct {
	Asset string
	Path  string
}

var fileTemplate = template.Must(template.New("assets").Parse(`{{.Header}}

package {{.Package}}

var hashedAssets = map[string]string{
{{- range .Entries}}
	{{printf "%q" .Asset}}: {{printf "%q" .Path}},
{{- end}}
}

// Asset returns the content-hashed path for name. It panics if name was not
// referenced when this file was generated.
func Asset(name string) string {
	p, ok := hashedAssets[name]
	if !ok {
		panic("cachebust: unknown asset " + name)
	}
	return p
}

// Lookup returns the content-hashed path for name
func Lookup(name string) (string, bool) {
	p, ok := hashedAssets[name]
	return p, ok
}
`))

// Render returns the formatted Go source of a lookup table
func Render(pkg string, table map[string]string) ([]byte, error) {
	entries := make([]entry, 0, len(table))
	for asset, p := range table {
		entries = append(entries, entry{Asset: asset, Path: p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Asset < entries[j].Asset })

	var buf bytes.Buffer
	err := fileTemplate.Execute(&buf, struct {
		Header  string
		Package string
		Entries []entry
	}{GeneratedHeader, pkg, entries})
	if err != nil {
		return nil, fmt.Errorf("failed to render lookup table: %w", err)
	}

	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to format lookup table: %w", err)
	}
	return src, nil
}
