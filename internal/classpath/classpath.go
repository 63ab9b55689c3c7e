// Package classpath loads class files from files, directories and jars and
// answers method lookups and hierarchy queries over them.
package classpath

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"jdeobf/internal/classfile"
	"jdeobf/internal/insn"
	"jdeobf/internal/vm"
)

// Classpath is a set of loaded classes keyed by internal name.
type Classpath struct {
	logger *log.Logger

	mu      sync.Mutex
	classes map[string]*classfile.Class

	// hierarchy indexes, rebuilt after classes change
	ancestors   map[string][]string
	descendants map[string][]string
}

// Option configures a Classpath.
type Option func(*Classpath)

// WithLogger sets the logger used to report skipped entries.
func WithLogger(l *log.Logger) Option {
	return func(cp *Classpath) {
		cp.logger = l
	}
}

// New returns an empty classpath.
func New(opts ...Option) *Classpath {
	cp := &Classpath{
		logger:  log.New(io.Discard),
		classes: make(map[string]*classfile.Class),
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// Load builds a classpath from the given .class files, .jar archives and
// directories.
func Load(paths []string, opts ...Option) (*Classpath, error) {
	cp := New(opts...)
	for _, p := range paths {
		if err := cp.LoadPath(p); err != nil {
			return nil, err
		}
	}
	return cp, nil
}

// Add registers a parsed class, replacing any class of the same name.
func (cp *Classpath) Add(c *classfile.Class) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.classes[c.Name] = c
	cp.ancestors, cp.descendants = nil, nil
}

// AddBytes parses and registers one class file. source names it in errors.
func (cp *Classpath) AddBytes(source string, data []byte) error {
	c, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	cp.Add(c)
	return nil
}

// LoadPath loads a .class file, a .jar or .zip archive, or every class file
// below a directory.
func (cp *Classpath) LoadPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return cp.loadDir(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip":
		return cp.loadJar(path)
	case ".class":
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return cp.AddBytes(path, data)
	}
	return fmt.Errorf("%s: not a class file, jar or directory", path)
}

func (cp *Classpath) loadDir(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return cp.AddBytes(path, data)
	})
}

// loadJar parses the archive's class entries concurrently. Entries that fail
// to parse are logged and skipped; obfuscated jars routinely carry junk
// entries named like classes.
func (cp *Classpath) loadJar(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".class") {
			continue
		}
		g.Go(func() error {
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("%s!%s: %w", path, f.Name, err)
			}
			data, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("%s!%s: %w", path, f.Name, err)
			}
			if err := cp.AddBytes(path+"!"+f.Name, data); err != nil {
				cp.logger.Warn("skipping class", "entry", f.Name, "err", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Len returns the number of loaded classes.
func (cp *Classpath) Len() int {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.classes)
}

// Class returns a loaded class.
func (cp *Classpath) Class(name string) (*classfile.Class, bool) {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c, ok := cp.classes[name]
	return c, ok
}

// Classes returns the loaded classes sorted by name.
func (cp *Classpath) Classes() []*classfile.Class {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	out := make([]*classfile.Class, 0, len(cp.classes))
	for _, c := range cp.classes {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *classfile.Class) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// HasClass reports whether name is loaded.
func (cp *Classpath) HasClass(name string) bool {
	_, ok := cp.Class(name)
	return ok
}

// LookupMethod returns the method declared by owner itself.
func (cp *Classpath) LookupMethod(owner, name, desc string) (*insn.Method, bool) {
	c, ok := cp.Class(owner)
	if !ok {
		return nil, false
	}
	m := c.Method(name, desc)
	return m, m != nil
}

// StaticFields lists the static fields declared by class.
func (cp *Classpath) StaticFields(class string) []vm.FieldInfo {
	c, ok := cp.Class(class)
	if !ok {
		return nil
	}
	var out []vm.FieldInfo
	for _, f := range c.Fields {
		if f.IsStatic() {
			out = append(out, vm.FieldInfo{Name: f.Name, Desc: f.Desc, Constant: f.Constant})
		}
	}
	return out
}

// Ancestors returns the superclasses and interfaces of class, nearest first.
// Names outside the classpath are included but not expanded.
func (cp *Classpath) Ancestors(class string) []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.index()
	return cp.ancestors[class]
}

// Descendants returns the loaded classes that extend or implement class,
// sorted by name.
func (cp *Classpath) Descendants(class string) []string {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	cp.index()
	return cp.descendants[class]
}

// index computes the transitive closure once per change of the class set.
func (cp *Classpath) index() {
	if cp.ancestors != nil {
		return
	}
	cp.ancestors = make(map[string][]string, len(cp.classes))
	cp.descendants = make(map[string][]string)
	for name := range cp.classes {
		seen := map[string]bool{name: true}
		var out []string
		queue := cp.direct(name)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, cp.direct(next)...)
		}
		cp.ancestors[name] = out
		for _, a := range out {
			cp.descendants[a] = append(cp.descendants[a], name)
		}
	}
	for _, d := range cp.descendants {
		slices.Sort(d)
	}
}

func (cp *Classpath) direct(name string) []string {
	c, ok := cp.classes[name]
	if !ok {
		return nil
	}
	var out []string
	if c.Super != "" {
		out = append(out, c.Super)
	}
	return append(out, c.Interfaces...)
}

var _ vm.ClassSource = (*Classpath)(nil)
