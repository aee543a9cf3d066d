package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File is a parsed machine configuration file.
type File struct {
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// Load reads and parses a configuration file.
// [include path] directives pull in other files relative to the including
// file; glob patterns are allowed.
func Load(path string) (*File, error) {
	f := &File{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
	visited := make(map[string]bool)
	if err := f.parseFile(path, visited); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadString parses configuration data from a string. Used by tests.
func LoadString(data string) (*File, error) {
	f := &File{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
	if err := f.parse(strings.NewReader(data), "", nil); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) parseFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	fh, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer fh.Close()

	return f.parse(fh, filepath.Dir(abs), visited)
}

// parse reads sections and options. dir is the base for includes; a nil
// visited map disables include handling (string input).
func (f *File) parse(r io.Reader, dir string, visited map[string]bool) error {
	var section string
	var options map[string]string

	flush := func() {
		if section != "" {
			f.addSection(section, options)
		}
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			if line = strings.TrimSpace(line[:idx]); line == "" {
				continue
			}
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d", lineNum)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if visited == nil {
					return fmt.Errorf("config: include not supported here (line %d)", lineNum)
				}
				if err := f.include(dir, strings.TrimSpace(spec), visited); err != nil {
					return err
				}
				section = ""
				options = nil
				continue
			}
			section = header
			options = make(map[string]string)
			continue
		}

		if section == "" {
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			key, value, ok = strings.Cut(line, "=")
		}
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			options[key] = strings.TrimSpace(value)
		}
	}
	flush()

	return scanner.Err()
}

func (f *File) include(dir, spec string, visited map[string]bool) error {
	if spec == "" {
		return fmt.Errorf("config: empty include")
	}
	glob := filepath.Join(dir, spec)
	matches, err := filepath.Glob(glob)
	if err != nil {
		return fmt.Errorf("config: invalid include pattern %q: %w", spec, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
		return fmt.Errorf("config: include file does not exist: %s", glob)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := f.parseFile(m, visited); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) addSection(name string, options map[string]string) {
	if existing, ok := f.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	f.sections[name] = newSection(name, options)
	f.order = append(f.order, name)
}

// Section returns the named section, or an error if absent.
func (f *File) Section(name string) (*Section, error) {
	sec, ok := f.sections[name]
	if !ok {
		return nil, errMissingSection(name)
	}
	f.accessed[name] = struct{}{}
	return sec, nil
}

// SectionOptional returns the named section, or nil if absent.
func (f *File) SectionOptional(name string) *Section {
	sec, ok := f.sections[name]
	if ok {
		f.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection reports whether the named section exists.
func (f *File) HasSection(name string) bool {
	_, ok := f.sections[name]
	return ok
}

// PrefixSections returns all sections whose name starts with prefix,
// in file order.
func (f *File) PrefixSections(prefix string) []*Section {
	var result []*Section
	for _, name := range f.order {
		if strings.HasPrefix(name, prefix) {
			f.accessed[name] = struct{}{}
			result = append(result, f.sections[name])
		}
	}
	return result
}

// CheckUnused returns a fatal error if the file holds sections or options
// that were never read. This catches typos before the daemon starts.
func (f *File) CheckUnused() error {
	var problems []string
	for _, name := range f.order {
		if _, ok := f.accessed[name]; !ok {
			problems = append(problems, fmt.Sprintf("unknown section [%s]", name))
			continue
		}
		if unused := f.sections[name].UnusedOptions(); len(unused) > 0 {
			sort.Strings(unused)
			problems = append(problems, fmt.Sprintf("[%s]: unknown options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		return &Error{Message: strings.Join(problems, "; ")}
	}
	return nil
}
