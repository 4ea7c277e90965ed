package conformance

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed testdata/*.yaml
var builtin embed.FS

// LoadedTest represents a test with its source file path
type LoadedTest struct {
	File  string
	Suite TestSuite
	Test  TestCase
}

// LoadAllTests loads the suites shipped with the package.
func LoadAllTests() ([]LoadedTest, error) {
	sub, err := fs.Sub(builtin, "testdata")
	if err != nil {
		return nil, err
	}
	return LoadFS(sub)
}

// LoadFS loads every .yaml file in fsys, in path order.
func LoadFS(fsys fs.FS) ([]LoadedTest, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && path.Ext(p) == ".yaml" {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var loaded []LoadedTest
	for _, file := range files {
		tests, err := loadTestFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		loaded = append(loaded, tests...)
	}
	return loaded, nil
}

// loadTestFile parses a single YAML file and returns all test cases
func loadTestFile(fsys fs.FS, file string) ([]LoadedTest, error) {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, err
	}

	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, err
	}

	tests := make([]LoadedTest, 0, len(suite.Tests))
	for _, test := range suite.Tests {
		if test.Name == "" {
			return nil, fmt.Errorf("suite %q has a test without a name", suite.Name)
		}
		tests = append(tests, LoadedTest{
			File:  file,
			Suite: suite,
			Test:  test,
		})
	}
	return tests, nil
}
