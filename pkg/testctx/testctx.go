// Package testctx derives stable test identities from the host's execution
// metadata.
package testctx

import "strings"

// Project identifies a configured test project.
type Project struct {
	// Name is the project's configured logical name. It is opaque and may
	// collide across root directories.
	Name string `json:"name" mapstructure:"name"`

	// RootDir is the absolute path identifying the project instance.
	RootDir string `json:"root_dir" mapstructure:"root_dir"`
}

// ProjectID returns the logical identifier for a project.
func ProjectID(p Project) string {
	return p.Name
}

// RelativePath returns testPath relative to rootDir with forward slashes.
// Paths outside rootDir are returned normalized but otherwise unchanged.
func RelativePath(rootDir, testPath string) string {
	root := slash(rootDir)
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}

	testPath = slash(testPath)

	if rel, ok := strings.CutPrefix(testPath, root); ok {
		return rel
	}

	return testPath
}

// TestName returns the history key for a test file within a project.
func TestName(p Project, testPath string) string {
	return RelativePath(p.RootDir, testPath)
}

func slash(path string) string {
	return strings.ReplaceAll(path, `\`, "/")
}

// Test is one test file of a project, as reported by the host driver.
type Test struct {
	Path    string  `json:"path" mapstructure:"path"`
	Project Project `json:"project" mapstructure:"project"`
}

// Name returns the project-relative history key of the test.
func (t Test) Name() string {
	return TestName(t.Project, t.Path)
}
