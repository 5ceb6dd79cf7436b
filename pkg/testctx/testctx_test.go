package testctx_test

import (
	"testing"

	"github.com/ethpandaops/testoor/pkg/testctx"
	"github.com/stretchr/testify/assert"
)

func TestRelativePath(t *testing.T) {
	tests := []struct {
		name     string
		rootDir  string
		testPath string
		want     string
	}{
		{
			name:     "rooted path",
			rootDir:  "/repo",
			testPath: "/repo/src/a.test.js",
			want:     "src/a.test.js",
		},
		{
			name:     "root with trailing slash",
			rootDir:  "/repo/",
			testPath: "/repo/a.test.js",
			want:     "a.test.js",
		},
		{
			name:     "windows separators",
			rootDir:  `C:\work\repo`,
			testPath: `C:\work\repo\src\a.test.js`,
			want:     "src/a.test.js",
		},
		{
			name:     "mixed separators",
			rootDir:  `C:/work/repo`,
			testPath: `C:\work\repo\a.test.js`,
			want:     "a.test.js",
		},
		{
			name:     "outside root is normalized only",
			rootDir:  "/repo",
			testPath: `/other\a.test.js`,
			want:     "/other/a.test.js",
		},
		{
			name:     "sibling with shared prefix is not stripped",
			rootDir:  "/repo",
			testPath: "/repo-two/a.test.js",
			want:     "/repo-two/a.test.js",
		},
		{
			name:     "empty root",
			rootDir:  "",
			testPath: "/a.test.js",
			want:     "a.test.js",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, testctx.RelativePath(tt.rootDir, tt.testPath))
		})
	}
}

func TestProjectID(t *testing.T) {
	p := testctx.Project{Name: "web", RootDir: "/repo"}

	assert.Equal(t, "web", testctx.ProjectID(p))
	assert.Equal(t, "src/a.test.js", testctx.TestName(p, "/repo/src/a.test.js"))
}

func TestTest_Name(t *testing.T) {
	tt := testctx.Test{
		Path:    `C:\work\repo\spec\b.test.js`,
		Project: testctx.Project{Name: "web", RootDir: `C:\work\repo`},
	}

	assert.Equal(t, "spec/b.test.js", tt.Name())
}
