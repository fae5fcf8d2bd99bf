package lockstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePackageNameAcceptsValidNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"my-skill", "audit_tool", "Skill123", "a"} {
		assert.NoError(t, ValidatePackageName(name), name)
	}
}

func TestValidatePackageNameRejectsTraversal(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"../../../etc", "..", ".", "foo/bar", "", "name with spaces"} {
		assert.Error(t, ValidatePackageName(name), name)
	}
}

func TestPackageDirRejectsTraversalInName(t *testing.T) {
	t.Parallel()
	_, err := PackageDir("/store", "../../../etc", "aabbccdd")
	assert.ErrorContains(t, err, "invalid package name")
}

func TestPackageDirRejectsTraversalInCommit(t *testing.T) {
	t.Parallel()
	_, err := PackageDir("/store", "safe-name", "../../foo")
	assert.ErrorContains(t, err, "hex characters")
}

func TestPackageDirAcceptsLocalCommitKey(t *testing.T) {
	t.Parallel()
	dir, err := PackageDir("/store", "my-skill", "local")
	assert.NoError(t, err)
	assert.Equal(t, "/store/my-skill/local", dir)
}
