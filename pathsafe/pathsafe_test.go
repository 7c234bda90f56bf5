package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExpandBothSyntaxes(t *testing.T) {
	t.Setenv("TRIAGE_TEST_DIR", "/var/log")

	for _, template := range []string{
		"%TRIAGE_TEST_DIR%/messages",
		"$TRIAGE_TEST_DIR/messages",
		"${TRIAGE_TEST_DIR}/messages",
	} {
		expanded, err := Expand(template)
		assert.NoError(t, err, template)
		assert.Equal(t, "/var/log/messages", expanded)
	}
}

func TestExpandIsIdempotent(t *testing.T) {
	t.Setenv("TRIAGE_VALUE", "plain-value")

	once, err := Expand("$TRIAGE_VALUE/x")
	assert.NoError(t, err)

	twice, err := Expand(once)
	assert.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestExpandUnknownVariable(t *testing.T) {
	_, err := Expand("$DOES_NOT_EXIST_FOR_SURE/logs")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))

	_, err = Expand("%ALSO_DOES_NOT_EXIST%")
	assert.True(t, errors.Is(err, ErrUnresolvableVariable))
}

func TestValidateRejectsEscape(t *testing.T) {
	root := t.TempDir()

	inside := filepath.Join(root, "sub", "file")
	err := os.MkdirAll(filepath.Dir(inside), 0700)
	assert.NoError(t, err)
	err = os.WriteFile(inside, []byte("x"), 0600)
	assert.NoError(t, err)

	canonical, err := Validate(inside, root)
	assert.NoError(t, err)
	assert.Contains(t, canonical, "sub")

	_, err = Validate(filepath.Join(root, "..", "escape"), root)
	assert.True(t, errors.Is(err, ErrInvalidPath))
}

func TestValidateResolvesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "link")
	err := os.Symlink(outside, link)
	if err != nil {
		t.Skip("symlinks not supported here")
	}

	_, err = Validate(filepath.Join(link, "x"), root)
	assert.Error(t, err)
}

func TestValidateDestination(t *testing.T) {
	assert.NoError(t, ValidateDestination("fs/var/log/syslog"))
	assert.Error(t, ValidateDestination("/absolute/path"))
	assert.Error(t, ValidateDestination("C:/windows/system32"))
	assert.Error(t, ValidateDestination("fs/../../etc/passwd"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "a_2Fb", SanitizeName("a/b"))
	assert.Equal(t, "a_5Cb", SanitizeName(`a\b`))
	assert.Equal(t, "drive_3AC", SanitizeName("drive:C"))
	assert.Equal(t, "_CON", SanitizeName("CON"))
	assert.Equal(t, "_con.txt", SanitizeName("con.txt"))
	assert.Equal(t, "name", SanitizeName("name. "))
	assert.Equal(t, "_", SanitizeName(""))
}

func TestSanitizeNameIdempotent(t *testing.T) {
	inputs := []string{
		"normal.log",
		"a/b\\c:d",
		"CON",
		"trailing. ",
		string([]byte{0x01, 0x02}) + "x",
	}

	for _, input := range inputs {
		once := SanitizeName(input)
		assert.Equal(t, once, SanitizeName(once), "input %q", input)
	}
}

func TestSanitizeNameCapsLength(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "a"
	}
	result := SanitizeName(long)
	assert.Equal(t, 255, len([]rune(result)))
}
