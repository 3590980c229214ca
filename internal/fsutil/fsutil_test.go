package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestReadFileScoped(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "memo.txt", []byte("shipment delayed"))

	data, err := ReadFileScoped(filepath.Join(dir, "memo.txt"))
	require.NoError(t, err)
	assert.Equal(t, "shipment delayed", string(data))

	_, err = ReadFileScoped(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)

	_, err = ReadFileScoped(string(filepath.Separator))
	assert.Error(t, err)
}

func TestCollectText(t *testing.T) {
	root := t.TempDir()
	write(t, root, "emails/2024-03-01.eml", []byte("From: plant manager"))
	write(t, root, "contract.md", []byte("# Supply contract"))
	write(t, root, "notes/CALL.TXT", []byte("call log"))
	write(t, root, "photo.jpg", []byte{0xff, 0xd8})
	write(t, root, ".git/config", []byte("[core]"))
	write(t, root, ".hidden.txt", []byte("secret"))
	write(t, root, "big.txt", make([]byte, 64))
	write(t, root, "binary.txt", []byte{0xff, 0xfe, 0x00})

	files, skipped, err := CollectText(root, nil, 32)
	require.NoError(t, err)

	var rels []string
	for _, f := range files {
		rels = append(rels, f.Rel)
	}
	assert.Equal(t, []string{"contract.md", "emails/2024-03-01.eml", "notes/CALL.TXT"}, rels)
	assert.Equal(t, "# Supply contract", files[0].Content)

	reasons := map[string]string{}
	for _, s := range skipped {
		reasons[s.Rel] = s.Reason
	}
	assert.Equal(t, "larger than 32 bytes", reasons["big.txt"])
	assert.Equal(t, "not UTF-8 text", reasons["binary.txt"])
}

func TestCollectText_CustomExtensions(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", []byte("a"))
	write(t, root, "b.log", []byte("b"))

	files, _, err := CollectText(root, []string{"log"}, 0)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.log", files[0].Rel)
}

func TestCollectText_MissingRoot(t *testing.T) {
	_, _, err := CollectText(filepath.Join(t.TempDir(), "nope"), nil, 0)
	assert.Error(t, err)
}
