package checksum

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// md5("hello")
const helloMD5 = "5d41402abc4b2a76b9719d911017c592"

func TestFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0644))

	sum, err := File(p)
	require.NoError(t, err)
	assert.Equal(t, helloMD5, sum)

	_, err = File(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestEqualIgnoresCase(t *testing.T) {
	assert.True(t, Equal(helloMD5, strings.ToUpper(helloMD5)))
	assert.False(t, Equal(helloMD5, "00000000000000000000000000000000"))
}

func TestIsManifestName(t *testing.T) {
	names := []string{"md5sum.txt"}
	assert.True(t, IsManifestName("md5sum.txt", names))
	assert.True(t, IsManifestName("sub/MD5SUM.TXT", names))
	assert.True(t, IsManifestName("S1_R1_.fastq.gz.md5", names))
	assert.False(t, IsManifestName("S1_R1_.fastq.gz", names))
	assert.False(t, IsManifestName(StoreFileName, names))
}

func TestParseManifest(t *testing.T) {
	in := strings.Join([]string{
		"# produced by the sequencer",
		helloMD5 + "  S1_R1_.fastq.gz",
		strings.ToUpper(helloMD5) + " *run1/S1_R2_.fastq.gz",
		"",
		"not-a-checksum  broken.fastq.gz",
		"00000000000000000000000000000000  S1_R1_.fastq.gz",
	}, "\n")

	got, warnings, err := ParseManifest(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"S1_R1_.fastq.gz": "00000000000000000000000000000000",
		"S1_R2_.fastq.gz": helloMD5,
	}, got)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "unrecognised")
	assert.Contains(t, warnings[1], "duplicate")
}

func TestLoadShippedMergesManifests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "md5sum.txt"),
		[]byte(helloMD5+"  a.fastq.gz\n"+helloMD5+"  b.fastq.gz\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.fastq.gz.md5"),
		[]byte("ffffffffffffffffffffffffffffffff  b.fastq.gz\n"), 0644))

	got, warnings, err := LoadShipped(dir, []string{"md5sum.txt", "b.fastq.gz.md5"})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, helloMD5, got["a.fastq.gz"])
	assert.Equal(t, "ffffffffffffffffffffffffffffffff", got["b.fastq.gz"])

	_, _, err = LoadShipped(dir, []string{"absent.md5"})
	assert.Error(t, err)
}

func TestRecordOutcome(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want Outcome
	}{
		{"no shipped value", Record{Checksum: helloMD5}, Unknown},
		{"not computed", Record{Shipped: helloMD5}, Failed},
		{"match", Record{Checksum: helloMD5, Shipped: strings.ToUpper(helloMD5)}, Verified},
		{"mismatch", Record{Checksum: helloMD5, Shipped: "ffffffffffffffffffffffffffffffff"}, Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Outcome())
		})
	}
	assert.Equal(t, "verified", Verified.String())
}

func TestStoreOneRecordPerName(t *testing.T) {
	s := NewStore(t.TempDir())
	s.Put(Record{FileName: "b", Checksum: "1"})
	s.Put(Record{FileName: "a", Checksum: "2"})
	s.Put(Record{FileName: "b", Checksum: "3"})

	assert.Equal(t, 2, s.Len())
	rec, ok := s.Get("b")
	require.True(t, ok)
	assert.Equal(t, "3", rec.Checksum)

	recs := s.Records()
	assert.Equal(t, "a", recs[0].FileName)
	assert.Equal(t, "b", recs[1].FileName)
}

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	s.Put(Record{FileName: "S1_R1_.fastq.gz", LocalPath: filepath.Join(dir, "S1_R1_.fastq.gz"), Checksum: helloMD5, Shipped: helloMD5})
	require.NoError(t, s.Save())

	_, err := os.Stat(filepath.Join(dir, StoreFileName+".tmp"))
	assert.True(t, os.IsNotExist(err))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, s.Records(), loaded.Records())
	assert.Equal(t, dir, loaded.Dir())
}
