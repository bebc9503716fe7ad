package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecs(t *testing.T) {
	payload := bytes.Repeat([]byte("a,b,c\n1,2,3\n"), 100)

	for _, c := range supportedCodecs {
		t.Run(c.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(c, &buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := NewReader(c, &buf)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			require.Equal(t, payload, got)
		})
	}
}

func TestFromPath(t *testing.T) {
	c, path := FromPath("out/data.csv.zst")
	require.Equal(t, Zstd, c)
	require.Equal(t, "out/data.csv", path)

	c, path = FromPath("out/data.arrow")
	require.Equal(t, None, c)
	require.Equal(t, "out/data.arrow", path)

	_, err := ParseCodec("brotli")
	require.Error(t, err)
	c, err = ParseCodec("GZIP")
	require.NoError(t, err)
	require.Equal(t, GZIP, c)
}
