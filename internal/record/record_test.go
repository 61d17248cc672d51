package record

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonduel/server/internal/snapshot"
)

func sample(frame int32) *snapshot.Snapshot {
	s := &snapshot.Snapshot{Frame: frame}
	s.Avatars[0] = snapshot.AvatarState{
		Origin:      mgl32.Vec3{float32(frame), 0, 1},
		Orientation: mgl32.Vec3{0, 0, 1},
		State:       2,
		Flags:       1,
	}
	s.Entities = []snapshot.NetObject{{ID: 100, ParentID: 0, HasParent: true, ModelID: 1}}
	return s
}

func TestRecordAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duel.mdsr")
	rec, err := Create(path, 16)
	require.NoError(t, err)
	for f := int32(1); f <= 3; f++ {
		require.NoError(t, rec.Record(sample(f)))
	}
	assert.Equal(t, 3, rec.Frames())
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rd, err := NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, Header{Version: 1, SimDt: 16}, rd.Header())

	for want := int32(1); want <= 3; want++ {
		s, err := rd.Next()
		require.NoError(t, err)
		assert.Equal(t, want, s.Frame)
		assert.Equal(t, float32(want), s.Avatars[0].Origin.X())
		require.Len(t, s.Entities, 1)
		assert.True(t, s.Entities[0].HasParent)
	}
	_, err = rd.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderRejectsForeignFile(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{8, 0, 'J', 'U', 'N', 'K', 1, 2})
	_, err := NewReader(&buf)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestReaderRejectsWrongVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHeader(&buf, Header{Version: 9, SimDt: 16}))
	_, err := NewReader(&buf)
	assert.ErrorIs(t, err, ErrBadHeader)
}
