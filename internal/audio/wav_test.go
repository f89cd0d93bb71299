package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	b, err := EncodeWAVPCM16LE(pcm, 16000)
	require.NoError(t, err)
	require.Len(t, b, 44+len(pcm))
	assert.Equal(t, "RIFF", string(b[0:4]))
	assert.Equal(t, "WAVE", string(b[8:12]))

	w, err := ParseWAV(b)
	require.NoError(t, err)
	assert.Equal(t, PCM16Mono(16000), w.Format)
	assert.Equal(t, pcm, w.Data)
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	b, err := EncodeWAVPCM16LE([]byte{9, 9}, 22050)
	require.NoError(t, err)

	// Insert a LIST chunk with an odd size between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append(append(append([]byte{}, b[:36]...), list...), b[36:]...)

	w, err := ParseWAV(withList)
	require.NoError(t, err)
	assert.Equal(t, 22050, w.Format.SampleRate)
	assert.Equal(t, []byte{9, 9}, w.Data)
}

func TestParseWAVTruncatedDataChunk(t *testing.T) {
	b, err := EncodeWAVPCM16LE(bytes.Repeat([]byte{7}, 10), 22050)
	require.NoError(t, err)
	// Streamed WAVs often declare 0xFFFFFFFF as the data size.
	copy(b[40:44], []byte{0xff, 0xff, 0xff, 0xff})

	w, err := ParseWAV(b)
	require.NoError(t, err)
	assert.Len(t, w.Data, 10)
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	_, err := ParseWAV([]byte("not a wav file at all"))
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func TestJoinWAVConcatenatesPCM(t *testing.T) {
	a, err := EncodeWAVPCM16LE([]byte{1, 1, 2, 2}, 22050)
	require.NoError(t, err)
	b, err := EncodeWAVPCM16LE([]byte{3, 3}, 22050)
	require.NoError(t, err)

	joined, err := JoinWAV([][]byte{a, b})
	require.NoError(t, err)

	w, err := ParseWAV(joined)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 2, 2, 3, 3}, w.Data)
	assert.Equal(t, 22050, w.Format.SampleRate)
}

func TestJoinWAVRejectsMixedFormats(t *testing.T) {
	a, err := EncodeWAVPCM16LE([]byte{1, 1}, 22050)
	require.NoError(t, err)
	b, err := EncodeWAVPCM16LE([]byte{1, 1}, 16000)
	require.NoError(t, err)

	_, err = JoinWAV([][]byte{a, b})
	require.ErrorIs(t, err, ErrInvalidWAV)
}

func TestSampleRateOfFallsBack(t *testing.T) {
	assert.Equal(t, 22050, SampleRateOf([]byte("raw"), 22050))

	b, err := Silence(16000, 4)
	require.NoError(t, err)
	assert.Equal(t, 16000, SampleRateOf(b, 22050))
}
