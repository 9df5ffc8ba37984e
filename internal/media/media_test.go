package media

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticAcquire(t *testing.T) {
	s, err := Synthetic{}.Acquire(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)

	require.Len(t, s.Tracks(), 2)
	assert.NotNil(t, s.Track(webrtc.RTPCodecTypeAudio))
	assert.NotNil(t, s.Track(webrtc.RTPCodecTypeVideo))
	assert.True(t, s.Enabled(webrtc.RTPCodecTypeAudio))

	s.Stop()
	s.Stop()
	assert.True(t, s.Stopped())
}

func TestSyntheticAudioOnly(t *testing.T) {
	s, err := Synthetic{}.Acquire(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)
	defer s.Stop()

	assert.Nil(t, s.Track(webrtc.RTPCodecTypeVideo))
	assert.False(t, s.SetEnabled(webrtc.RTPCodecTypeVideo, false))
	assert.True(t, s.SetEnabled(webrtc.RTPCodecTypeAudio, false))
	assert.False(t, s.Enabled(webrtc.RTPCodecTypeAudio))
}

func TestSyntheticNothingRequested(t *testing.T) {
	_, err := Synthetic{}.Acquire(context.Background(), Constraints{})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestDenied(t *testing.T) {
	_, err := Denied{}.Acquire(context.Background(), Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestLocalStreamStopRunsOnce(t *testing.T) {
	var calls atomic.Int32
	s := NewLocalStream(nil, func() { calls.Add(1) })
	s.Stop()
	s.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

// fakeReader yields n packets then EOF.
type fakeReader struct {
	n int
}

func (f *fakeReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if f.n == 0 {
		return nil, nil, io.EOF
	}
	f.n--
	return &rtp.Packet{Payload: make([]byte, 10)}, nil, nil
}

func TestRemoteStreamCountsPackets(t *testing.T) {
	r := NewRemoteStream()
	assert.False(t, r.Populated())

	r.AttachReader(webrtc.RTPCodecTypeAudio, &fakeReader{n: 5})
	r.AttachReader(webrtc.RTPCodecTypeVideo, &fakeReader{n: 3})
	r.Wait()

	assert.True(t, r.Populated())
	assert.Equal(t, uint64(8), r.Packets())
	assert.Equal(t, uint64(80), r.Bytes())
	assert.ElementsMatch(t, []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}, r.Kinds())
}

// blockingReader returns a packet every tick until closed.
type blockingReader struct {
	closed chan struct{}
}

func (b *blockingReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case <-b.closed:
		return nil, nil, errors.New("closed")
	case <-time.After(time.Millisecond):
		return &rtp.Packet{}, nil, nil
	}
}

func TestRemoteStreamStop(t *testing.T) {
	r := NewRemoteStream()
	src := &blockingReader{closed: make(chan struct{})}
	defer close(src.closed)

	r.AttachReader(webrtc.RTPCodecTypeAudio, src)
	r.Stop()
	r.Stop()
	r.Wait()

	r.AttachReader(webrtc.RTPCodecTypeVideo, src)
	assert.Len(t, r.Kinds(), 1)
}
