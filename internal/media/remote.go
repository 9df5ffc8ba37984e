package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RTPReader is the part of *webrtc.TrackRemote the remote stream drains.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// RemoteStream collects the tracks received from the other party. Packets
// are read continuously so the receive buffers never fill, and counted for
// the call summary.
type RemoteStream struct {
	mu      sync.Mutex
	kinds   []webrtc.RTPCodecType
	stopped bool

	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewRemoteStream() *RemoteStream {
	return &RemoteStream{done: make(chan struct{})}
}

// Attach starts draining a remote track.
func (r *RemoteStream) Attach(t *webrtc.TrackRemote) {
	r.AttachReader(t.Kind(), t)
}

// AttachReader starts draining any RTP source of the given kind.
func (r *RemoteStream) AttachReader(kind webrtc.RTPCodecType, src RTPReader) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.kinds = append(r.kinds, kind)
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		for {
			pkt, _, err := src.ReadRTP()
			if err != nil {
				return
			}
			r.packets.Add(1)
			r.bytes.Add(uint64(len(pkt.Payload)))

			select {
			case <-r.done:
				return
			default:
			}
		}
	}()
}

// Kinds lists the kinds of track attached so far.
func (r *RemoteStream) Kinds() []webrtc.RTPCodecType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]webrtc.RTPCodecType(nil), r.kinds...)
}

// Populated reports whether at least one remote track has arrived.
func (r *RemoteStream) Populated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.kinds) > 0
}

func (r *RemoteStream) Packets() uint64 {
	return r.packets.Load()
}

func (r *RemoteStream) Bytes() uint64 {
	return r.bytes.Load()
}

// Stop ends draining. Readers blocked in ReadRTP return once the peer
// connection closes. Safe to call more than once.
func (r *RemoteStream) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	close(r.done)
}

// Wait blocks until every drain goroutine has exited.
func (r *RemoteStream) Wait() {
	r.wg.Wait()
}
