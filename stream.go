package armada

import (
	"sync"
	"time"
)

// defaultBufferSize is the number of characters accumulated between
// buffer-flush hook calls.
const defaultBufferSize = 10

// ChunkFunc is invoked for every chunk with the chunk and the content
// accumulated so far (including the chunk).
type ChunkFunc func(chunk, soFar string)

// StreamOption configures a Stream envelope.
type StreamOption func(*Stream)

// WithChunkCallback sets the per-chunk callback.
func WithChunkCallback(fn ChunkFunc) StreamOption {
	return func(s *Stream) { s.onChunk = fn }
}

// WithBufferSize sets the character threshold for the buffer-flush hook.
// Default: 10.
func WithBufferSize(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithBufferFlush sets a hook invoked whenever the pending buffer reaches
// BufferSize characters, receiving the buffered text. Used by cache
// write-back layers.
func WithBufferFlush(fn func(buffered string)) StreamOption {
	return func(s *Stream) { s.onFlush = fn }
}

// Stream wraps a lazy chunk sequence with accumulation, callback fan-out,
// and reification to a completed Response. Single-consumer: exactly one
// goroutine may call Recv/ToResponse.
type Stream struct {
	agentRole   string
	toolResults map[string]any
	ch          chan string
	onChunk     ChunkFunc
	onFlush     func(string)
	bufferSize  int

	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	cancel   func()
	content  []byte
	pending  []byte
	complete bool
	err      error
	start    time.Time
	end      time.Time
	usage    Usage
}

// NewStream creates an envelope. The producer writes chunks into Sink()
// and closes it (or calls Fail) when done; the consumer pulls via Recv or
// drains via ToResponse.
func NewStream(agentRole string, opts ...StreamOption) *Stream {
	s := &Stream{
		agentRole:  agentRole,
		ch:         make(chan string, 16),
		closed:     make(chan struct{}),
		bufferSize: defaultBufferSize,
		start:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sink returns the producer side of the chunk sequence. The producer must
// close it when the stream ends.
func (s *Stream) Sink() chan<- string { return s.ch }

// Close abandons the stream: the producer's context is cancelled and
// undelivered chunks are discarded. Content accumulated before Close
// remains readable. Safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// bindCancel ties the producer's context to Close. Producers stop
// forwarding chunks once the closed channel is closed.
func (s *Stream) bindCancel(cancel func()) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// Fail records a terminal stream error. The content accumulated so far is
// preserved (truncated stream); ToResponse surfaces the error.
// The producer must still close the sink.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// SetUsage records the token usage reported at the end of the stream.
func (s *Stream) SetUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage = u
}

// Recv pulls the next chunk, updating the accumulator and firing the chunk
// callback. Returns ok=false once the stream is exhausted.
func (s *Stream) Recv() (string, bool) {
	chunk, ok := <-s.ch
	if !ok {
		s.finish()
		return "", false
	}
	s.mu.Lock()
	s.content = append(s.content, chunk...)
	s.pending = append(s.pending, chunk...)
	soFar := string(s.content)
	flush := len(s.pending) >= s.bufferSize
	var buffered string
	if flush {
		buffered = string(s.pending)
		s.pending = s.pending[:0]
	}
	s.mu.Unlock()

	if s.onChunk != nil {
		s.onChunk(chunk, soFar)
	}
	if flush && s.onFlush != nil {
		s.onFlush(buffered)
	}
	return chunk, true
}

// Content returns the text accumulated so far.
func (s *Stream) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.content)
}

// IsComplete reports whether the chunk sequence has been fully drained.
func (s *Stream) IsComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// ToResponse drains any remaining chunks and reifies the stream into a
// Response. On a failed stream the partial content is returned alongside
// the stream error.
func (s *Stream) ToResponse() (Response, error) {
	for {
		if _, ok := s.Recv(); !ok {
			break
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	resp := Response{
		Content:       string(s.content),
		AgentRole:     s.agentRole,
		ToolResults:   s.toolResults,
		ExecutionTime: s.end.Sub(s.start).Seconds(),
		Usage:         s.usage,
	}
	return resp, s.err
}

// StreamStats summarizes a drained stream.
type StreamStats struct {
	ContentLength int
	Duration      time.Duration
	Complete      bool
}

// Stats returns accumulation statistics. Duration is zero until the
// stream completes.
func (s *Stream) Stats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d time.Duration
	if s.complete {
		d = s.end.Sub(s.start)
	}
	return StreamStats{
		ContentLength: len(s.content),
		Duration:      d,
		Complete:      s.complete,
	}
}

// finish marks the stream drained, flushing any short final buffer.
func (s *Stream) finish() {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return
	}
	s.complete = true
	s.end = time.Now()
	var buffered string
	if len(s.pending) > 0 {
		buffered = string(s.pending)
		s.pending = nil
	}
	s.mu.Unlock()
	if buffered != "" && s.onFlush != nil {
		s.onFlush(buffered)
	}
}
