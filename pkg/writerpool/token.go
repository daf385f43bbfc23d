package writerpool

import "sync/atomic"

// Token identifies the caller of an acquire/release operation in place of a
// thread id. Go has no stable, ambient notion of "the current thread" the
// way the pool's source material did, so callers obtain a Token once (a
// goroutine, a connection, a transaction) and pass it into every pool call
// they make for the lifetime of that unit of work.
type Token int64

// Free is the sentinel owner value meaning no caller currently holds the
// entry's writer.
const Free Token = -1

var tokenSeq int64

// NewToken returns a Token guaranteed to differ from Free and from every
// other Token returned by this function during the process lifetime.
func NewToken() Token {
	return Token(atomic.AddInt64(&tokenSeq, 1))
}
