package romm

import (
	"io"
	"time"

	"golang.org/x/time/rate"
)

// ProgressFunc receives transfer progress. total is -1 when unknown.
type ProgressFunc func(done, total int64)

// Throttle wraps fn so that it runs at most once per interval. The final
// call (done == total) is always delivered so callers can print a
// completed line. Returns nil when fn is nil.
func Throttle(interval time.Duration, fn ProgressFunc) ProgressFunc {
	if fn == nil {
		return nil
	}

	gate := &rate.Sometimes{Interval: interval}

	return func(done, total int64) {
		if total >= 0 && done >= total {
			fn(done, total)
			return
		}

		gate.Do(func() { fn(done, total) })
	}
}

// progressReader reports bytes read through an io.Reader.
type progressReader struct {
	r     io.Reader
	done  int64
	total int64
	fn    ProgressFunc
}

// NewProgressReader wraps r so that fn is called after every read.
func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	return &progressReader{r: r, total: total, fn: fn}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}

	return n, err
}

// progressWriter reports bytes written through an io.Writer.
type progressWriter struct {
	w     io.Writer
	done  int64
	total int64
	fn    ProgressFunc
}

// NewProgressWriter wraps w so that fn is called after every write.
// A nil fn returns w unchanged.
func NewProgressWriter(w io.Writer, total int64, fn ProgressFunc) io.Writer {
	if fn == nil {
		return w
	}

	return &progressWriter{w: w, total: total, fn: fn}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}

	return n, err
}
