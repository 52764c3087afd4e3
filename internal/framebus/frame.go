package framebus

import "time"

// Frame is one decoded image. Data holds Height*Width*Channels bytes, BGR, row-major.
// Scale is the factor the ingester applied when downscaling (1 means source resolution);
// divide box coordinates by it to get back to source pixels.
type Frame struct {
	CameraID   string
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	Channels   int
	Data       []byte
	Scale      float64
}

// Clone returns a copy that shares no memory with f.
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = make([]byte, len(f.Data))
		copy(c.Data, f.Data)
	}
	return c
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Data) == 0 || f.Width <= 0 || f.Height <= 0
}
