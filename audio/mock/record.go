package mock

import "simctl/audio"

// Frames returns a copy of every frame written so far.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Decoded returns the written frames split into fields.
func (c *Conn) Decoded() []audio.DecodedFrame {
	frames := c.Frames()
	out := make([]audio.DecodedFrame, 0, len(frames))
	for _, f := range frames {
		d, err := audio.DecodeFrame(f)
		if err != nil {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Reset forgets the recorded frames.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Plays counts play commands for trk.
func (c *Conn) Plays(trk int) (n int) {
	for _, d := range c.Decoded() {
		if d.Op == audio.OpTrackControl && d.Track == trk &&
			(d.Code == audio.TrackPlayPoly || d.Code == audio.TrackPlaySolo) {
			n++
		}
	}
	return
}

// TrackGains lists the gains sent for trk, oldest first.
func (c *Conn) TrackGains(trk int) (gains []int) {
	for _, d := range c.Decoded() {
		if d.Op == audio.OpTrackVolume && d.Track == trk {
			gains = append(gains, d.Gain)
		}
	}
	return
}

// Fades lists the target gains of fades sent for trk, oldest first.
func (c *Conn) Fades(trk int) (gains []int) {
	for _, d := range c.Decoded() {
		if d.Op == audio.OpTrackFade && d.Track == trk {
			gains = append(gains, d.Gain)
		}
	}
	return
}

// ChannelGains lists the gains sent for ch, oldest first. Channel -1 is
// the master volume.
func (c *Conn) ChannelGains(ch int) (gains []int) {
	for _, d := range c.Decoded() {
		if d.Op == audio.OpVolume && d.Channel == ch {
			gains = append(gains, d.Gain)
		}
	}
	return
}

// Count counts frames with the given opcode.
func (c *Conn) Count(op audio.Op) (n int) {
	for _, d := range c.Decoded() {
		if d.Op == op {
			n++
		}
	}
	return
}
