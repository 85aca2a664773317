package decode

// sampleScratch is a reusable scratch buffer for one cluster's worth of
// decoded samples, so decodeDRAMCluster doesn't allocate on every call.
// It follows the same "next slice large enough, or wrap to the start"
// accounting as a ring buffer, simplified to a single owner that never
// holds two slices live at once.
type sampleScratch struct {
	buf  []byte
	next int
}

func newSampleScratch(size int) *sampleScratch {
	return &sampleScratch{buf: make([]byte, size)}
}

// slice returns a zeroed slice of n bytes from the scratch buffer,
// wrapping to the start if the current position leaves too little
// room. Panics if n exceeds the buffer's total size; callers size the
// scratch buffer for the largest request they'll ever make.
func (s *sampleScratch) slice(n int) []byte {
	if n > len(s.buf) {
		panic("decode: sampleScratch too small for request")
	}
	if s.next+n > len(s.buf) {
		s.next = 0
	}
	out := s.buf[s.next : s.next+n]
	for i := range out {
		out[i] = 0
	}
	s.next += n
	return out
}
