package receiver

// ReferenceFinder assigns each assembled frame an unwrapped, monotonically
// increasing picture id and the set of earlier ids it depends on (spec
// §4.8). It tracks one independent sequence-cycle count per codec stream,
// using the same wraparound idiom the source manager uses for RTP sequence
// numbers: a jump backwards of more than half the 16-bit space means the
// counter wrapped, not that time went backwards.
type ReferenceFinder struct {
	cycles       uint16
	haveLast     bool
	lastSeq      uint16
	lastKeyframe int64
	haveKeyframe bool
	lastFrameID  int64
	lastBaseID   int64
}

// NewReferenceFinder returns a finder ready to process the first frame of a
// stream.
func NewReferenceFinder() *ReferenceFinder {
	return &ReferenceFinder{}
}

// unwrapSeq extends seq (the frame's last RTP sequence number) to a 32-bit
// monotonic id using the frame-to-frame cycle count, exactly as
// source_manager.go extends SeqNumCycles for RTP packet sequences.
func (f *ReferenceFinder) unwrapSeq(seq uint16) int64 {
	if f.haveLast && seq < f.lastSeq && (f.lastSeq-seq) > 32768 {
		f.cycles++
	}
	f.lastSeq = seq
	f.haveLast = true
	return int64(f.cycles)<<16 + int64(seq)
}

// Process fills in frame.UnwrappedID and frame.References in place, per
// spec §4.8's per-codec rule, and returns the same frame for convenience.
func (f *ReferenceFinder) Process(frame *FrameToDecode) *FrameToDecode {
	id := f.unwrapSeq(frame.LastSequence)
	frame.UnwrappedID = id

	switch frame.Codec {
	case CodecH264:
		f.processH264(frame, id)
	case CodecVP8, CodecVP9:
		f.processVPx(frame, id)
	}
	f.lastFrameID = id
	return frame
}

// processH264 implements: "picture-id is the unwrapped last-sequence-number
// of the frame; a delta frame references the most recent frame with a
// smaller unwrapped id. Keyframes have no references."
func (f *ReferenceFinder) processH264(frame *FrameToDecode, id int64) {
	if frame.IsKeyframe {
		frame.References = nil
		f.lastKeyframe = id
		f.haveKeyframe = true
		return
	}
	if f.haveKeyframe && f.lastFrameID < id {
		frame.References = []int64{f.lastFrameID}
	}
}

// processVPx implements the VP8/VP9 rule: references come from the
// depacketizer-supplied codec-header hints (tl0_pic_idx / temporal layer /
// ref_pic_id) rather than from parsing the payload descriptor here, since
// the finder only ever sees the already-assembled frame.
func (f *ReferenceFinder) processVPx(frame *FrameToDecode, id int64) {
	if frame.IsKeyframe {
		frame.References = nil
		f.lastKeyframe = id
		f.haveKeyframe = true
		f.lastBaseID = id
		return
	}
	if frame.TemporalLayer == 0 {
		// Base layer: references the previous base-layer frame (or the
		// keyframe) this finder processed; TL0PicIdx is not consulted.
		if f.haveKeyframe {
			frame.References = []int64{f.lastBaseID}
		}
		f.lastBaseID = id
		return
	}
	// Enhancement layer: references its declared RefPicID, unwrapped the
	// same way as the frame's own sequence number would be, since encoders
	// emit ref_pic_id in the same 16-bit space.
	if f.haveKeyframe {
		ref := int64(f.cycles)<<16 + int64(frame.RefPicID)
		if ref > id {
			ref -= 1 << 16
		}
		frame.References = []int64{ref}
	}
}
