package packet

import "github.com/luoxk/qcore/frame"

// PadForHeaderProtection appends PADDING frames until the packet body
// reaches minLen, the smallest size the AEAD/header-protection sample
// requires (the value itself — derived from the active cipher suite's
// sample length and the packet-number wire length — is supplied by the
// caller; this function only owns the "pad with PADDING frames"
// mechanism described in spec.md C2).
func (w *Writer) PadForHeaderProtection(minLen int) {
	for len(w.buf) < minLen && w.Remain() > 0 {
		if !w.Write(&frame.PaddingFrame{}) {
			break
		}
	}
}
