package validate

import (
	"bytes"

	"github.com/xeptore/trackfetch/types"
)

// HeaderSize is the number of leading bytes read for classification.
const HeaderSize = 3072

var (
	sigID3  = []byte("ID3")
	sigFtyp = []byte("ftyp")
	sigEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	sigFLAC = []byte("fLaC")
	sigOgg  = []byte("OggS")
)

// Detect classifies the leading bytes of a payload. It never looks at file
// names or declared content types.
func Detect(header []byte) types.Container {
	switch {
	case bytes.HasPrefix(header, sigID3):
		return types.ContainerMP3
	case isMPEGFrameSync(header):
		return types.ContainerMP3
	case len(header) >= 8 && bytes.Equal(header[4:8], sigFtyp):
		return types.ContainerMP4
	case bytes.HasPrefix(header, sigEBML):
		return types.ContainerWebM
	case bytes.HasPrefix(header, sigFLAC):
		return types.ContainerFLAC
	case bytes.HasPrefix(header, sigOgg):
		return types.ContainerOgg
	default:
		return types.ContainerUnknown
	}
}

// isMPEGFrameSync matches an MPEG audio frame header: 11 sync bits, a valid
// version, a non-zero layer and a usable bitrate index. ADTS AAC (layer 0)
// is rejected.
func isMPEGFrameSync(b []byte) bool {
	if len(b) < 3 {
		return false
	}

	if b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return false
	}

	version := (b[1] >> 3) & 0x03
	layer := (b[1] >> 1) & 0x03
	bitrate := b[2] >> 4

	return version != 0x01 && layer != 0x00 && bitrate != 0x0F
}
