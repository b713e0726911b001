package types

type Container string

const (
	ContainerUnknown Container = ""
	ContainerMP3     Container = "mp3"
	ContainerMP4     Container = "mp4"
	ContainerWebM    Container = "webm"
	ContainerFLAC    Container = "flac"
	ContainerOgg     Container = "ogg"
)

func (c Container) Ext() string {
	switch c {
	case ContainerMP3:
		return "mp3"
	case ContainerMP4:
		return "m4a"
	case ContainerWebM:
		return "webm"
	case ContainerFLAC:
		return "flac"
	case ContainerOgg:
		return "ogg"
	default:
		return "bin"
	}
}

func (c Container) String() string {
	if c == ContainerUnknown {
		return "unknown"
	}

	return string(c)
}
