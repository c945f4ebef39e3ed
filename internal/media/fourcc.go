package media

import "fmt"

// FourCC is a four character pixel encoding code, stored big-endian so that
// '420v' == 0x34323076.
type FourCC uint32

const (
	PixelFormat420v FourCC = 0x34323076 // '420v' bi-planar 4:2:0, video range
	PixelFormat420f FourCC = 0x34323066 // '420f' bi-planar 4:2:0, full range
	PixelFormatYUVS FourCC = 0x79757673 // 'yuvs' packed 4:2:2
	PixelFormat2VUY FourCC = 0x32767579 // '2vuy' packed 4:2:2
	PixelFormatBGRA FourCC = 0x42475241 // 'BGRA'
	PixelFormatYUYV FourCC = 0x59555956 // 'YUYV'
	PixelFormatMJPG FourCC = 0x4D4A5047 // 'MJPG'
	PixelFormatNV12 FourCC = 0x4E563132 // 'NV12'
)

// ParseFourCC parses a four character code such as "420v".
func ParseFourCC(s string) (FourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("invalid four character code %q", s)
	}
	return FourCC(uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])), nil
}

// MustFourCC is like ParseFourCC but panics on malformed input.
func MustFourCC(s string) FourCC {
	c, err := ParseFourCC(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c FourCC) String() string {
	return string([]byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)})
}

// MarshalText implements encoding.TextMarshaler.
func (c FourCC) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *FourCC) UnmarshalText(text []byte) error {
	v, err := ParseFourCC(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
