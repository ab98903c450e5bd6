package syncer

import "fmt"

// Style selects where InsertTracks puts new tracks.
type Style uint8

const (
	// StyleNow inserts after the current slot and plays the first new track.
	StyleNow Style = iota
	// StyleNext inserts after the current slot.
	StyleNext
	// StyleLast appends to the end of the list.
	StyleLast
)

func (s Style) String() string {
	switch s {
	case StyleNow:
		return "now"
	case StyleNext:
		return "next"
	case StyleLast:
		return "last"
	}
	return fmt.Sprintf("Style(%d)", uint8(s))
}

func ParseStyle(v string) (Style, error) {
	switch v {
	case "now":
		return StyleNow, nil
	case "next":
		return StyleNext, nil
	case "last", "":
		return StyleLast, nil
	}
	return 0, fmt.Errorf("unknown insert style %q", v)
}
