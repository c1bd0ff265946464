// Package stream implements the Hue Entertainment streaming session: the
// HueStream v2 datagram encoder, the DTLS-PSK transport and the session state
// machine that ties bridge activation to the transport lifetime.
package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/dokzlo13/ambilightd/internal/rgb"
)

// MaxChannels is the most channels one datagram may carry.
const MaxChannels = 20

// ConfigurationIDLength is the length of an entertainment configuration UUID in text form.
const ConfigurationIDLength = 36

const (
	protocolName  = "HueStream"
	headerLength  = len(protocolName) + 7 + ConfigurationIDLength
	recordLength  = 7
	versionMajor  = 0x02
	versionMinor  = 0x00
	colorSpaceRGB = 0x00
)

var (
	ErrTooManyChannels        = errors.New("too many channels in one datagram")
	ErrDuplicateChannel       = errors.New("duplicate channel in datagram")
	ErrInvalidConfigurationID = errors.New("invalid entertainment configuration id")
)

// Record is the color of one channel for one datagram.
type Record struct {
	Channel uint8
	Color   colorful.Color
}

// Encode builds one HueStream v2 RGB datagram. Records are written in channel
// order regardless of input order, and the sequence byte is always zero, so
// equal inputs produce equal bytes.
func Encode(configID string, records []Record) ([]byte, error) {
	if len(configID) != ConfigurationIDLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidConfigurationID, configID)
	}
	if len(records) > MaxChannels {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyChannels, len(records), MaxChannels)
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Channel < sorted[j].Channel })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Channel == sorted[i-1].Channel {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChannel, sorted[i].Channel)
		}
	}

	buf := make([]byte, 0, headerLength+recordLength*len(sorted))
	buf = append(buf, protocolName...)
	buf = append(buf,
		versionMajor, versionMinor,
		0x00,       // sequence
		0x00, 0x00, // reserved
		colorSpaceRGB,
		0x00, // reserved
	)
	buf = append(buf, configID...)

	for _, rec := range sorted {
		r, g, b := rgb.To16(rec.Color)
		buf = append(buf, rec.Channel)
		buf = binary.BigEndian.AppendUint16(buf, r)
		buf = binary.BigEndian.AppendUint16(buf, g)
		buf = binary.BigEndian.AppendUint16(buf, b)
	}

	return buf, nil
}
