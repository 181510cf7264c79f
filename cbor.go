package cardano

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
)

// cborEncoder sorts map keys length-first so that every encoding of a body,
// value or witness set is reproducible byte for byte. Indefinite lengths stay
// allowed because plutus data relies on them.
var cborEncoder, _ = cbor.EncOptions{
	Sort:          cbor.SortCanonical,
	NilContainers: cbor.NilContainerAsEmpty,
}.EncMode()

var StandardCborDecoder, _ = cbor.DecOptions{
	UTF8: cbor.UTF8DecodeInvalid,
}.DecMode()

const (
	majorUnsigned byte = 0
	majorNegative byte = 1
	majorBytes    byte = 2
	majorText     byte = 3
	majorArray    byte = 4
	majorMap      byte = 5
	majorTag      byte = 6
	majorSimple   byte = 7

	cborBreak byte = 0xff
)

func appendCborHead(buf []byte, major byte, n uint64) []byte {
	m := major << 5
	switch {
	case n < 24:
		return append(buf, m|byte(n))
	case n <= 0xff:
		return append(buf, m|24, byte(n))
	case n <= 0xffff:
		return binary.BigEndian.AppendUint16(append(buf, m|25), uint16(n))
	case n <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(buf, m|26), uint32(n))
	}
	return binary.BigEndian.AppendUint64(append(buf, m|27), n)
}

func appendCborIndefinite(buf []byte, major byte) []byte {
	return append(buf, major<<5|31)
}

// cborHead describes the initial bytes of a data item.
type cborHead struct {
	major      byte
	arg        uint64
	size       int
	indefinite bool
}

func readCborHead(data []byte) (h cborHead, err error) {
	if len(data) == 0 {
		err = errors.New("cbor: empty data item")
		return
	}
	h.major = data[0] >> 5
	info := data[0] & 0x1f
	h.size = 1
	switch {
	case info < 24:
		h.arg = uint64(info)
	case info == 24:
		h.size = 2
	case info == 25:
		h.size = 3
	case info == 26:
		h.size = 5
	case info == 27:
		h.size = 9
	case info == 31:
		h.indefinite = true
	default:
		err = errors.Errorf("cbor: reserved additional info %d", info)
		return
	}
	if len(data) < h.size {
		err = errors.New("cbor: truncated head")
		return
	}
	switch h.size {
	case 2:
		h.arg = uint64(data[1])
	case 3:
		h.arg = uint64(binary.BigEndian.Uint16(data[1:3]))
	case 5:
		h.arg = uint64(binary.BigEndian.Uint32(data[1:5]))
	case 9:
		h.arg = binary.BigEndian.Uint64(data[1:9])
	}
	return
}

// splitCborItems walks the items of an array (count = 1 per element) or map
// (count = 2 per entry) whose content starts at data[h.size:].
func splitCborItems(data []byte, h cborHead, perEntry int) (items []cbor.RawMessage, err error) {
	rest := data[h.size:]
	for i := uint64(0); h.indefinite || i < h.arg*uint64(perEntry); i++ {
		if h.indefinite {
			if len(rest) == 0 {
				err = errors.New("cbor: missing break")
				return
			}
			if rest[0] == cborBreak {
				return
			}
		}
		var item cbor.RawMessage
		rest, err = StandardCborDecoder.UnmarshalFirst(rest, &item)
		if err != nil {
			err = errors.WithStack(err)
			return
		}
		items = append(items, item)
	}
	return
}
