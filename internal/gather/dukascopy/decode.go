package dukascopy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"fxhist/internal/domain"
)

// recordSize is five big-endian int32 fields: ms offset, ask, bid, ask
// volume, bid volume.
const recordSize = 5 * 4

// DefaultPriceScale converts integer archive prices to decimal prices.
const DefaultPriceScale = 1e5

// Decompress inflates an LZMA-compressed hourly archive.
func Decompress(raw []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: lzma header: %v", domain.ErrDecode, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: lzma stream: %v", domain.ErrDecode, err)
	}
	return data, nil
}

// DecodeRecords turns decompressed archive bytes for the hour starting at
// hour into ticks. A length that is not a whole number of records yields no
// ticks and a domain.ErrDecode error.
func DecodeRecords(data []byte, hour time.Time, scale float64) ([]domain.Tick, error) {
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", domain.ErrDecode, len(data), recordSize)
	}
	if scale <= 0 {
		scale = DefaultPriceScale
	}
	base := hour.UTC().Truncate(time.Hour)

	ticks := make([]domain.Tick, 0, len(data)/recordSize)
	for off := 0; off < len(data); off += recordSize {
		rec := data[off : off+recordSize]
		ms := int32(binary.BigEndian.Uint32(rec[0:4]))
		ask := int32(binary.BigEndian.Uint32(rec[4:8]))
		bid := int32(binary.BigEndian.Uint32(rec[8:12]))
		askVol := int32(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := int32(binary.BigEndian.Uint32(rec[16:20]))

		ticks = append(ticks, domain.Tick{
			Timestamp: base.Add(time.Duration(ms) * time.Millisecond),
			Ask:       float64(ask) / scale,
			Bid:       float64(bid) / scale,
			AskVolume: float64(askVol),
			BidVolume: float64(bidVol),
		})
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })
	return ticks, nil
}

// Decode decompresses and decodes one hourly archive. Any failure yields an
// empty tick set together with a domain.ErrDecode error for logging; it
// never panics on malformed input.
func Decode(raw []byte, hour time.Time, scale float64) ([]domain.Tick, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	data, err := Decompress(raw)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(data, hour, scale)
}

// EncodeRecords is the inverse of DecodeRecords, used to seed caches and
// fixtures.
func EncodeRecords(ticks []domain.Tick, hour time.Time, scale float64) []byte {
	if scale <= 0 {
		scale = DefaultPriceScale
	}
	base := hour.UTC().Truncate(time.Hour)
	buf := make([]byte, 0, len(ticks)*recordSize)
	var rec [recordSize]byte
	for _, t := range ticks {
		binary.BigEndian.PutUint32(rec[0:4], uint32(int32(t.Timestamp.Sub(base)/time.Millisecond)))
		binary.BigEndian.PutUint32(rec[4:8], uint32(int32(roundScaled(t.Ask, scale))))
		binary.BigEndian.PutUint32(rec[8:12], uint32(int32(roundScaled(t.Bid, scale))))
		binary.BigEndian.PutUint32(rec[12:16], uint32(int32(t.AskVolume)))
		binary.BigEndian.PutUint32(rec[16:20], uint32(int32(t.BidVolume)))
		buf = append(buf, rec[:]...)
	}
	return buf
}

func roundScaled(v, scale float64) int64 {
	x := v * scale
	if x < 0 {
		return int64(x - 0.5)
	}
	return int64(x + 0.5)
}

// Compress LZMA-compresses data in the archive's container format.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
