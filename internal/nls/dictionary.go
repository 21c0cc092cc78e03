// Package nls builds the two immutable, id-keyed lookup tables
// an Oracle charset id to a byte decoder, and
// Oracle timezone id to an IANA zone name. Both are built once and
// injected by reference into outputbuffer.Buffer per the
// "Global/ambient state" guidance — never held as a package-level
// singleton.
package nls

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Charset ids, a representative subset of Oracle's NLS_CHARACTERSET
// values (the original carries ~70; this core wires the ones the
// example pack's x/text dependency can actually decode).
const (
	CharsetUS7ASCII    uint16 = 1
	CharsetWE8ISO8859P1 uint16 = 31
	CharsetUTF8        uint16 = 871
	CharsetAL32UTF8    uint16 = 873
	CharsetWE8MSWIN1252 uint16 = 178
	CharsetJA16SJIS    uint16 = 832
	CharsetZHS16GBK    uint16 = 852
	CharsetKO16KSC5601 uint16 = 846
)

// identity is the decoder used for id-to-codepoint-stream charsets
// that are already valid UTF-8/ASCII and need no transcoding.
type identity struct{}

func (identity) Decode(p []byte) ([]byte, error) { return p, nil }

// Decoder turns a charset's raw byte stream into a UTF-8 byte stream.
type Decoder interface {
	Decode(p []byte) ([]byte, error)
}

type textDecoder struct{ enc encoding.Encoding }

func (d textDecoder) Decode(p []byte) ([]byte, error) {
	return d.enc.NewDecoder().Bytes(p)
}

// Dictionary is the immutable charset/timezone lookup pair.
type Dictionary struct {
	charsetByID  map[uint16]Decoder
	charsetByName map[string]uint16
	timezoneByID map[uint16]string
}

// NewDictionary builds the dictionary once; the result must not be
// mutated afterward.
func NewDictionary() *Dictionary {
	d := &Dictionary{
		charsetByID:   make(map[uint16]Decoder),
		charsetByName: make(map[string]uint16),
		timezoneByID:  make(map[uint16]string),
	}

	register := func(id uint16, name string, dec Decoder) {
		d.charsetByID[id] = dec
		d.charsetByName[name] = id
	}
	register(CharsetUS7ASCII, "US7ASCII", identity{})
	register(CharsetUTF8, "UTF8", identity{})
	register(CharsetAL32UTF8, "AL32UTF8", identity{})
	register(CharsetWE8ISO8859P1, "WE8ISO8859P1", textDecoder{charmap.ISO8859_1})
	register(CharsetWE8MSWIN1252, "WE8MSWIN1252", textDecoder{charmap.Windows1252})
	register(CharsetJA16SJIS, "JA16SJIS", textDecoder{japanese.ShiftJIS})
	register(CharsetZHS16GBK, "ZHS16GBK", textDecoder{simplifiedchinese.GBK})
	register(CharsetKO16KSC5601, "KO16KSC5601", textDecoder{korean.EUCKR})

	for id, name := range defaultTimezones() {
		d.timezoneByID[id] = name
	}
	return d
}

func defaultTimezones() map[uint16]string {
	return map[uint16]string{
		1:  "UTC",
		2:  "America/New_York",
		3:  "America/Chicago",
		4:  "America/Denver",
		5:  "America/Los_Angeles",
		6:  "Europe/London",
		7:  "Europe/Berlin",
		8:  "Europe/Paris",
		9:  "Asia/Tokyo",
		10: "Asia/Shanghai",
		11: "Asia/Kolkata",
		12: "Australia/Sydney",
	}
}

// Decoder returns the decoder registered for a charset id.
func (d *Dictionary) Decoder(id uint16) (Decoder, bool) {
	dec, ok := d.charsetByID[id]
	return dec, ok
}

// ByName resolves a configured charset name (nlsCharset/nlsNcharCharset)
// to its id, the lookup setNlsCharset performs.
func (d *Dictionary) ByName(name string) (uint16, bool) {
	id, ok := d.charsetByName[name]
	return id, ok
}

// Timezone resolves a 16-bit timezone id to its IANA name.
func (d *Dictionary) Timezone(id uint16) (string, bool) {
	tz, ok := d.timezoneByID[id]
	return tz, ok
}
