package stm32dfu

import (
	"strconv"
	"strings"
)

const (
	flashSizeMultiple = 1024
	pageSizeMultiple  = 4
)

// Geometry describes the flash of the target. It is created by NewGeometry and
// cannot be changed afterwards.
type Geometry struct {
	flashSize uint32
	pageSize  uint32
}

// FlashSize returns the size of the flash in bytes.
func (g Geometry) FlashSize() uint32 { return g.flashSize }

// PageSize returns the size of an erasable page in bytes.
func (g Geometry) PageSize() uint32 { return g.pageSize }

// FlashEnd returns the address just past the end of flash.
func (g Geometry) FlashEnd() uint32 { return FlashBase + g.flashSize }

// Pages returns the number of erasable pages.
func (g Geometry) Pages() int {
	if g.pageSize == 0 {
		return 0
	}
	return int(g.flashSize / g.pageSize)
}

// NewGeometry validates the flash and page sizes and returns the resulting
// geometry. Sizes may be given as decimal or 0x-prefixed hexadecimal strings,
// or as integers. Other prefixes and digit separators are rejected.
func NewGeometry(flashSize, pageSize interface{}) (Geometry, error) {
	flash, err := ParseSize(flashSize)
	if err != nil {
		return Geometry{}, &ConfigError{Field: "flash size", Value: flashSize, Err: err}
	}
	page, err := ParseSize(pageSize)
	if err != nil {
		return Geometry{}, &ConfigError{Field: "page size", Value: pageSize, Err: err}
	}

	if flash%flashSizeMultiple != 0 {
		return Geometry{}, &ConfigError{Field: "flash size", Value: flashSize, Err: ErrFlashSizeAlignment}
	}
	if page%pageSizeMultiple != 0 {
		return Geometry{}, &ConfigError{Field: "page size", Value: pageSize, Err: ErrPageSizeAlignment}
	}
	// A zero page size can never divide the flash into pages.
	if page == 0 || flash%page != 0 {
		return Geometry{}, &ConfigError{Field: "page size", Value: pageSize, Err: ErrFlashPageMismatch}
	}

	g := Geometry{flashSize: flash, pageSize: page}
	pkgLog.Debugf("flash geometry: %d bytes, %d byte pages, end %X", g.flashSize, g.pageSize, g.FlashEnd())
	return g, nil
}

// ParseSize converts a size specification to a byte count. The result must fit
// above FlashBase in the 32 bit address space.
func ParseSize(v interface{}) (uint32, error) {
	var n uint64
	switch v := v.(type) {
	case string:
		u, err := parseSizeString(v)
		if err != nil {
			return 0, ErrInvalidSize
		}
		n = u
	case int:
		if v < 0 {
			return 0, ErrInvalidSize
		}
		n = uint64(v)
	case int64:
		if v < 0 {
			return 0, ErrInvalidSize
		}
		n = uint64(v)
	case int32:
		if v < 0 {
			return 0, ErrInvalidSize
		}
		n = uint64(v)
	case int16:
		if v < 0 {
			return 0, ErrInvalidSize
		}
		n = uint64(v)
	case int8:
		if v < 0 {
			return 0, ErrInvalidSize
		}
		n = uint64(v)
	case uint:
		n = uint64(v)
	case uint64:
		n = v
	case uint32:
		n = uint64(v)
	case uint16:
		n = uint64(v)
	case uint8:
		n = uint64(v)
	default:
		return 0, ErrInvalidSize
	}

	if n > 0xFFFFFFFF-FlashBase {
		return 0, ErrInvalidSize
	}
	return uint32(n), nil
}

// parseSizeString accepts decimal or 0x hexadecimal text. An explicit base is
// used so that 0b, 0o and _ separators are not accepted as they are with base 0.
func parseSizeString(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 32)
	}
	return strconv.ParseUint(s, 10, 32)
}
