package stm32dfu

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// Unwritten gaps between HEX segments keep the erased flash value.
const erasedByte = 0xFF

// LoadImageFile reads a firmware image. Files with a .hex or .ihex extension are
// parsed as Intel HEX; anything else is taken as a raw binary starting at
// FlashBase.
func LoadImageFile(fileName string) ([]byte, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".hex", ".ihex":
		return LoadHex(file)
	default:
		return ioutil.ReadAll(file)
	}
}

// LoadHex parses Intel HEX data and returns the flash image it describes,
// starting at FlashBase.
func LoadHex(r io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "failed to parse hex")
	}

	end := uint32(FlashBase)
	for _, segment := range mem.GetDataSegments() {
		if segment.Address < FlashBase {
			return nil, errors.Errorf("data segment at address %X is below flash", segment.Address)
		}
		if e := segment.Address + uint32(len(segment.Data)); e > end {
			end = e
		}
		pkgLog.Debugf("loaded segment at %X length %v", segment.Address, len(segment.Data))
	}
	return mem.ToBinary(FlashBase, end-FlashBase, erasedByte), nil
}
