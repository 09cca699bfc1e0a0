package stm32dfu

// ProgressFunc receives the completion percentage (0 to 100) of an erase or
// program operation. It must return quickly.
type ProgressFunc func(percent float64)

func reportProgress(progress ProgressFunc, done, total uint64) {
	if progress == nil || total == 0 {
		return
	}
	progress(100 * float64(done) / float64(total))
}

func blockCount(size int) int {
	return (size + BlockSize - 1) / BlockSize
}

// block returns block b of the image, zero padded to BlockSize.
func block(image []byte, b int) []byte {
	chunk := make([]byte, BlockSize)
	start := b * BlockSize
	end := start + BlockSize
	if end > len(image) {
		end = len(image)
	}
	copy(chunk, image[start:end])
	return chunk
}

// Erase erases the flash page by page. The loop stops at the first page that
// fails; pages already erased stay erased.
func (c *Conn) Erase(g Geometry, progress ProgressFunc) error {
	if g.pageSize == 0 && g.flashSize != 0 {
		return &ConfigError{Field: "page size", Value: g.pageSize, Err: ErrFlashPageMismatch}
	}
	if err := c.ClearStatus(); err != nil {
		return err
	}

	pkgLog.Infof("erasing %d pages of %d bytes", g.Pages(), g.pageSize)
	end := uint64(FlashBase) + uint64(g.flashSize)
	for addr := uint64(FlashBase); addr < end; addr += uint64(g.pageSize) {
		if err := c.command(0, NewEraseCommand(uint32(addr))); err != nil {
			return &progError{Address: uint32(addr), Err: err}
		}
		reportProgress(progress, addr-FlashBase, uint64(g.flashSize))
	}
	return nil
}

// Program writes the image to the start of flash in BlockSize blocks. The flash
// must have been erased. A failed run leaves the flash partially programmed.
func (c *Conn) Program(image []byte, g Geometry, progress ProgressFunc) error {
	total := blockCount(len(image))
	if uint64(total)*BlockSize > uint64(g.flashSize) {
		return &ImageTooLargeError{ImageSize: len(image), FlashSize: g.flashSize}
	}

	if err := c.command(0, NewSetAddressCommand(FlashBase)); err != nil {
		return &progError{Address: FlashBase, Err: err}
	}

	pkgLog.Infof("programming %d blocks", total)
	for b := 0; b < total; b++ {
		addr := uint32(FlashBase + b*BlockSize)
		if err := c.command(uint16(b+blockOffset), block(image, b)); err != nil {
			return &progError{Address: addr, Err: err}
		}
		pkgLog.Debugf("wrote block %d at %X", b, addr)
		reportProgress(progress, uint64(b), uint64(total))
	}
	if progress != nil {
		progress(100)
	}
	return nil
}
