package stm32dfu

import (
	"log"
	"time"
)

type printObserver struct{}

func (printObserver) OnStage(s Stage)      { log.Printf("%s...", s) }
func (printObserver) OnProgress(p float64) {}
func (printObserver) OnDisconnect()        { log.Print("disconnected") }

func Example() {
	// Load the image to program
	image, err := LoadImageFile("firmware.bin")
	if err != nil {
		log.Fatal(err)
	}

	// Create an updater that reaches the bootloader over USB
	updater := NewUpdater(NewUSBTransport(5*time.Second),
		WithFilter(STBootloader),
		WithObserver(printObserver{}),
	)

	// Flash geometry of an STM32F103C8: 64 KiB of flash in 1 KiB pages
	result, err := updater.Run(image, "0x10000", "0x400")
	if err != nil {
		log.Fatal(err)
	}
	log.Print(result)
}
