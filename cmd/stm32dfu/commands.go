package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/amrbekhit/stm32dfu"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update <image>",
	Short: "Erase the device, program an image and start it",
	Long: `Erase the whole flash, program the image from the start of flash and leave
DFU mode. Files ending in .hex are read as Intel HEX, anything else as a raw
binary.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase the flash page by page",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := stm32dfu.NewGeometry(profile.FlashSize, profile.PageSize)
		if err != nil {
			return err
		}
		return withConn(func(c *stm32dfu.Conn) error {
			obs := newLogObserver()
			if err := c.Erase(g, obs.OnProgress); err != nil {
				return errors.Wrap(err, "failed to erase")
			}
			log.Infof("erased %d pages", g.Pages())
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the DFU status of the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(c *stm32dfu.Conn) error {
			status, err := c.GetStatus()
			return printStatus(os.Stdout, status, err)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the device error status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConn(func(c *stm32dfu.Conn) error {
			return c.ClearStatus()
		})
	},
}

// printStatus prints a status read by GetStatus. A device fault still carries
// a status worth printing; any other error means nothing was read.
func printStatus(w io.Writer, status stm32dfu.Status, err error) error {
	var fault *stm32dfu.DeviceFaultError
	if err != nil && !errors.As(err, &fault) {
		return err
	}
	fmt.Fprintf(w, "status: %v\nstate: %v\npoll timeout: %v\n", status.Code, status.State, status.PollTimeout)
	return err
}

func runUpdate(cmd *cobra.Command, args []string) error {
	image, err := stm32dfu.LoadImageFile(args[0])
	if err != nil {
		return errors.Wrap(err, "failed to load image")
	}
	log.Infof("image loaded: %d bytes", len(image))

	if err := runHook("before", before); err != nil {
		return err
	}

	updater := stm32dfu.NewUpdater(
		stm32dfu.NewUSBTransport(timeout),
		stm32dfu.WithFilter(filter()),
		stm32dfu.WithObserver(newLogObserver()),
		stm32dfu.WithConnOptions(connOptions()...),
	)
	result, err := updater.Run(image, profile.FlashSize, profile.PageSize)
	if err != nil {
		var fault *stm32dfu.DeviceFaultError
		if errors.As(err, &fault) {
			log.Warnf("device is in state %v; run clear before retrying", fault.State)
		}
		return err
	}
	log.Info(result)

	return runHook("after", after)
}

// withConn opens the device the same way an update does and runs fn on it.
func withConn(fn func(*stm32dfu.Conn) error) error {
	h, err := stm32dfu.NewUSBTransport(timeout).Open(filter())
	if err != nil {
		return errors.Wrapf(err, "failed to open %v", filter())
	}
	defer h.Close()

	if err := h.SelectConfiguration(1); err != nil {
		return errors.Wrap(err, "failed to select configuration")
	}
	if err := h.ClaimInterface(0); err != nil {
		return errors.Wrap(err, "failed to claim interface")
	}
	return fn(stm32dfu.NewConn(h, connOptions()...))
}

// logObserver reports update progress through logrus, logging progress in 10%
// steps.
type logObserver struct {
	lastStep int
}

func newLogObserver() *logObserver {
	return &logObserver{lastStep: -1}
}

func (o *logObserver) OnStage(stage stm32dfu.Stage) {
	o.lastStep = -1
	log.Infof("%s...", stage)
}

func (o *logObserver) OnProgress(percent float64) {
	step := int(math.Floor(percent / 10))
	if step == o.lastStep {
		return
	}
	o.lastStep = step
	log.Infof("%3.0f%%", percent)
}

func (o *logObserver) OnDisconnect() {
	log.Debug("device disconnected")
}
