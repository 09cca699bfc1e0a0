package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"os/exec"
	"time"

	"github.com/amrbekhit/stm32dfu"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

const appVersion = "0.3.0"

// deviceProfile describes the target device. Sizes may be integers or strings
// such as "0x20000".
type deviceProfile struct {
	VendorID  uint16      `yaml:"vid"`
	ProductID uint16      `yaml:"pid"`
	FlashSize interface{} `yaml:"flashsize"`
	PageSize  interface{} `yaml:"pagesize"`
}

var (
	vendorID        uint16
	productID       uint16
	profileFile     string
	flashSize       string
	pageSize        string
	fullPollTimeout bool
	verbose         bool
	timeout         time.Duration
	before          string
	after           string

	profile = deviceProfile{
		VendorID:  stm32dfu.STBootloader.VendorID,
		ProductID: stm32dfu.STBootloader.ProductID,
	}
)

var rootCmd = &cobra.Command{
	Use:   "stm32dfu",
	Short: "Flash STM32 devices through the ROM DFU bootloader",
	Long: `stm32dfu erases and programs the flash of an STM32 running its ROM DFU
bootloader over USB.

The device geometry is read from a yaml profile and may be overridden by flags.
Example profile:

` + exampleProfile(),
	Version:           appVersion,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Uint16Var(&vendorID, "vid", stm32dfu.STBootloader.VendorID, "USB vendor ID.")
	flags.Uint16Var(&productID, "pid", stm32dfu.STBootloader.ProductID, "USB product ID, 0 matches any product.")
	flags.StringVar(&profileFile, "profile", "", "Device profile yaml file.")
	flags.StringVar(&flashSize, "flash-size", "", "Flash size in bytes, decimal or 0x hex.")
	flags.StringVar(&pageSize, "page-size", "", "Flash page size in bytes, decimal or 0x hex.")
	flags.BoolVar(&fullPollTimeout, "full-poll-timeout", false, "Read the 24 bit DFU 1.1 poll timeout instead of its low byte.")
	flags.DurationVar(&timeout, "timeout", 5*time.Second, "USB control transfer timeout.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging.")

	updateCmd.Flags().StringVar(&before, "before", "", "Command to run before programming.")
	updateCmd.Flags().StringVar(&after, "after", "", "Command to run after programming has been completed successfully.")

	rootCmd.AddCommand(updateCmd, eraseCmd, statusCmd, clearCmd)
}

// exampleProfile formats the default profile in yaml.
func exampleProfile() string {
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.Encode(deviceProfile{
		VendorID:  stm32dfu.STBootloader.VendorID,
		ProductID: stm32dfu.STBootloader.ProductID,
		FlashSize: "0x20000",
		PageSize:  "0x80",
	})
	return buf.String()
}

func setup(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
	stm32dfu.SetLogger(log.StandardLogger())

	if profileFile != "" {
		f, err := ioutil.ReadFile(profileFile)
		if err != nil {
			return errors.Wrap(err, "failed to open profile file")
		}
		if err := yaml.Unmarshal(f, &profile); err != nil {
			return errors.Wrap(err, "failed to parse profile file")
		}
	}

	flags := cmd.Flags()
	if flags.Changed("vid") || profileFile == "" {
		profile.VendorID = vendorID
	}
	if flags.Changed("pid") || profileFile == "" {
		profile.ProductID = productID
	}
	if flashSize != "" {
		profile.FlashSize = flashSize
	}
	if pageSize != "" {
		profile.PageSize = pageSize
	}
	log.Debugf("profile: %+v", profile)
	return nil
}

func filter() stm32dfu.Filter {
	return stm32dfu.Filter{VendorID: profile.VendorID, ProductID: profile.ProductID}
}

func connOptions() []stm32dfu.ConnOption {
	if fullPollTimeout {
		return []stm32dfu.ConnOption{stm32dfu.WithFullPollTimeout()}
	}
	return nil
}

func runHook(name, command string) error {
	if command == "" {
		return nil
	}
	log.Infof("running %s command...", name)
	if err := exec.Command(command).Run(); err != nil {
		return errors.Wrapf(err, "failed to run %s command", name)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
