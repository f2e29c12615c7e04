package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artificial-imagination/tamaki/internal/config"
	"github.com/artificial-imagination/tamaki/internal/i2c"
	"github.com/artificial-imagination/tamaki/internal/style"
	"github.com/artificial-imagination/tamaki/internal/tca9548a"
	"github.com/artificial-imagination/tamaki/internal/tlv493d"
)

var (
	scanAddresses bool
	scanSensor    uint8
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	GroupID: GroupDiag,
	Short:   "Probe the mux channels for sensors",
	Long: `Walks every multiplexer channel and tries to initialize and read
a TLV493D there, then probes the direct bus. This is how new sensors
get mapped to [[sensors]] blocks after wiring.

--addresses sweeps the whole 7-bit address range on each channel
instead, for finding devices at unexpected addresses.

Examples:
  tamaki scan
  tamaki scan --addresses
  tamaki scan --sensor-address 0x1F`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanAddresses, "addresses", false, "Sweep all addresses 0x03-0x77 per channel")
	scanCmd.Flags().Uint8Var(&scanSensor, "sensor-address", config.DefaultSensorAddress, "Sensor address to try")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	bus, err := i2c.Open(cfg.Bus.Device)
	if err != nil {
		return fmt.Errorf("opening %s: %w (is I2C enabled?)", cfg.Bus.Device, err)
	}
	defer bus.Close()

	mux := tca9548a.New(bus, cfg.Bus.MuxAddress)
	fmt.Printf("Scanning %s (mux %#02x)...\n\n", cfg.Bus.Device, cfg.Bus.MuxAddress)

	if scanAddresses {
		return scanAddressSweep(mux)
	}
	return scanSensors(bus, mux)
}

// scanSensors runs the detection that actually matters for this rig:
// a full TLV493D init and read per channel, then the direct bus.
func scanSensors(bus i2c.Bus, mux *tca9548a.Mux) error {
	found := 0
	for ch := 0; ch < tca9548a.Channels; ch++ {
		channel, err := mux.Channel(ch)
		if err != nil {
			return err
		}
		if probeSensor(fmt.Sprintf("channel %d", ch), channel) {
			found++
		}
	}
	if probeSensor("direct bus", bus) {
		found++
	}

	fmt.Printf("\n%d sensor(s) detected\n", found)
	if found > 0 {
		fmt.Printf("%s\n", style.Dim.Render("map them to [[sensors]] blocks in config.toml"))
	}
	return nil
}

func probeSensor(label string, bus i2c.Bus) bool {
	sensor, err := tlv493d.New(bus, scanSensor)
	if err != nil {
		fmt.Printf("  %-12s %s\n", label+":", style.Dim.Render("no sensor"))
		return false
	}
	reading, err := sensor.Magnetic()
	if err != nil {
		fmt.Printf("  %-12s %s TLV493D at %#02x but read failed: %v\n",
			label+":", style.WarningPrefix, scanSensor, err)
		return true
	}
	fmt.Printf("  %-12s %s TLV493D at %#02x (x=%.3f y=%.3f z=%.3f)\n",
		label+":", style.SuccessPrefix, scanSensor, reading.X, reading.Y, reading.Z)
	return true
}

// scanAddressSweep probes every address on every channel.
func scanAddressSweep(mux *tca9548a.Mux) error {
	for ch := 0; ch < tca9548a.Channels; ch++ {
		found, err := mux.Scan(ch)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Printf("  channel %d: %s\n", ch, style.Dim.Render("none"))
			continue
		}
		line := ""
		for _, addr := range found {
			line += fmt.Sprintf(" %#02x", addr)
		}
		fmt.Printf("  channel %d:%s\n", ch, line)
	}
	return nil
}
