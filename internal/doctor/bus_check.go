package doctor

import (
	"errors"
	"io/fs"
	"os"
	"runtime"
)

// BusCheck verifies the I2C device node exists and is openable. A
// missing node usually means the I2C interface is disabled; a
// permission error means the user is not in the i2c group.
type BusCheck struct {
	BaseCheck
}

func NewBusCheck() *BusCheck {
	return &BusCheck{
		BaseCheck: BaseCheck{
			CheckName:        "i2c-bus",
			CheckDescription: "Check the I2C device node exists and is openable",
		},
	}
}

func (c *BusCheck) Run(ctx *CheckContext) *CheckResult {
	if ctx.Config == nil {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "Skipped (no config)",
		}
	}
	device := ctx.Config.Bus.Device

	if runtime.GOOS != "linux" {
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusWarning,
			Message: "I2C only available on Linux; sensors will not read here",
			Details: []string{"Running on " + runtime.GOOS},
		}
	}

	f, err := os.OpenFile(device, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &CheckResult{
				Name:    c.Name(),
				Status:  StatusError,
				Message: device + " does not exist",
				FixHint: "Enable the I2C interface: sudo raspi-config → Interface Options → I2C",
			}
		}
		if errors.Is(err, fs.ErrPermission) {
			return &CheckResult{
				Name:    c.Name(),
				Status:  StatusError,
				Message: device + " not openable: permission denied",
				FixHint: "Add the user to the i2c group: sudo usermod -aG i2c $USER (re-login after)",
			}
		}
		return &CheckResult{
			Name:    c.Name(),
			Status:  StatusError,
			Message: device + " not openable",
			Details: []string{err.Error()},
		}
	}
	_ = f.Close()

	return &CheckResult{
		Name:    c.Name(),
		Status:  StatusOK,
		Message: device + " openable",
	}
}
