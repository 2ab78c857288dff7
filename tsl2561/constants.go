package tsl2561

const (
	TSL2561_ADDR uint16 = 0x39 ///< Default I2C address (ADDR SEL floating)

	TSL2561_EXPECTED_ID byte = 0x50 ///< High nibble of the ID register for a TSL2561
	TSL2561_ID_PART     byte = 0xF0 ///< Part number bits of the ID register
	TSL2561_ID_REVISION byte = 0x0F ///< Revision bits of the ID register

	TSL2561_CONTROL_POWERON  byte = 0x03 ///< Value written to the CONTROL register to power up
	TSL2561_CONTROL_POWEROFF byte = 0x00 ///< Value written to the CONTROL register to power down
)

// Command register bits
const (
	TSL2561_CMD_SELECT          byte = 0x80 ///< Select command register, must be 1
	TSL2561_CMD_CLEAR_INTERRUPT byte = 0x40 ///< Clear any pending interrupt
	TSL2561_CMD_WORD            byte = 0x20 ///< Read/write word protocol
	TSL2561_CMD_BLOCK           byte = 0x10 ///< Block read/write protocol, unused

	TSL2561_CMD_PREFIX byte = TSL2561_CMD_SELECT | TSL2561_CMD_CLEAR_INTERRUPT | TSL2561_CMD_WORD
	TSL2561_CMD_ADDR   byte = 0x0F ///< Register address bits
)

// Register is an addressable TSL2561 register.
type Register byte

// TSL2561 Register map
const (
	RegControl          Register = 0x00 // Control of basic functions
	RegTiming           Register = 0x01 // Integration time/gain control
	RegThreshLowLow     Register = 0x02 // Low byte of low interrupt threshold
	RegThreshLowHigh    Register = 0x03 // High byte of low interrupt threshold
	RegThreshHighLow    Register = 0x04 // Low byte of high interrupt threshold
	RegThreshHighHigh   Register = 0x05 // High byte of high interrupt threshold
	RegInterruptControl Register = 0x06 // Interrupt control
	RegID               Register = 0x0A // Part number / Rev ID
	RegData0Low         Register = 0x0C // Low byte of ADC channel 0
	RegData0High        Register = 0x0D // High byte of ADC channel 0
	RegData1Low         Register = 0x0E // Low byte of ADC channel 1
	RegData1High        Register = 0x0F // High byte of ADC channel 1
)

func (r Register) String() string {
	switch r {
	case RegControl:
		return "CONTROL"
	case RegTiming:
		return "TIMING"
	case RegThreshLowLow:
		return "THRESHLOWLOW"
	case RegThreshLowHigh:
		return "THRESHLOWHIGH"
	case RegThreshHighLow:
		return "THRESHHIGHLOW"
	case RegThreshHighHigh:
		return "THRESHHIGHHIGH"
	case RegInterruptControl:
		return "INTERRUPT"
	case RegID:
		return "ID"
	case RegData0Low:
		return "DATA0LOW"
	case RegData0High:
		return "DATA0HIGH"
	case RegData1Low:
		return "DATA1LOW"
	case RegData1High:
		return "DATA1HIGH"
	default:
		return "Unknown"
	}
}

// Constants for adjusting the sensor integration timing
const (
	TSL2561_INTEGRATIONTIME_13MS  byte = 0x00 // 13.7 millis
	TSL2561_INTEGRATIONTIME_101MS byte = 0x01 // 101 millis
	TSL2561_INTEGRATIONTIME_402MS byte = 0x02 // 402 millis
)

// Constants for adjusting the sensor gain
const (
	TSL2561_GAIN_LOW  byte = 0x00 /// low gain (1x)
	TSL2561_GAIN_HIGH byte = 0x10 /// high gain (16x)
)

// Spectrum selectors for GetNormalizedOutput
const (
	TSL2561_VISIBLE      byte = 2 ///< channel 0 - channel 1
	TSL2561_INFRARED     byte = 1 ///< channel 1
	TSL2561_FULLSPECTRUM byte = 0 ///< channel 0
)

func IntegrationTimeToString(value byte) string {
	switch value {
	case TSL2561_INTEGRATIONTIME_13MS:
		return "13.7ms"
	case TSL2561_INTEGRATIONTIME_101MS:
		return "101ms"
	case TSL2561_INTEGRATIONTIME_402MS:
		return "402ms"
	default:
		return "Unknown"
	}
}

func GainToString(value byte) string {
	switch value {
	case TSL2561_GAIN_LOW:
		return "Low gain (1x)"
	case TSL2561_GAIN_HIGH:
		return "High gain (16x)"
	default:
		return "Unknown"
	}
}
