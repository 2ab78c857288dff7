package luxmeter

import (
	"errors"

	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/tsl2561"
)

// ExitCode is the process exit status. Values are stable across releases so
// field logs stay comparable; zero is reserved for success and all values
// fit in a byte.
type ExitCode int

const (
	ExitCodeSuccess = ExitCode(0)

	ExitCodeTermHandlerSigTerm = ExitCode(1)

	ExitCodeSensorTimerConsume    = ExitCode(2)
	ExitCodeTelemetryTimerConsume = ExitCode(3)

	ExitCodePowerUpFailed = ExitCode(4)

	ExitCodeReadWhoAmIIDRead    = ExitCode(5)
	ExitCodeReadWhoAmIInvalidID = ExitCode(6)

	ExitCodeInitConfig    = ExitCode(7)
	ExitCodeInitStatusLed = ExitCode(8)
	ExitCodeInitDatabase  = ExitCode(9)
	ExitCodeInitTelemetry = ExitCode(10)
	ExitCodeInitTiming    = ExitCode(11)

	ExitCodeInitOpenMaster       = ExitCode(17)
	ExitCodeInitSetBusSpeed      = ExitCode(18)
	ExitCodeInitSetTimeout       = ExitCode(19)
	ExitCodeInitSetDefaultTarget = ExitCode(20)

	ExitCodeMainEventLoopFail = ExitCode(21)
	ExitCodeInitUnknown       = ExitCode(22)
)

func (c ExitCode) String() string {
	switch c {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeTermHandlerSigTerm:
		return "TermHandler_SigTerm"
	case ExitCodeSensorTimerConsume:
		return "SensorTimer_Consume"
	case ExitCodeTelemetryTimerConsume:
		return "TelemetryTimer_Consume"
	case ExitCodePowerUpFailed:
		return "PowerUpFailed"
	case ExitCodeReadWhoAmIIDRead:
		return "ReadWhoAmI_IDRead"
	case ExitCodeReadWhoAmIInvalidID:
		return "ReadWhoAmI_InvalidID"
	case ExitCodeInitConfig:
		return "Init_Config"
	case ExitCodeInitStatusLed:
		return "Init_StatusLed"
	case ExitCodeInitDatabase:
		return "Init_Database"
	case ExitCodeInitTelemetry:
		return "Init_Telemetry"
	case ExitCodeInitTiming:
		return "Init_Timing"
	case ExitCodeInitOpenMaster:
		return "Init_OpenMaster"
	case ExitCodeInitSetBusSpeed:
		return "Init_SetBusSpeed"
	case ExitCodeInitSetTimeout:
		return "Init_SetTimeout"
	case ExitCodeInitSetDefaultTarget:
		return "Init_SetDefaultTarget"
	case ExitCodeMainEventLoopFail:
		return "Main_EventLoopFail"
	case ExitCodeInitUnknown:
		return "Init_Unknown"
	default:
		return "Unknown"
	}
}

// ExitCodeFor maps a session initialization error to its exit code.
func ExitCodeFor(err error) ExitCode {
	switch {
	case err == nil:
		return ExitCodeSuccess
	case errors.Is(err, i2cbus.ErrOpenFailed):
		return ExitCodeInitOpenMaster
	case errors.Is(err, i2cbus.ErrBusSpeedRejected):
		return ExitCodeInitSetBusSpeed
	case errors.Is(err, i2cbus.ErrTimeoutRejected):
		return ExitCodeInitSetTimeout
	case errors.Is(err, i2cbus.ErrDefaultAddressRejected):
		return ExitCodeInitSetDefaultTarget
	case errors.Is(err, tsl2561.ErrPowerUpFailed):
		return ExitCodePowerUpFailed
	case errors.Is(err, tsl2561.ErrIdentityReadFailed):
		return ExitCodeReadWhoAmIIDRead
	case errors.Is(err, tsl2561.ErrIdentityMismatch):
		return ExitCodeReadWhoAmIInvalidID
	case errors.Is(err, ErrTimingFailed):
		return ExitCodeInitTiming
	default:
		return ExitCodeInitUnknown
	}
}
