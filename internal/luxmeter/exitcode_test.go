package luxmeter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ztkent/tsl2561-meter/internal/i2cbus"
	"github.com/ztkent/tsl2561-meter/tsl2561"
)

func TestExitCodeValues(t *testing.T) {
	tests := []struct {
		code ExitCode
		want int
		name string
	}{
		{ExitCodeSuccess, 0, "Success"},
		{ExitCodeTermHandlerSigTerm, 1, "TermHandler_SigTerm"},
		{ExitCodeSensorTimerConsume, 2, "SensorTimer_Consume"},
		{ExitCodeTelemetryTimerConsume, 3, "TelemetryTimer_Consume"},
		{ExitCodePowerUpFailed, 4, "PowerUpFailed"},
		{ExitCodeReadWhoAmIIDRead, 5, "ReadWhoAmI_IDRead"},
		{ExitCodeReadWhoAmIInvalidID, 6, "ReadWhoAmI_InvalidID"},
		{ExitCodeInitConfig, 7, "Init_Config"},
		{ExitCodeInitStatusLed, 8, "Init_StatusLed"},
		{ExitCodeInitDatabase, 9, "Init_Database"},
		{ExitCodeInitTelemetry, 10, "Init_Telemetry"},
		{ExitCodeInitTiming, 11, "Init_Timing"},
		{ExitCodeInitOpenMaster, 17, "Init_OpenMaster"},
		{ExitCodeInitSetBusSpeed, 18, "Init_SetBusSpeed"},
		{ExitCodeInitSetTimeout, 19, "Init_SetTimeout"},
		{ExitCodeInitSetDefaultTarget, 20, "Init_SetDefaultTarget"},
		{ExitCodeMainEventLoopFail, 21, "Main_EventLoopFail"},
		{ExitCodeInitUnknown, 22, "Init_Unknown"},
	}
	seen := map[ExitCode]bool{}
	for _, tt := range tests {
		assert.Equal(t, tt.want, int(tt.code))
		assert.Equal(t, tt.name, tt.code.String())
		assert.False(t, seen[tt.code], "duplicate %d", tt.want)
		seen[tt.code] = true
	}
	assert.Equal(t, "Unknown", ExitCode(99).String())
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want ExitCode
	}{
		{nil, ExitCodeSuccess},
		{fmt.Errorf("%w: boom", i2cbus.ErrOpenFailed), ExitCodeInitOpenMaster},
		{fmt.Errorf("%w: boom", i2cbus.ErrBusSpeedRejected), ExitCodeInitSetBusSpeed},
		{fmt.Errorf("%w: boom", i2cbus.ErrTimeoutRejected), ExitCodeInitSetTimeout},
		{fmt.Errorf("%w: boom", i2cbus.ErrDefaultAddressRejected), ExitCodeInitSetDefaultTarget},
		{fmt.Errorf("%w: %w", tsl2561.ErrPowerUpFailed, i2cbus.ErrTimeout), ExitCodePowerUpFailed},
		{fmt.Errorf("%w: %w", tsl2561.ErrIdentityReadFailed, tsl2561.ErrTransferLengthMismatch), ExitCodeReadWhoAmIIDRead},
		{tsl2561.ErrIdentityMismatch, ExitCodeReadWhoAmIInvalidID},
		{fmt.Errorf("%w: %w", ErrTimingFailed, tsl2561.ErrTransferLengthMismatch), ExitCodeInitTiming},
		{errors.New("something else"), ExitCodeInitUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExitCodeFor(tt.err), "%v", tt.err)
	}
}
