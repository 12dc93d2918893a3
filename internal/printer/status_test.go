package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configPayload(extra string) string {
	return configPayloadPrefix +
		"<model_name>VC-500W</model_name>\n" +
		"<serial_number>A1B2C3</serial_number>\n" +
		"<wlan0_mac_address>00:11:22:33:44:55</wlan0_mac_address>\n" +
		extra +
		"</config>\n"
}

func statePayload(state, stage, jobErr, extra string) string {
	return statusPayloadPrefix +
		"<print_state>" + state + "</print_state>\n" +
		"<print_job_stage>" + stage + "</print_job_stage>\n" +
		"<print_job_error>" + jobErr + "</print_job_error>\n" +
		extra +
		"</status>\n"
}

func TestDecodeConfigPayload(t *testing.T) {
	t.Parallel()

	cfg, err := decodeConfigPayload(configPayload(
		"<cassette_type>1</cassette_type>\n" +
			"<width_inches>0.98</width_inches>\n" +
			"<media_length_initial>196.85</media_length_initial>\n"))
	require.NoError(t, err)

	assert.Equal(t, "VC-500W", cfg.Model)
	assert.Equal(t, "A1B2C3", cfg.Serial)
	assert.Equal(t, "00:11:22:33:44:55", cfg.WLANMAC)
	assert.True(t, cfg.HasTape)
	assert.Equal(t, 1, cfg.CassetteType)
	assert.InDelta(t, 0.98, cfg.TapeWidthInches, 0.001)
	assert.InDelta(t, 196.85, cfg.MediaLengthInitial, 0.001)
}

func TestDecodeConfigPayloadNoTape(t *testing.T) {
	t.Parallel()

	cfg, err := decodeConfigPayload(configPayload(""))
	require.NoError(t, err)
	assert.False(t, cfg.HasTape)
	assert.Zero(t, cfg.TapeWidthInches)
}

func TestDecodeConfigPayloadMissingIdentity(t *testing.T) {
	t.Parallel()

	_, err := decodeConfigPayload(configPayloadPrefix + "<serial_number>X</serial_number>\n</config>\n")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeStatePayload(t *testing.T) {
	t.Parallel()

	st, err := decodeStatePayload(statePayload("IDLE", "NONE", "NO_ERROR", "<remain>118.1</remain>\n"))
	require.NoError(t, err)
	assert.Equal(t, "IDLE", st.PrintState)
	assert.Equal(t, "NONE", st.JobStage)
	assert.Equal(t, "NO_ERROR", st.JobError)
	assert.InDelta(t, 118.1, st.Remain, 0.001)

	st, err = decodeStatePayload(statePayload("PRINTING", "FEEDING", "NO_ERROR", ""))
	require.NoError(t, err)
	assert.Equal(t, float64(-1), st.Remain, "remain is optional")

	_, err = decodeStatePayload(statusPayloadPrefix + "<print_state>IDLE</print_state>\n</status>\n")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestNormalizeTapeWidth(t *testing.T) {
	t.Parallel()

	// The device reports widths in inches; straight conversion lands a
	// millimetre or two high for known cassettes.
	assert.Equal(t, 12, normalizeTapeWidth(13))
	assert.Equal(t, 9, normalizeTapeWidth(10))
	assert.Equal(t, 19, normalizeTapeWidth(20))
	assert.Equal(t, 25, normalizeTapeWidth(26))
	assert.Equal(t, 50, normalizeTapeWidth(51))
	assert.Equal(t, 24, normalizeTapeWidth(24), "unknown widths pass through")
}

func TestMergeStatusTapeConversion(t *testing.T) {
	t.Parallel()

	// 0.52in reads as 13mm and must normalize to the 12mm cassette.
	cfg := &deviceConfig{
		Model: "VC-500W", Serial: "A1", WLANMAC: "00:11",
		HasTape: true, CassetteType: 1, TapeWidthInches: 0.52, MediaLengthInitial: 196.85,
	}
	st := &deviceState{PrintState: "IDLE", JobStage: "NONE", JobError: "NO_ERROR", Remain: 118.1}

	status := mergeStatus(cfg, st)
	assert.Equal(t, 1, status.CassetteType)
	assert.Equal(t, 12, status.TapeWidthMM)
	assert.Equal(t, 499, status.TapeTotalMM, "196.85 tenths of inches")
	assert.Equal(t, 299, status.TapeRemainMM, "118.1 tenths of inches")
	assert.True(t, status.Idle())
}

func TestMergeStatusNoTape(t *testing.T) {
	t.Parallel()

	cfg := &deviceConfig{Model: "VC-500W", Serial: "A1", WLANMAC: "00:11"}
	st := &deviceState{PrintState: "PRINTING", JobStage: "FEEDING", JobError: "NO_ERROR", Remain: -1}

	status := mergeStatus(cfg, st)
	assert.False(t, status.TapePresent)
	assert.Zero(t, status.TapeWidthMM)
	assert.False(t, status.Idle())
}

func TestStatusReportShape(t *testing.T) {
	t.Parallel()

	status := &DeviceStatus{
		Model: "VC-500W", Serial: "A1", WLANMAC: "00:11",
		State: "IDLE", JobStage: "NONE", JobError: "NO_ERROR",
		TapePresent: true, TapeWidthMM: 12, TapeTotalMM: 500, TapeRemainMM: 300,
	}

	report := status.Report()
	require.NotNil(t, report.Device)
	require.NotNil(t, report.Tape)
	require.NotNil(t, report.Status)
	assert.True(t, report.Connected)
	assert.Equal(t, "VC-500W", report.Device.Model)
	assert.Equal(t, 12, report.Tape.WidthMM)
	assert.True(t, report.Status.Idle)
}
