package printer

// deviceConfig is the decoded /config.xml payload. Tape fields are
// absent when no cassette is inserted.
type deviceConfig struct {
	Model              string
	Serial             string
	WLANMAC            string
	CassetteType       int
	MediaLengthInitial float64
	TapeWidthInches    float64
	HasTape            bool
}

// deviceState is the decoded /status.xml payload.
type deviceState struct {
	PrintState string
	JobStage   string
	JobError   string
	Remain     float64
}

const stateIdle = "IDLE"

// The device reports tape width in inches; converting to millimetres
// overshoots some cassette sizes (a 12mm cassette reads as 13mm).
// Readings outside the table pass through unmodified.
var tapeWidthMM = map[int]int{
	10: 9,
	13: 12,
	20: 19,
	26: 25,
	51: 50,
}

func normalizeTapeWidth(mm int) int {
	if normalized, ok := tapeWidthMM[mm]; ok {
		return normalized
	}
	return mm
}

// DeviceStatus merges the device configuration and live status into
// the view callers act on. It is derived fresh on every query; the
// physical state can change between queries.
type DeviceStatus struct {
	Model        string
	Serial       string
	WLANMAC      string
	State        string
	JobStage     string
	JobError     string
	TapePresent  bool
	CassetteType int
	TapeWidthMM  int
	TapeTotalMM  int
	TapeRemainMM int
}

func (s *DeviceStatus) Idle() bool {
	return s.State == stateIdle
}

func decodeConfigPayload(data string) (*deviceConfig, error) {
	cfg := &deviceConfig{}

	var ok bool
	if cfg.Model, ok = xmlString("model_name", data); !ok {
		return nil, protocolErr("config payload missing model_name", []byte(data))
	}
	if cfg.Serial, ok = xmlString("serial_number", data); !ok {
		return nil, protocolErr("config payload missing serial_number", []byte(data))
	}
	if cfg.WLANMAC, ok = xmlString("wlan0_mac_address", data); !ok {
		return nil, protocolErr("config payload missing wlan0_mac_address", []byte(data))
	}

	// Tape fields are reported only with a cassette inserted.
	cassette, haveCassette := xmlInt("cassette_type", data)
	width, haveWidth := xmlFloat("width_inches", data)
	length, haveLength := xmlFloat("media_length_initial", data)

	if haveCassette && haveWidth && width > 0 {
		cfg.CassetteType = cassette
		cfg.TapeWidthInches = width
		cfg.HasTape = true
		if haveLength {
			cfg.MediaLengthInitial = length
		}
	}

	return cfg, nil
}

func decodeStatePayload(data string) (*deviceState, error) {
	st := &deviceState{}

	var ok bool
	if st.PrintState, ok = xmlString("print_state", data); !ok {
		return nil, protocolErr("status payload missing print_state", []byte(data))
	}
	if st.JobStage, ok = xmlString("print_job_stage", data); !ok {
		return nil, protocolErr("status payload missing print_job_stage", []byte(data))
	}
	if st.JobError, ok = xmlString("print_job_error", data); !ok {
		return nil, protocolErr("status payload missing print_job_error", []byte(data))
	}

	st.Remain = -1
	if remain, ok := xmlFloat("remain", data); ok {
		st.Remain = remain
	}

	return st, nil
}

func mergeStatus(cfg *deviceConfig, st *deviceState) *DeviceStatus {
	status := &DeviceStatus{
		Model:    cfg.Model,
		Serial:   cfg.Serial,
		WLANMAC:  cfg.WLANMAC,
		State:    st.PrintState,
		JobStage: st.JobStage,
		JobError: st.JobError,
	}

	if cfg.HasTape {
		status.TapePresent = true
		status.CassetteType = cfg.CassetteType
		status.TapeWidthMM = normalizeTapeWidth(int(cfg.TapeWidthInches * 25.4))
	}

	// Lengths come back in tenths of inches.
	if cfg.HasTape && cfg.MediaLengthInitial > 0 && st.Remain >= 0 {
		status.TapeTotalMM = int(cfg.MediaLengthInitial * 2.54)
		status.TapeRemainMM = int(st.Remain * 2.54)
	}

	return status
}

// StatusReport is the JSON shape of a status query, shared by the CLI
// and the REST API.
type StatusReport struct {
	Connected bool          `json:"connected"`
	Device    *DeviceInfo   `json:"device,omitempty"`
	Tape      *TapeInfo     `json:"tape,omitempty"`
	Status    *PrinterState `json:"status,omitempty"`
}

type DeviceInfo struct {
	Model   string `json:"model"`
	Serial  string `json:"serial"`
	WLANMAC string `json:"wlan_mac"`
}

type TapeInfo struct {
	Present  bool `json:"present"`
	Type     int  `json:"type,omitempty"`
	WidthMM  int  `json:"width_mm,omitempty"`
	TotalMM  int  `json:"total_mm,omitempty"`
	RemainMM int  `json:"remain_mm,omitempty"`
}

type PrinterState struct {
	State    string `json:"state"`
	JobStage string `json:"job_stage"`
	JobError string `json:"job_error"`
	Idle     bool   `json:"idle"`
}

func (s *DeviceStatus) Report() *StatusReport {
	report := &StatusReport{
		Connected: true,
		Device: &DeviceInfo{
			Model:   s.Model,
			Serial:  s.Serial,
			WLANMAC: s.WLANMAC,
		},
		Tape: &TapeInfo{Present: s.TapePresent},
		Status: &PrinterState{
			State:    s.State,
			JobStage: s.JobStage,
			JobError: s.JobError,
			Idle:     s.Idle(),
		},
	}

	if s.TapePresent {
		report.Tape.Type = s.CassetteType
		report.Tape.WidthMM = s.TapeWidthMM
		report.Tape.TotalMM = s.TapeTotalMM
		report.Tape.RemainMM = s.TapeRemainMM
	}

	return report
}
