package protocol

// Status classifies the raw integer a simulation call returns.
type Status int

const (
	StatusOK Status = 0

	// Incident errors.
	StatusIncidentWrongIniTime   Status = -8001
	StatusIncidentWrongPosition  Status = -8002
	StatusIncidentUnknownLane    Status = -8003
	StatusIncidentUnknownSection Status = -8004
	StatusIncidentNotPresent     Status = -8005
	StatusIncidentWrongLength    Status = -8006
	StatusIncidentWrongDuration  Status = -8007

	// Network information errors.
	StatusInfNetGetMem          Status = -5001
	StatusInfUnknownID          Status = -5002
	StatusInfUnknownTurning     Status = -5003
	StatusInfUnknownFromSection Status = -5004
	StatusInfUnknownToSection   Status = -5005
	StatusInfNoPath             Status = -5006

	StatusUnknownError Status = -9999
	StatusAPIFailure   Status = -1
)

var statusNames = map[Status]string{ //nolint:gochecknoglobals // read-only lookup table
	StatusOK:                     "OK",
	StatusIncidentWrongIniTime:   "INCIDENT_WRONG_INITIME",
	StatusIncidentWrongPosition:  "INCIDENT_WRONG_POSITION",
	StatusIncidentUnknownLane:    "INCIDENT_UNKNOWN_LANE",
	StatusIncidentUnknownSection: "INCIDENT_UNKNOWN_SECTION",
	StatusIncidentNotPresent:     "INCIDENT_NOT_PRESENT",
	StatusIncidentWrongLength:    "INCIDENT_WRONG_LENGTH",
	StatusIncidentWrongDuration:  "INCIDENT_WRONG_DURATION",
	StatusInfNetGetMem:           "INF_NET_GET_MEM",
	StatusInfUnknownID:           "INF_UNKNOWN_ID",
	StatusInfUnknownTurning:      "INF_UNKNOWN_TURNING",
	StatusInfUnknownFromSection:  "INF_UNKNOWN_FROM_SECTION",
	StatusInfUnknownToSection:    "INF_UNKNOWN_TO_SECTION",
	StatusInfNoPath:              "INF_NO_PATH",
	StatusUnknownError:           "UNKNOWN_ERROR",
	StatusAPIFailure:             "API_FAILURE",
}

// StatusFromCode classifies a raw simulation return code. Known codes map to
// their status, other negative codes to StatusUnknownError, and anything
// non-negative to StatusOK.
func StatusFromCode(code int) Status {
	if code >= 0 {
		return StatusOK
	}
	s := Status(code)
	if _, ok := statusNames[s]; ok {
		return s
	}
	return StatusUnknownError
}

// OK reports whether s is a success.
func (s Status) OK() bool { return s == StatusOK }

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN_ERROR"
}
