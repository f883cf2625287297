package apply

// Mode selects the progress curve and side effects of an apply.
type Mode string

const (
	// ModeManual is a user-initiated apply. Progress favors UI readability
	// and the terminal state lingers before resetting.
	ModeManual Mode = "manual"

	// ModeAutoRetry is an automated remediation apply. It adds the content
	// stability gate, tracker milestones, and the deployment handoff.
	ModeAutoRetry Mode = "auto"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	return m == ModeManual || m == ModeAutoRetry
}

// Phase is the coordinator's position in the pipeline. Phases advance
// monotonically within a run; Idle means no run is active.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseValidating    Phase = "validating"
	PhaseStabilizing   Phase = "stabilizing"
	PhaseUpdatingState Phase = "updating_state"
	PhasePersisting    Phase = "persisting"
	PhaseReconciling   Phase = "reconciling"
	PhaseDeployHandoff Phase = "deploy_handoff"
)

// Progress is the externally visible progress of an apply.
type Progress struct {
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// curve holds the fixed progress points of a mode. Store-reported save
// progress is remapped into the [persistLo, persistHi] band so the bar
// never jumps backwards around the persistence step.
type curve struct {
	validating int
	stability  int
	stateDone  int
	persistLo  int
	persistHi  int
	prefix     string
}

var (
	manualCurve = curve{
		validating: 10,
		stateDone:  25,
		persistLo:  25,
		persistHi:  85,
	}

	autoCurve = curve{
		validating: 20,
		stability:  40,
		stateDone:  70,
		persistLo:  70,
		persistHi:  80,
		prefix:     "Auto-fix: ",
	}
)

func curveFor(mode Mode) curve {
	if mode == ModeAutoRetry {
		return autoCurve
	}
	return manualCurve
}

// bandPercent maps a store-reported percent in [0, 100] into the curve's
// persistence band.
func (c curve) bandPercent(storePercent int) int {
	if storePercent < 0 {
		storePercent = 0
	}
	if storePercent > 100 {
		storePercent = 100
	}
	span := c.persistHi - c.persistLo
	return c.persistLo + storePercent*span/100
}

// message applies the mode's prefix to a progress message.
func (c curve) message(s string) string {
	return c.prefix + s
}
