package notes

// press is the in-flight state of one key between key-down and the moment
// its note is finalized. At most one exists per key.
type press struct {
	key     string
	down    float64
	release float64

	// delay is the creation deferral in ms; zero for immediate notes.
	delay   float64
	start   float64
	noteID  string
	created bool

	released            bool
	releasedBeforeStart bool
}

func startTimerKey(key string) string { return "start:" + key }

func finalizeTimerKey(noteID string) string { return "finalize:" + noteID }
