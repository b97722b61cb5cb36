package input

// KeyMap renames source keys to track keys. An empty map passes every key
// through unchanged; otherwise unmapped keys are dropped.
type KeyMap map[string]string

func (m KeyMap) Map(e Event) (Event, bool) {
	if len(m) == 0 {
		return e, true
	}
	k, ok := m[e.Key]
	if !ok {
		return Event{}, false
	}
	e.Key = k
	return e, true
}

// Filter wraps h so it only sees mapped events.
func (m KeyMap) Filter(h Handler) Handler {
	return func(e Event) {
		if mapped, ok := m.Map(e); ok {
			h(mapped)
		}
	}
}

// IndexMap names keypad buttons by position.
type IndexMap []string

func (m IndexMap) Key(i int) (string, bool) {
	if i < 0 || i >= len(m) || m[i] == "" {
		return "", false
	}
	return m[i], true
}
