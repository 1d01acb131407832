package types

import "time"

// Level distinguishes the rows of hierarchical values. Non-hierarchical
// field types only use LevelParent.
type Level int

const (
	LevelParent Level = 0
	LevelChild  Level = 1
)

func (l Level) String() string {
	if l == LevelChild {
		return "child"
	}
	return "parent"
}

// StoredValue is one persisted custom field value row.
type StoredValue struct {
	Level  Level      `json:"level"`
	String string     `json:"string"`
	Number *float64   `json:"number"`
	Text   string     `json:"text"`
	Date   *time.Time `json:"date"`
}

func StringRow(level Level, s string) StoredValue {
	return StoredValue{Level: level, String: s}
}

func NumberRow(n float64) StoredValue {
	return StoredValue{Number: &n}
}

func DateRow(t time.Time) StoredValue {
	return StoredValue{Date: &t}
}

func CloneStoredValues(in []StoredValue) []StoredValue {
	if in == nil {
		return nil
	}
	out := make([]StoredValue, 0, len(in))
	for _, row := range in {
		cp := row
		if row.Number != nil {
			n := *row.Number
			cp.Number = &n
		}
		if row.Date != nil {
			d := *row.Date
			cp.Date = &d
		}
		out = append(out, cp)
	}
	return out
}
