package fieldtypes

// Kind identifies the value shape a field type produces. Behavior that used to
// be spread across per-type visitors is expressed as switches over Kind.
type Kind int

const (
	KindString Kind = iota + 1
	KindText
	KindNumber
	KindDate
	KindDateTime
	KindSelect
	KindMultiSelect
	KindCascade
	KindLabels
	KindUser
	KindMultiUser
	KindGroup
	KindMultiGroup
	KindVersion
	KindMultiVersion
	KindProject
)

var kindNames = map[Kind]string{
	KindString:       "string",
	KindText:         "text",
	KindNumber:       "number",
	KindDate:         "date",
	KindDateTime:     "datetime",
	KindSelect:       "select",
	KindMultiSelect:  "multiselect",
	KindCascade:      "cascade",
	KindLabels:       "labels",
	KindUser:         "user",
	KindMultiUser:    "multiuser",
	KindGroup:        "group",
	KindMultiGroup:   "multigroup",
	KindVersion:      "version",
	KindMultiVersion: "multiversion",
	KindProject:      "project",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Column names the StoredValue column a kind persists into.
type Column int

const (
	ColumnNone Column = iota
	ColumnString
	ColumnText
	ColumnNumber
	ColumnDate
)

func IsMulti(k Kind) bool {
	switch k {
	case KindMultiSelect, KindLabels, KindMultiUser, KindMultiGroup, KindMultiVersion:
		return true
	default:
		return false
	}
}

func IsOptionBacked(k Kind) bool {
	switch k {
	case KindSelect, KindMultiSelect, KindCascade:
		return true
	default:
		return false
	}
}

// IsSortable reports whether issues can be ordered by a single value of the kind.
func IsSortable(k Kind) bool {
	switch k {
	case KindString, KindNumber, KindDate, KindDateTime, KindSelect, KindCascade,
		KindUser, KindGroup, KindVersion, KindProject:
		return true
	default:
		return false
	}
}

func StoredColumn(k Kind) Column {
	switch k {
	case KindString, KindSelect, KindMultiSelect, KindCascade, KindLabels,
		KindUser, KindMultiUser, KindGroup, KindMultiGroup:
		return ColumnString
	case KindText:
		return ColumnText
	case KindNumber, KindVersion, KindMultiVersion, KindProject:
		return ColumnNumber
	case KindDate, KindDateTime:
		return ColumnDate
	default:
		return ColumnNone
	}
}
