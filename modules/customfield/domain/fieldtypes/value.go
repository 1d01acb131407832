package fieldtypes

import (
	"time"

	"github.com/jacksonlee411/issuefields/modules/customfield/domain/types"
)

// Value is the object form of a custom field value. A nil Value means the
// field is empty. The set of implementations is closed.
type Value interface {
	isValue()
}

type Text string

type Number float64

// Date is a calendar day, held as UTC midnight.
type Date time.Time

type DateTime time.Time

type OptionValue struct {
	Option types.Option
}

// Options is ordered by option sequence.
type Options []types.Option

// Cascade is a cascading select value. Child is only set together with Parent.
type Cascade struct {
	Parent *types.Option
	Child  *types.Option
}

// Labels is sorted and free of duplicates.
type Labels []string

type UserValue struct {
	User types.User
}

type Users []types.User

type GroupValue struct {
	Group types.Group
}

type Groups []types.Group

type Versions []types.Version

type ProjectValue struct {
	Project types.Project
}

func (Text) isValue()         {}
func (Number) isValue()       {}
func (Date) isValue()         {}
func (DateTime) isValue()     {}
func (OptionValue) isValue()  {}
func (Options) isValue()      {}
func (Cascade) isValue()      {}
func (Labels) isValue()       {}
func (UserValue) isValue()    {}
func (Users) isValue()        {}
func (GroupValue) isValue()   {}
func (Groups) isValue()       {}
func (Versions) isValue()     {}
func (ProjectValue) isValue() {}

// OptionIDs returns the ids of every option referenced by an option backed
// value, parents before children.
func OptionIDs(v Value) []int64 {
	switch t := v.(type) {
	case OptionValue:
		return []int64{t.Option.ID}
	case Options:
		out := make([]int64, 0, len(t))
		for _, o := range t {
			out = append(out, o.ID)
		}
		return out
	case Cascade:
		var out []int64
		if t.Parent != nil {
			out = append(out, t.Parent.ID)
		}
		if t.Child != nil {
			out = append(out, t.Child.ID)
		}
		return out
	default:
		return nil
	}
}

// ExprValue converts a value into the form bound to `value` in validation
// expressions.
func ExprValue(v Value) any {
	switch t := v.(type) {
	case nil:
		return nil
	case Text:
		return string(t)
	case Number:
		return float64(t)
	case Date:
		return time.Time(t)
	case DateTime:
		return time.Time(t)
	case OptionValue:
		return t.Option.Value
	case Options:
		out := make([]string, 0, len(t))
		for _, o := range t {
			out = append(out, o.Value)
		}
		return out
	case Cascade:
		m := map[string]any{"parent": "", "child": ""}
		if t.Parent != nil {
			m["parent"] = t.Parent.Value
		}
		if t.Child != nil {
			m["child"] = t.Child.Value
		}
		return m
	case Labels:
		return []string(t)
	case UserValue:
		return t.User.Name
	case Users:
		out := make([]string, 0, len(t))
		for _, u := range t {
			out = append(out, u.Name)
		}
		return out
	case GroupValue:
		return t.Group.Name
	case Groups:
		out := make([]string, 0, len(t))
		for _, g := range t {
			out = append(out, g.Name)
		}
		return out
	case Versions:
		out := make([]string, 0, len(t))
		for _, ver := range t {
			out = append(out, ver.Name)
		}
		return out
	case ProjectValue:
		return t.Project.Key
	default:
		return nil
	}
}
