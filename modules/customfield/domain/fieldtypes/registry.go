package fieldtypes

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	KeyTextField       = "textfield"
	KeyTextArea        = "textarea"
	KeyReadOnly        = "readonlyfield"
	KeyURL             = "url"
	KeyFloat           = "float"
	KeyDatePicker      = "datepicker"
	KeyDateTime        = "datetime"
	KeySelect          = "select"
	KeyRadioButtons    = "radiobuttons"
	KeyMultiSelect     = "multiselect"
	KeyMultiCheckboxes = "multicheckboxes"
	KeyCascadingSelect = "cascadingselect"
	KeyLabels          = "labels"
	KeyUserPicker      = "userpicker"
	KeyMultiUserPicker = "multiuserpicker"
	KeyGroupPicker     = "grouppicker"
	KeyMultiGroup      = "multigrouppicker"
	KeyVersion         = "version"
	KeyMultiVersion    = "multiversion"
	KeyProject         = "project"
)

type Registry struct {
	order   []string
	types   map[string]FieldType
	enabled map[string]bool
	names   map[string]Descriptor
}

// NewRegistry registers every built-in field type, all enabled.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		types:   map[string]FieldType{},
		enabled: map[string]bool{},
		names:   map[string]Descriptor{},
	}
	loc := deps.location
	d := func(key string, kind Kind, name, desc, category string) Descriptor {
		return Descriptor{Key: key, Kind: kind, Name: name, Description: desc, Category: category}
	}

	r.register(newTextType(d(KeyTextField, KindString, "Text Field (single line)", "A basic single line text box.", CategoryStandard), MaxStringLength, false))
	r.register(newTextType(d(KeyTextArea, KindText, "Text Field (multi-line)", "A multiline text area.", CategoryStandard), MaxTextLength, false))
	ro := d(KeyReadOnly, KindString, "Text Field (read only)", "A read-only text label, set once through the API.", CategoryAdvanced)
	ro.ReadOnly = true
	r.register(newTextType(ro, MaxStringLength, false))
	r.register(newTextType(d(KeyURL, KindString, "URL Field", "A field that holds a URL.", CategoryStandard), MaxStringLength, true))
	r.register(&numberType{desc: d(KeyFloat, KindNumber, "Number Field", "A field that holds a floating point number.", CategoryStandard)})
	r.register(&dateType{desc: d(KeyDatePicker, KindDate, "Date Picker", "A calendar day.", CategoryStandard), loc: loc, now: deps.now})
	r.register(&dateType{desc: d(KeyDateTime, KindDateTime, "Date Time Picker", "A date and a time of day.", CategoryStandard), withTime: true, loc: loc, now: deps.now})
	r.register(&selectType{desc: d(KeySelect, KindSelect, "Select List (single choice)", "Choose one option from a list.", CategoryStandard), options: deps.Options})
	r.register(&selectType{desc: d(KeyRadioButtons, KindSelect, "Radio Buttons", "Choose one option with radio buttons.", CategoryStandard), options: deps.Options})
	r.register(&selectType{desc: d(KeyMultiSelect, KindMultiSelect, "Select List (multiple choices)", "Choose several options from a list.", CategoryStandard), multi: true, options: deps.Options})
	r.register(&selectType{desc: d(KeyMultiCheckboxes, KindMultiSelect, "Checkboxes", "Choose several options with checkboxes.", CategoryStandard), multi: true, options: deps.Options})
	r.register(&cascadeType{desc: d(KeyCascadingSelect, KindCascade, "Select List (cascading)", "Choose a parent option, then a child option.", CategoryStandard), options: deps.Options})
	r.register(&labelsType{desc: d(KeyLabels, KindLabels, "Labels", "Free form words attached to an issue.", CategoryStandard), labels: deps.Labels})
	r.register(&userType{desc: d(KeyUserPicker, KindUser, "User Picker (single user)", "Choose one user.", CategoryStandard), users: deps.Users})
	r.register(&userType{desc: d(KeyMultiUserPicker, KindMultiUser, "User Picker (multiple users)", "Choose several users.", CategoryStandard), multi: true, users: deps.Users})
	r.register(&groupType{desc: d(KeyGroupPicker, KindGroup, "Group Picker (single group)", "Choose one group.", CategoryAdvanced), groups: deps.Groups})
	r.register(&groupType{desc: d(KeyMultiGroup, KindMultiGroup, "Group Picker (multiple groups)", "Choose several groups.", CategoryAdvanced), multi: true, groups: deps.Groups})
	r.register(&versionType{desc: d(KeyVersion, KindVersion, "Version Picker (single version)", "Choose one version of the issue's project.", CategoryAdvanced), versions: deps.Versions})
	r.register(&versionType{desc: d(KeyMultiVersion, KindMultiVersion, "Version Picker (multiple versions)", "Choose several versions of the issue's project.", CategoryAdvanced), multi: true, versions: deps.Versions})
	r.register(&projectType{desc: d(KeyProject, KindProject, "Project Picker (single project)", "Choose a project.", CategoryAdvanced), projects: deps.Projects})
	return r
}

func (r *Registry) register(ft FieldType) {
	key := ft.Descriptor().Key
	r.order = append(r.order, key)
	r.types[key] = ft
	r.enabled[key] = true
}

// Lookup returns a built-in field type, enabled or not. Existing fields keep
// working after their type is disabled in the catalog.
func (r *Registry) Lookup(key string) (FieldType, bool) {
	ft, ok := r.types[strings.ToLower(strings.TrimSpace(key))]
	return ft, ok
}

// Enabled reports whether new fields of the type may be created.
func (r *Registry) Enabled(key string) bool {
	return r.enabled[strings.ToLower(strings.TrimSpace(key))]
}

// Descriptors lists enabled types in registration order, with catalog
// display overrides applied.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		if !r.enabled[key] {
			continue
		}
		d := r.types[key].Descriptor()
		if o, ok := r.names[key]; ok {
			if o.Name != "" {
				d.Name = o.Name
			}
			if o.Description != "" {
				d.Description = o.Description
			}
		}
		out = append(out, d)
	}
	return out
}

type Catalog struct {
	Version    int            `yaml:"version"`
	FieldTypes []CatalogEntry `yaml:"field_types"`
}

type CatalogEntry struct {
	Key         string `yaml:"key"`
	Enabled     *bool  `yaml:"enabled"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

func ParseCatalogYAML(b []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Catalog{}, err
	}
	if c.Version != 1 {
		return Catalog{}, errors.New("catalog: unsupported version")
	}
	seen := map[string]bool{}
	for i, e := range c.FieldTypes {
		key := strings.ToLower(strings.TrimSpace(e.Key))
		if key == "" {
			return Catalog{}, fmt.Errorf("catalog: entry %d missing key", i)
		}
		if seen[key] {
			return Catalog{}, fmt.Errorf("catalog: duplicate key %q", key)
		}
		seen[key] = true
		c.FieldTypes[i].Key = key
	}
	return c, nil
}

func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return ParseCatalogYAML(b)
}

// Restrict enables exactly the catalog entries (entries default to enabled)
// and applies their display names.
func (r *Registry) Restrict(c Catalog) error {
	for _, e := range c.FieldTypes {
		if _, ok := r.types[e.Key]; !ok {
			return fmt.Errorf("catalog: unknown field type %q", e.Key)
		}
	}
	enabled := map[string]bool{}
	names := map[string]Descriptor{}
	for _, e := range c.FieldTypes {
		enabled[e.Key] = e.Enabled == nil || *e.Enabled
		names[e.Key] = Descriptor{Name: e.Name, Description: e.Description}
	}
	r.enabled = enabled
	r.names = names
	return nil
}
