package job

import "strings"

// DefaultGroup is used when a job or trigger does not name a group.
const DefaultGroup = "Default"

// Key identifies a job within the store.
type Key struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// NewKey trims both parts and applies DefaultGroup for an empty group.
func NewKey(name, group string) Key {
	group = strings.TrimSpace(group)
	if group == "" {
		group = DefaultGroup
	}
	return Key{Name: strings.TrimSpace(name), Group: group}
}

func (k Key) IsZero() bool { return k.Name == "" }

// String renders the key as "group.name".
func (k Key) String() string { return k.Group + "." + k.Name }

// Less orders keys by group, then name.
func (k Key) Less(o Key) bool {
	if k.Group != o.Group {
		return k.Group < o.Group
	}
	return k.Name < o.Name
}

// TriggerKey identifies a trigger within the store.
type TriggerKey struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

func NewTriggerKey(name, group string) TriggerKey {
	k := NewKey(name, group)
	return TriggerKey{Name: k.Name, Group: k.Group}
}

// TriggerKeyFor returns the conventional "{name}_trigger" key for a job.
func TriggerKeyFor(k Key) TriggerKey {
	return TriggerKey{Name: k.Name + "_trigger", Group: k.Group}
}

func (k TriggerKey) IsZero() bool   { return k.Name == "" }
func (k TriggerKey) String() string { return k.Group + "." + k.Name }

func (k TriggerKey) Less(o TriggerKey) bool {
	if k.Group != o.Group {
		return k.Group < o.Group
	}
	return k.Name < o.Name
}
