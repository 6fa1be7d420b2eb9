package world

import "time"

// Well-known object IDs. The root object is the only object allowed to have
// no parents; #config carries runtime-tunable settings readable from G.
const (
	RootID     = "#object"
	ConfigID   = "#config"
	UserID     = "#user"
	CommandsID = "#commands"
)

// Role is an account privilege level.
type Role string

const (
	RolePlayer  Role = "player"
	RoleBuilder Role = "builder"
	RoleWizard  Role = "wizard"
	RoleAdmin   Role = "admin"
)

// ValidRole reports whether s names a known role.
func ValidRole(s string) bool {
	switch Role(s) {
	case RolePlayer, RoleBuilder, RoleWizard, RoleAdmin:
		return true
	}
	return false
}

// Object is a node in the world graph. Attribute values are G values; a G
// source fragment is stored as an ordinary string and distinguished only by
// being invoked.
type Object struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name" json:"name"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	ParentIDs   []string         `yaml:"parentIds,omitempty" json:"parentIds,omitempty"`
	Attributes  map[string]Value `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	LocationID  string           `yaml:"locationId,omitempty" json:"locationId,omitempty"`
	ContentIDs  []string         `yaml:"contentIds,omitempty" json:"contentIds,omitempty"`
	OwnerID     string           `yaml:"ownerId,omitempty" json:"ownerId,omitempty"`
	CreatedAt   time.Time        `yaml:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt   time.Time        `yaml:"updatedAt,omitempty" json:"updatedAt,omitempty"`

	// Transient objects live only in the cache (session user objects).
	Transient bool `yaml:"-" json:"-"`
}

// Clone returns a deep copy of the object. The cache mutates only clones so
// readers can keep using the snapshot they were handed.
func (o *Object) Clone() *Object {
	c := *o
	c.ParentIDs = append([]string(nil), o.ParentIDs...)
	c.ContentIDs = append([]string(nil), o.ContentIDs...)
	if o.Attributes != nil {
		c.Attributes = make(map[string]Value, len(o.Attributes))
		for k, v := range o.Attributes {
			c.Attributes[k] = CloneValue(v)
		}
	}
	return &c
}

// Attr returns the attribute defined on this object itself (no inheritance).
// The name and description fields read as attributes of the same name; an
// entry in the attribute map shadows them.
func (o *Object) Attr(name string) (Value, bool) {
	if o.Attributes != nil {
		if v, ok := o.Attributes[name]; ok {
			return v, true
		}
	}
	switch name {
	case "name":
		if o.Name != "" {
			return o.Name, true
		}
	case "description":
		if o.Description != "" {
			return o.Description, true
		}
	}
	return nil, false
}

// AddContent appends id to the content set if not already present.
func (o *Object) AddContent(id string) {
	for _, c := range o.ContentIDs {
		if c == id {
			return
		}
	}
	o.ContentIDs = append(o.ContentIDs, id)
}

// RemoveContent drops id from the content set.
func (o *Object) RemoveContent(id string) {
	for i, c := range o.ContentIDs {
		if c == id {
			o.ContentIDs = append(o.ContentIDs[:i], o.ContentIDs[i+1:]...)
			return
		}
	}
}

// Account is a durable login identity. Stored separately from the world;
// world objects never reference accounts except via the reverse link
// (character object ID listed in CharacterIDs).
type Account struct {
	ID           string
	Email        string
	LoginID      string
	PasswordHash []byte
	DisplayName  string
	CharacterIDs []string
	Roles        []Role
	CreatedAt    time.Time
	LastLoginAt  time.Time
}

// HasRole reports whether the account carries the given role.
func (a *Account) HasRole(r Role) bool {
	for _, have := range a.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// AddRole grants a role if not already held.
func (a *Account) AddRole(r Role) {
	if !a.HasRole(r) {
		a.Roles = append(a.Roles, r)
	}
}

// RemoveRole revokes a role.
func (a *Account) RemoveRole(r Role) {
	for i, have := range a.Roles {
		if have == r {
			a.Roles = append(a.Roles[:i], a.Roles[i+1:]...)
			return
		}
	}
}

// HasCharacter reports whether id is one of the account's characters.
func (a *Account) HasCharacter(id string) bool {
	for _, c := range a.CharacterIDs {
		if c == id {
			return true
		}
	}
	return false
}
