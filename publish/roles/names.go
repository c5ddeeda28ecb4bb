// Package roles owns the canonical role-name table, the declarative role
// table for the four contracts and the provisioner that applies it on chain.
package roles

import (
	"sort"

	"github.com/Vaios0x/JeonseVault-sub002/publish"
	"github.com/Vaios0x/JeonseVault-sub002/publish/contracts"
)

// DefaultAdmin is OpenZeppelin's DEFAULT_ADMIN_ROLE. Its id is zero, not the
// hash of its name.
const DefaultAdmin = "DEFAULT_ADMIN_ROLE"

var (
	byName = map[string]publish.RoleID{}
	byID   = map[publish.RoleID]string{}
	// declared maps each kind to the role names its contract declares.
	declared = map[publish.Kind]map[string]bool{}
)

func init() {
	register(DefaultAdmin, publish.RoleID{})
	for _, d := range contracts.Definitions() {
		declared[d.Kind] = map[string]bool{DefaultAdmin: true}
		for _, name := range d.Roles {
			register(name, publish.RoleIDFromName(name))
			declared[d.Kind][name] = true
		}
	}
}

func register(name string, id publish.RoleID) {
	if prev, ok := byID[id]; ok && prev != name {
		panic("roles: id collision between " + prev + " and " + name)
	}
	byName[name] = id
	byID[id] = name
}

// ID looks a role name up in the canonical table.
func ID(name string) (publish.RoleID, error) {
	id, ok := byName[name]
	if !ok {
		return publish.RoleID{}, publish.Configf("unknown role %q", name)
	}
	return id, nil
}

func MustID(name string) publish.RoleID {
	id, err := ID(name)
	if err != nil {
		panic(err)
	}
	return id
}

// Name returns the canonical name of id, or its hex form if it is unknown.
func Name(id publish.RoleID) string {
	if name, ok := byID[id]; ok {
		return name
	}
	return id.Hex()
}

// IsAdmin reports whether id is an administrative role.
func IsAdmin(id publish.RoleID) bool {
	return id.IsZero()
}

// Declares reports whether the contract of kind declares the named role.
func Declares(kind publish.Kind, name string) bool {
	return declared[kind][name]
}

// Names returns every known role name, sorted.
func Names() []string {
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
