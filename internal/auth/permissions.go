package auth

import (
	"sort"
	"strings"
)

// CatalogEntry describes a permission the system knows about. Whether it is
// usable is decided by the presence of an active Permission row.
type CatalogEntry struct {
	Name        string
	Code        int
	Group       string
	Description string
}

const (
	PermUserAccountViewer  = "UserAccountViewer"
	PermUserAccountCreator = "UserAccountCreator"
	PermUserAccountEditor  = "UserAccountEditor"
	PermUserAccountAdmin   = "UserAccountAdmin"

	PermSampleModuleViewer  = "SampleModuleViewer"
	PermSampleModuleCreator = "SampleModuleCreator"
	PermSampleModuleEditor  = "SampleModuleEditor"
	PermSampleModuleAdmin   = "SampleModuleAdmin"
)

// SystemGroupAdmin is the built-in administrators group. It cannot be deleted.
const SystemGroupAdmin = "ADMIN"

var BuiltinPermissions = []CatalogEntry{
	{Name: PermUserAccountViewer, Code: 1, Group: "IAM & Admin", Description: "User Account Viewer"},
	{Name: PermUserAccountCreator, Code: 2, Group: "IAM & Admin", Description: "User Account Creator"},
	{Name: PermUserAccountEditor, Code: 3, Group: "IAM & Admin", Description: "User Account Editor"},
	{Name: PermUserAccountAdmin, Code: 4, Group: "IAM & Admin", Description: "User Account Admin"},
	{Name: PermSampleModuleViewer, Code: 11, Group: "Sample Module", Description: "Sample Module Viewer"},
	{Name: PermSampleModuleCreator, Code: 12, Group: "Sample Module", Description: "Sample Module Creator"},
	{Name: PermSampleModuleEditor, Code: 13, Group: "Sample Module", Description: "Sample Module Editor"},
	{Name: PermSampleModuleAdmin, Code: 14, Group: "Sample Module", Description: "Sample Module Admin"},
}

// Catalog is the closed set of permissions and the reserved group names.
type Catalog struct {
	entries      []CatalogEntry
	byName       map[string]CatalogEntry
	systemGroups map[string]struct{}
}

// NewCatalog builds a catalog. Lookups ignore case.
func NewCatalog(entries []CatalogEntry, systemGroups []string) *Catalog {
	c := &Catalog{
		entries:      append([]CatalogEntry(nil), entries...),
		byName:       make(map[string]CatalogEntry, len(entries)),
		systemGroups: make(map[string]struct{}, len(systemGroups)),
	}
	sort.SliceStable(c.entries, func(i, j int) bool { return c.entries[i].Code < c.entries[j].Code })
	for _, e := range entries {
		c.byName[strings.ToUpper(e.Name)] = e
	}
	for _, g := range systemGroups {
		c.systemGroups[strings.ToUpper(strings.TrimSpace(g))] = struct{}{}
	}
	return c
}

// DefaultCatalog returns the built-in permissions with ADMIN as the only system group.
func DefaultCatalog() *Catalog {
	return NewCatalog(BuiltinPermissions, []string{SystemGroupAdmin})
}

func (c *Catalog) Lookup(name string) (CatalogEntry, bool) {
	e, ok := c.byName[strings.ToUpper(strings.TrimSpace(name))]
	return e, ok
}

func (c *Catalog) IsSystemGroup(name string) bool {
	_, ok := c.systemGroups[strings.ToUpper(strings.TrimSpace(name))]
	return ok
}

// Entries lists the catalog ordered by code.
func (c *Catalog) Entries() []CatalogEntry {
	return append([]CatalogEntry(nil), c.entries...)
}
