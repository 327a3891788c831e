package campus

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/warp/reservation-engine/factory"
	"github.com/warp/reservation-engine/generic"
)

// =============================================================================
// DEMO CAMPUS - Used by `reservectl seed` and the server's -demo flag
// =============================================================================

//go:embed catalog.json
var demoCatalogJSON []byte

// DemoCatalog parses the embedded catalog. Entries without a policy use
// the kind presets above.
func DemoCatalog() ([]generic.Resource, error) {
	resources, err := factory.NewPolicyFactory().ParseCatalog(demoCatalogJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to parse demo catalog: %w", err)
	}
	return resources, nil
}

// DemoUsers returns one user per role.
func DemoUsers() []generic.User {
	return []generic.User{
		{ID: "stu-ada", Name: "Ada Student", Role: generic.RoleStudent, Location: "main"},
		{ID: "stu-ben", Name: "Ben Student", Role: generic.RoleStudent, Location: "main"},
		{ID: "stu-cho", Name: "Cho Student", Role: generic.RoleStudent, Location: "north"},
		{ID: "fac-dia", Name: "Dia Faculty", Role: generic.RoleFaculty, Location: "science"},
		{ID: "stf-eli", Name: "Eli Staff", Role: generic.RoleStaff, Location: "main"},
		{ID: "lib-fay", Name: "Fay Librarian", Role: generic.RoleLibrarian, Location: "main"},
		{ID: "lm-gus", Name: "Gus Lab Manager", Role: generic.RoleLabManager, Location: "eng"},
		{ID: "hod-hal", Name: "Hal Head of Department", Role: generic.RoleHeadOfDepartment, Location: "science"},
		{ID: "adm-ivy", Name: "Ivy Admin", Role: generic.RoleAdmin, Location: "main"},
	}
}

// DemoToken is the QR token printed on a demo resource.
func DemoToken(id generic.ResourceID) string {
	return "qr-" + strings.ToLower(string(id))
}
