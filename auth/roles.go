package auth

// Portal role names as issued by the backend.
const (
	RoleAdmin              = "admin"
	RoleSuperadmin         = "superadmin"
	RolePimpinan           = "pimpinan"
	RoleKaprodi            = "kaprodi"
	RoleDosen              = "dosen"
	RoleDosenPembimbing    = "dosen_pembimbing"
	RolePembimbingLapangan = "pembimbing_lapangan"
	RoleMahasiswa          = "mahasiswa"
	RoleAlumni             = "alumni"
)

// rolePriority orders roles for the primary-role decision: admin tier first,
// then institutional roles by seniority, then the lecturer family, then field
// supervisors, then students and alumni.
var rolePriority = []string{
	RoleAdmin,
	RoleSuperadmin,
	RolePimpinan,
	RoleKaprodi,
	RoleDosen,
	RoleDosenPembimbing,
	RolePembimbingLapangan,
	RoleMahasiswa,
	RoleAlumni,
}

// roleRoutes maps a primary role to its landing route.
var roleRoutes = map[string]string{
	RoleAdmin:              "/admin",
	RoleSuperadmin:         "/admin",
	RolePimpinan:           "/pimpinan",
	RoleKaprodi:            "/kaprodi",
	RoleDosen:              "/dosen",
	RoleDosenPembimbing:    "/dosen",
	RolePembimbingLapangan: "/pembimbing-lapangan",
	RoleMahasiswa:          "/mahasiswa",
	RoleAlumni:             "/mahasiswa",
}

var studentRoles = map[string]bool{
	RoleMahasiswa: true,
	RoleAlumni:    true,
}

var lecturerRoles = map[string]bool{
	RolePimpinan:           true,
	RoleKaprodi:            true,
	RoleDosen:              true,
	RoleDosenPembimbing:    true,
	RolePembimbingLapangan: true,
}

var adminRoles = map[string]bool{
	RoleAdmin:      true,
	RoleSuperadmin: true,
}

// PrimaryRole returns the first role from the priority list present in the
// given set, defaulting to mahasiswa.
func PrimaryRole(roles []string) string {
	present := make(map[string]bool, len(roles))
	for _, r := range roles {
		present[r] = true
	}
	for _, r := range rolePriority {
		if present[r] {
			return r
		}
	}
	return RoleMahasiswa
}

// RouteForRole returns the landing route for a primary role, falling back to
// the portal root.
func RouteForRole(role string) string {
	if route, ok := roleRoutes[role]; ok {
		return route
	}
	return "/"
}

// LoginModes derives the set of personas a role set can log in as. Admin-tier
// roles yield no mode because they bypass disambiguation entirely.
func LoginModes(roles []string) []LoginMode {
	var modes []LoginMode
	student, lecturer := false, false
	for _, r := range roles {
		if adminRoles[r] {
			return nil
		}
		if studentRoles[r] {
			student = true
		}
		if lecturerRoles[r] {
			lecturer = true
		}
	}
	if lecturer {
		modes = append(modes, ModeLecturer)
	}
	if student {
		modes = append(modes, ModeStudent)
	}
	return modes
}

// RouteForMode returns the landing route for an explicitly chosen persona.
func RouteForMode(mode LoginMode) string {
	switch mode {
	case ModeStudent:
		return roleRoutes[RoleMahasiswa]
	case ModeLecturer:
		return roleRoutes[RoleDosen]
	}
	return "/"
}

// IsAdminTier reports whether any role short-circuits routing to the admin
// dashboard.
func IsAdminTier(roles []string) bool {
	for _, r := range roles {
		if adminRoles[r] {
			return true
		}
	}
	return false
}
