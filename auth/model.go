package auth

import "time"

// TokenResponse is the JSON shape shared by the exchange and refresh
// endpoints of the portal backend.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// TokenSet is the stored form of a token response. ExpiresAt is fixed at the
// moment the response is received and never recomputed.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Live reports whether the access token is still usable at t.
func (ts TokenSet) Live(t time.Time) bool {
	return ts.AccessToken != "" && t.Before(ts.ExpiresAt)
}

// StudentRecord carries the student-specific part of a profile.
type StudentRecord struct {
	NIM          string `json:"nim,omitempty"`
	StudyProgram string `json:"study_program,omitempty"`
	Cohort       string `json:"cohort,omitempty"`
}

// LecturerRecord carries the lecturer-specific part of a profile.
type LecturerRecord struct {
	NIDN       string `json:"nidn,omitempty"`
	Department string `json:"department,omitempty"`
	Position   string `json:"position,omitempty"`
}

// AdminRecord carries the admin-specific part of a profile.
type AdminRecord struct {
	Unit string `json:"unit,omitempty"`
}

// Profile is the normalized "who am I" answer used for every routing
// decision after login.
type Profile struct {
	Subject     string          `json:"sub"`
	Email       string          `json:"email,omitempty"`
	Name        string          `json:"name,omitempty"`
	Roles       []string        `json:"roles"`
	Student     *StudentRecord  `json:"student,omitempty"`
	Lecturer    *LecturerRecord `json:"lecturer,omitempty"`
	Admin       *AdminRecord    `json:"admin,omitempty"`
	PrimaryRole string          `json:"primary_role"`
}

// HasRole reports whether the profile carries the given role.
func (p Profile) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// LoginMode is the persona a multi-role account chooses between after
// authentication.
type LoginMode string

const (
	ModeStudent  LoginMode = "mahasiswa"
	ModeLecturer LoginMode = "dosen"
)
