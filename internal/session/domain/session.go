package domain

// State is the local session cache written once a provisioning run succeeds.
// It is not authoritative; the profile record is. Role is the role name as stored
// on the profile (STUDENT, FACULTY or ADMIN).
type State struct {
	Identifier  string
	Role        string
	DisplayName string
	Email       string
}

// Field names used by session sinks, matching the keys the web client reads.
const (
	FieldIdentifier  = "loginId"
	FieldRole        = "role"
	FieldDisplayName = "name"
	FieldEmail       = "email"
)

// Fields returns st as a flat key/value map.
func (st State) Fields() map[string]string {
	return map[string]string{
		FieldIdentifier:  st.Identifier,
		FieldRole:        st.Role,
		FieldDisplayName: st.DisplayName,
		FieldEmail:       st.Email,
	}
}

// FromFields builds a State from a flat key/value map.
func FromFields(m map[string]string) State {
	return State{
		Identifier:  m[FieldIdentifier],
		Role:        m[FieldRole],
		DisplayName: m[FieldDisplayName],
		Email:       m[FieldEmail],
	}
}
