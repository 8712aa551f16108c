package core

// Role names one of the three logical snapshot tables.
type Role string

const (
	RoleCurrent      Role = "CURRENT"
	RolePrevious     Role = "PREVIOUS"
	RoleBeforeCensus Role = "BEFORE_CENSUS"
)

func (r Role) String() string { return string(r) }

// SnapshotSpec describes the table backing a role.
type SnapshotSpec struct {
	Role             Role   `json:"role"`
	Table            string `json:"table"`
	Label            string `json:"label"`
	SupportsExtended bool   `json:"supports_extended_fields"`
}

// snapshotRegistry is fixed at compile time. Order is the display order.
var snapshotRegistry = []SnapshotSpec{
	{Role: RoleCurrent, Table: "current_data", Label: "Current", SupportsExtended: true},
	{Role: RolePrevious, Table: "previous_data", Label: "Previous year", SupportsExtended: false},
	{Role: RoleBeforeCensus, Table: "before_census_data", Label: "Before census", SupportsExtended: true},
}

// Snapshots returns the spec of every role in display order.
func Snapshots() []SnapshotSpec {
	out := make([]SnapshotSpec, len(snapshotRegistry))
	copy(out, snapshotRegistry)
	return out
}

// Roles returns every role in display order.
func Roles() []Role {
	out := make([]Role, len(snapshotRegistry))
	for i, s := range snapshotRegistry {
		out[i] = s.Role
	}
	return out
}

// LookupSnapshot returns the spec for role.
// Returns *UnknownRoleError if the role is not registered.
func LookupSnapshot(role Role) (SnapshotSpec, error) {
	for _, s := range snapshotRegistry {
		if s.Role == role {
			return s, nil
		}
	}
	return SnapshotSpec{}, &UnknownRoleError{Role: role}
}

// CheckQuery rejects queries that reference extended fields on a snapshot
// that does not store them, or that reference unknown fields.
func (s SnapshotSpec) CheckQuery(q Query) error {
	check := func(f Field) error {
		spec, ok := f.Spec()
		if !ok {
			return &UnknownFieldError{Field: f}
		}
		if spec.Extended && !s.SupportsExtended {
			return &UnsupportedFieldError{Field: f, Role: s.Role}
		}
		return nil
	}
	for _, d := range q.Dimensions {
		if err := check(d); err != nil {
			return err
		}
	}
	for _, f := range q.Filters {
		if err := check(f.Field); err != nil {
			return err
		}
	}
	return nil
}
