package types

// Identity identifies who started an operation.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Type        string `json:"type,omitempty"`
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return i.ID == ""
}
