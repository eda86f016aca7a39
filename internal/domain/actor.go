package domain

// Actor identifies who performed an operation, for audit attribution.
type Actor struct {
	ID   string
	Role string
}

// SystemActor attributes mutations performed by the service itself, such as
// automated abandonment cleanup.
var SystemActor = Actor{ID: "system", Role: "system"}
