// Package crawlerdb persists every resource URL scrapr has visited.
package crawlerdb

// Resource is a visited page. IDs are assigned by the database and never
// reused; a URL appears at most once.
type Resource struct {
	ID  int64  `db:"id" json:"id"`
	URL string `db:"url" json:"url"`
}

// Outcome reports what Record did with a URL.
type Outcome int

const (
	// Unknown is returned alongside an error; nothing is known about url.
	Unknown Outcome = iota
	// Inserted means the URL was new and is now recorded.
	Inserted
	// AlreadyPresent means the URL had been recorded before.
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}
