package ingest

import "github.com/lumenworks/lumen/pkg/sync"

// ReservationSet records storage-relative paths belonging to uploads
// that are mid-flight and therefore invisible to the database. The
// janitor consults it before treating a file as orphaned.
type ReservationSet struct {
	paths sync.TypedSyncMap[string, struct{}]
}

func NewReservationSet() *ReservationSet {
	return &ReservationSet{}
}

// Reserve marks the given relative paths as in-flight.
func (set *ReservationSet) Reserve(paths ...string) {
	for _, path := range paths {
		set.paths.Store(path, struct{}{})
	}
}

// Release drops the reservation for the given relative paths.
func (set *ReservationSet) Release(paths ...string) {
	for _, path := range paths {
		set.paths.Delete(path)
	}
}

// IsReserved reports whether the relative path is currently held by an
// in-flight upload.
func (set *ReservationSet) IsReserved(path string) bool {
	_, found := set.paths.Load(path)
	return found
}
