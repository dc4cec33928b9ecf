package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot partitions written by the snapshotting SQL
// backends, one row per bucket.
var Buckets = []string{"donors", "migrations", "submissions", "registrations", "settings"}

func (s *Snapshot) bucket(name string) (any, bool) {
	switch name {
	case "donors":
		return &s.Donors, true
	case "migrations":
		return &s.Migrations, true
	case "submissions":
		return &s.Submissions, true
	case "registrations":
		return &s.Registrations, true
	case "settings":
		return &s.Settings, true
	}
	return nil, false
}

// EncodeBuckets renders every bucket of the snapshot as JSON.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, name := range Buckets {
		target, _ := snapshot.bucket(name)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// DecodeBucket loads one bucket payload into the snapshot. Unknown buckets and
// empty payloads are ignored.
func (s *Snapshot) DecodeBucket(name string, payload []byte) error {
	target, ok := s.bucket(name)
	if !ok || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
