// Package jobstore persists settlement jobs. The orchestrator owns all
// atomicity (claims, dedup); a Store is a plain keyed container.
package jobstore

import (
	"encoding/json"

	"ixtrade/domain/settlement"
)

type Store interface {
	// Get returns settlement.ErrJobNotFound for unknown ids.
	Get(id string) (*settlement.Job, error)
	Put(job *settlement.Job) error
	// Archive keeps a dead-lettered generation before it is replaced.
	Archive(job *settlement.Job) error
	// Archived lists archived generations of id, oldest first.
	Archived(id string) ([]*settlement.Job, error)
	// Scan visits every live job.
	Scan(fn func(*settlement.Job) error) error
	Close() error
}

func encodeJob(j *settlement.Job) ([]byte, error) {
	return json.Marshal(j)
}

func decodeJob(b []byte) (*settlement.Job, error) {
	var j settlement.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
