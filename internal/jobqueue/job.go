// Package jobqueue enumerates .job files under a directory and hands
// them out to job workers one at a time.
package jobqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Job describes one .job input file. Each Job is created once during
// directory enumeration, dequeued by exactly one worker for its
// lifetime, and discarded afterward.
type Job struct {
	Path string // full path to the .job file
	Stem string // Path with only the ".job" suffix stripped (directory kept)

	mu          sync.Mutex
	snapshotSeq int
}

func newJob(path string) *Job {
	stem := strings.TrimSuffix(path, ".job")
	return &Job{Path: path, Stem: stem, snapshotSeq: 1}
}

// NextBackupPath returns "<stem>-<n>.bck" for the job's next snapshot
// and advances the per-job counter, starting at 1.
func (j *Job) NextBackupPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	path := fmt.Sprintf("%s-%d.bck", j.Stem, j.snapshotSeq)
	j.snapshotSeq++
	return path
}

// OutputPath is the job's "<stem>.out" result file.
func (j *Job) OutputPath() string {
	return j.Stem + ".out"
}

// Queue is the mutex-protected ordered sequence of Jobs; its length is
// the total number of files enumerated.
type Queue struct {
	mu   sync.Mutex
	jobs []*Job
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enumerate recursively walks dir once, creating a Job for every
// regular file whose name ends in ".job" and appending it to the
// queue. "." and ".." are implicitly skipped by filepath.WalkDir.
func (q *Queue) Enumerate(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".job") {
			q.mu.Lock()
			q.jobs = append(q.jobs, newJob(path))
			q.mu.Unlock()
		}
		return nil
	})
}

// Len reports the number of jobs currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Dequeue pops the front Job, or returns nil if the queue is empty.
func (q *Queue) Dequeue() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j
}
