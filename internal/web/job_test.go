package web

import (
	"testing"
	"time"
)

func TestJobLifecycle(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("https://youtu.be/abc")

	if job.Status != StatusPending {
		t.Errorf("new job status = %q", job.Status)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("new job should have no start/complete timestamps")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.Status = StatusRunning })
	got, err := jm.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StartedAt == nil {
		t.Error("running job should have a start timestamp")
	}
	if got.CompletedAt != nil {
		t.Error("running job should not have a completion timestamp")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.Status = StatusCompleted })
	got, _ = jm.GetJob(job.ID)
	if got.CompletedAt == nil {
		t.Error("completed job should have a completion timestamp")
	}
}

func TestJobSnapshotIsolation(t *testing.T) {
	jm := NewJobManager()
	created := jm.CreateJob("https://youtu.be/abc")

	before, err := jm.GetJob(created.ID)
	if err != nil {
		t.Fatal(err)
	}

	jm.UpdateJob(created.ID, func(j *Job) {
		j.Status = StatusRunning
		j.Stage = "searching"
	})

	// A snapshot taken earlier must not change under the reader
	if before.Status != StatusPending || before.Stage != "" {
		t.Errorf("earlier snapshot mutated: status=%q stage=%q", before.Status, before.Stage)
	}

	after, _ := jm.GetJob(created.ID)
	if after.Status != StatusRunning || after.Stage != "searching" {
		t.Errorf("fresh snapshot = %q/%q, want running/searching", after.Status, after.Stage)
	}

	// Writes through a snapshot must not leak into the manager
	after.Status = StatusFailed
	again, _ := jm.GetJob(created.ID)
	if again.Status != StatusRunning {
		t.Errorf("snapshot write leaked into manager: %q", again.Status)
	}

	listed := jm.ListJobs()
	if len(listed) != 1 {
		t.Fatalf("expected 1 job, got %d", len(listed))
	}
	listed[0].Stage = "tampered"
	again, _ = jm.GetJob(created.ID)
	if again.Stage != "searching" {
		t.Errorf("list snapshot write leaked into manager: %q", again.Stage)
	}
}

func TestJobListenerReceivesSnapshot(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("https://youtu.be/abc")

	ch := jm.Subscribe(job.ID)
	defer jm.Unsubscribe(job.ID, ch)

	jm.UpdateJob(job.ID, func(j *Job) { j.Stage = "searching" })
	first := <-ch

	jm.UpdateJob(job.ID, func(j *Job) { j.Stage = "extracting" })
	second := <-ch

	if first.Stage != "searching" {
		t.Errorf("first update stage = %q, later mutation visible through channel", first.Stage)
	}
	if second.Stage != "extracting" {
		t.Errorf("second update stage = %q", second.Stage)
	}
}

func TestJobNotFound(t *testing.T) {
	jm := NewJobManager()
	if _, err := jm.GetJob("nope"); err == nil {
		t.Error("expected error for unknown job")
	}
	if err := jm.UpdateJob("nope", func(j *Job) {}); err == nil {
		t.Error("expected error updating unknown job")
	}
}

func TestJobSubscribe(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob("https://youtu.be/abc")

	ch := jm.Subscribe(job.ID)
	defer jm.Unsubscribe(job.ID, ch)

	jm.UpdateJob(job.ID, func(j *Job) { j.Stage = "searching" })

	select {
	case updated := <-ch:
		if updated.Stage != "searching" {
			t.Errorf("stage = %q", updated.Stage)
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestJobPrune(t *testing.T) {
	jm := NewJobManager()

	old := jm.CreateJob("https://youtu.be/old")
	jm.UpdateJob(old.ID, func(j *Job) { j.Status = StatusCompleted })

	// Age the completion past the retention window
	past := time.Now().Add(-2 * jobRetention)
	jm.mu.Lock()
	jm.jobs[old.ID].CompletedAt = &past
	jm.mu.Unlock()

	jm.CreateJob("https://youtu.be/new")

	if _, err := jm.GetJob(old.ID); err == nil {
		t.Error("expected old completed job to be pruned")
	}
	if len(jm.ListJobs()) != 1 {
		t.Errorf("expected 1 surviving job, got %d", len(jm.ListJobs()))
	}
}
