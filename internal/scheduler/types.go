package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "America/New_York"
}

// Job is a scheduled unit of work. ctx carries the per-run timeout.
type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron spec, or "@every <d>" for intervals
	every   time.Duration
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

type Snapshot struct {
	Timezone  string         `json:"timezone"`
	Running   bool           `json:"running"`
	Schedules []ScheduleInfo `json:"schedules"`
	Once      []ScheduleInfo `json:"once"`
}

// EventRun is published on the bus after every run. Data is a RunEvent.
const EventRun = "scheduler.run"

// RunEvent is the EventRun payload.
type RunEvent struct {
	Name  string        `json:"name"`
	Took  time.Duration `json:"took"`
	Error string        `json:"error,omitempty"`
}
